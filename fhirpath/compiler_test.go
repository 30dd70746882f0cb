package fhirpath

import "testing"

func TestCompileCachesBySourceText(t *testing.T) {
	ResetCompileCache()

	first, err := Compile("Patient.name.given")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := Compile("Patient.name.given")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first.tree != second.tree {
		t.Errorf("expected the second Compile of identical source text to reuse the cached parse tree")
	}

	other, err := Compile("Patient.name.family")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if other.tree == first.tree {
		t.Errorf("expected distinct source text to produce a distinct parse tree")
	}
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	ResetCompileCache()

	if _, err := Compile("Patient..name"); err == nil {
		t.Fatalf("expected a syntax error for malformed source text")
	}
}

func TestCompileRejectsWrongArityAtCompileTime(t *testing.T) {
	ResetCompileCache()

	if _, err := Compile("Patient.name.where()"); err == nil {
		t.Fatalf("expected Compile to reject where() called with no predicate")
	}
	if _, err := Compile("Patient.name.substring(1, 2, 3)"); err == nil {
		t.Fatalf("expected Compile to reject substring() called with 3 arguments")
	}
}

func TestTypesReportsPerElementTypeInfo(t *testing.T) {
	result := Collection{String("hello"), Integer(1)}
	types := Types(result)
	if len(types) != 2 {
		t.Fatalf("expected 2 TypeInfo entries, got %d", len(types))
	}
	for i, ti := range types {
		name, ok := ti.QualifiedName()
		if !ok {
			t.Errorf("entry %d: expected a qualified name", i)
		}
		if name.Name == "" {
			t.Errorf("entry %d: expected a non-empty type name", i)
		}
	}
}
