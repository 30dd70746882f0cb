package fhirpath

import "testing"

func TestCompileCachedRegexReusesCompiledPattern(t *testing.T) {
	first, err := compileCachedRegex("(?s)^a.b$")
	if err != nil {
		t.Fatalf("compileCachedRegex: %v", err)
	}
	second, err := compileCachedRegex("(?s)^a.b$")
	if err != nil {
		t.Fatalf("compileCachedRegex: %v", err)
	}
	if first != second {
		t.Errorf("expected the same *regexp.Regexp pointer for identical patterns")
	}
	if !first.MatchString("a\nb") {
		t.Errorf("expected (?s) dotAll mode to match newlines")
	}
}

func TestCompileCachedRegexInvalidPattern(t *testing.T) {
	if _, err := compileCachedRegex("(unterminated"); err == nil {
		t.Fatalf("expected an error for an invalid regular expression")
	}
}
