package fhirpath

import (
	"fmt"
	"testing"
)

func TestAdaptiveSetSmallPoolUsesDeepEqual(t *testing.T) {
	pool := Collection{String("a"), String("b"), String("c")}
	set := newAdaptiveSet(pool)
	if set.useHash {
		t.Fatalf("pool of %d primitives should not switch to hashing", len(pool))
	}
	if !set.Contains(String("a")) {
		t.Errorf("expected pool to contain %q", "a")
	}
	if set.Contains(String("z")) {
		t.Errorf("did not expect pool to contain %q", "z")
	}
}

func TestAdaptiveSetLargeNonPrimitivePoolUsesHash(t *testing.T) {
	pool := make(Collection, 0, 10)
	for i := 0; i < 10; i++ {
		pool = append(pool, resourceNodeFixture(t, i))
	}
	set := newAdaptiveSet(pool)
	if !set.useHash {
		t.Fatalf("pool of %d non-primitive elements above threshold %d should switch to hashing", len(pool), adaptiveSetThreshold)
	}
	if !set.Contains(resourceNodeFixture(t, 3)) {
		t.Errorf("expected hashed pool to contain element equivalent to index 3")
	}
	if set.Contains(resourceNodeFixture(t, 99)) {
		t.Errorf("did not expect hashed pool to contain element for index 99")
	}
}

func TestAdaptiveSetAnyPrimitiveForcesDeepEqual(t *testing.T) {
	pool := make(Collection, 0, 8)
	for i := 0; i < 7; i++ {
		pool = append(pool, resourceNodeFixture(t, i))
	}
	pool = append(pool, String("just one primitive"))
	set := newAdaptiveSet(pool)
	if set.useHash {
		t.Fatalf("a single primitive member should force deep-equal for the whole pool")
	}
}

func TestAdaptiveAccumulatorDedup(t *testing.T) {
	input := Collection{Integer(1), Integer(2), Integer(2), Integer(3), Integer(1)}
	seen := newAdaptiveAccumulator(input)
	var unique Collection
	for _, elem := range input {
		if seen.Add(elem) {
			unique = append(unique, elem)
		}
	}
	if len(unique) != 3 {
		t.Fatalf("expected 3 distinct elements, got %d: %v", len(unique), unique)
	}
}

// resourceNodeFixture returns a stand-in Element satisfying json.Marshaler
// the same way model.ResourceNode does, without importing the model
// package (which itself imports fhirpath).
type fixtureElement struct {
	id int
}

func (f fixtureElement) Children(name ...string) Collection { return nil }
func (f fixtureElement) ToBoolean(explicit bool) (Boolean, bool, error) {
	return false, false, nil
}
func (f fixtureElement) ToString(explicit bool) (String, bool, error)   { return "", false, nil }
func (f fixtureElement) ToInteger(explicit bool) (Integer, bool, error) { return 0, false, nil }
func (f fixtureElement) ToLong(explicit bool) (Long, bool, error)       { return 0, false, nil }
func (f fixtureElement) ToDecimal(explicit bool) (Decimal, bool, error) {
	return Decimal{}, false, nil
}
func (f fixtureElement) ToDate(explicit bool) (Date, bool, error)         { return Date{}, false, nil }
func (f fixtureElement) ToTime(explicit bool) (Time, bool, error)         { return Time{}, false, nil }
func (f fixtureElement) ToDateTime(explicit bool) (DateTime, bool, error) { return DateTime{}, false, nil }
func (f fixtureElement) ToQuantity(explicit bool) (Quantity, bool, error) {
	return Quantity{}, false, nil
}
func (f fixtureElement) Equal(other Element) (bool, bool) {
	o, ok := other.(fixtureElement)
	if !ok {
		return false, true
	}
	return f.id == o.id, true
}
func (f fixtureElement) Equivalent(other Element) bool {
	eq, ok := f.Equal(other)
	return ok && eq
}
func (f fixtureElement) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "FHIR", Name: "fixture"}
}
func (f fixtureElement) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"id":%d}`, f.id)), nil
}

func (f fixtureElement) String() string {
	return fmt.Sprintf("fixture(%d)", f.id)
}

func resourceNodeFixture(t *testing.T, id int) fixtureElement {
	t.Helper()
	return fixtureElement{id: id}
}
