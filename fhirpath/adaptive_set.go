package fhirpath

import "encoding/json"

// adaptiveSet is the shared distinctness/membership strategy behind
// distinct, isDistinct, union, intersect, exclude, subsetOf and repeat's
// fixed-point deduplication: plain O(n) deep-equal scans below a small
// threshold, or when any member is a primitive value (Equal's coercion
// rules are too subtle to hash safely), and a canonicalized-hash lookup
// once the pool is larger and made entirely of non-primitive elements.
type adaptiveSet struct {
	useHash bool
	hashes  map[string]bool
	items   Collection
}

// adaptiveSetThreshold is the pool size above which hashing replaces
// pairwise comparison, once every member is non-primitive.
const adaptiveSetThreshold = 6

// newAdaptiveAccumulator decides the strategy from sizeHint the same way
// newAdaptiveSet does, but starts empty, for building a result up one
// element at a time (distinct, repeat's visited set) rather than testing
// membership against a fixed pool.
func newAdaptiveAccumulator(sizeHint Collection) *adaptiveSet {
	s := &adaptiveSet{useHash: len(sizeHint) > adaptiveSetThreshold && !anyPrimitive(sizeHint)}
	if s.useHash {
		s.hashes = make(map[string]bool, len(sizeHint))
	}
	return s
}

func newAdaptiveSet(pool Collection) *adaptiveSet {
	s := &adaptiveSet{useHash: len(pool) > adaptiveSetThreshold && !anyPrimitive(pool)}
	if !s.useHash {
		s.items = pool
		return s
	}
	s.hashes = make(map[string]bool, len(pool))
	for _, elem := range pool {
		if key, ok := canonicalHash(elem); ok {
			s.hashes[key] = true
		} else {
			// An element that can't be hashed forces the fallback for the
			// whole set rather than silently dropping it from comparison.
			s.useHash = false
			s.items = pool
			s.hashes = nil
			return s
		}
	}
	return s
}

// Contains reports whether elem is deep-equal (per FHIRPath equality) to
// some member of the set's original pool.
func (s *adaptiveSet) Contains(elem Element) bool {
	if s.useHash {
		key, ok := canonicalHash(elem)
		return ok && s.hashes[key]
	}
	for _, item := range s.items {
		if eq, ok := elem.Equal(item); ok && eq {
			return true
		}
	}
	return false
}

// Add folds elem into the set, for building up a result incrementally
// (distinct, repeat's visited set). Returns true if elem was not already
// present and was added.
func (s *adaptiveSet) Add(elem Element) bool {
	if s.Contains(elem) {
		return false
	}
	if s.useHash {
		key, _ := canonicalHash(elem)
		s.hashes[key] = true
	} else {
		s.items = append(s.items, elem)
	}
	return true
}

// anyPrimitive reports whether any element of c is a FHIRPath primitive
// (as opposed to a complex/resource element), per §4.4's "any primitive
// forces deep-equal" rule.
func anyPrimitive(c Collection) bool {
	for _, elem := range c {
		switch elem.(type) {
		case Boolean, String, Integer, Long, Decimal, Date, Time, DateTime, Quantity:
			return true
		}
	}
	return false
}

// canonicalHash produces a stable, order-independent string key for a
// non-primitive element, via its own canonical JSON encoding (sorted
// object keys, already normalized by the element's MarshalJSON). Elements
// that don't marshal to JSON can't be hashed and fall back to deep-equal.
func canonicalHash(elem Element) (string, bool) {
	marshaler, ok := elem.(json.Marshaler)
	if !ok {
		return "", false
	}
	data, err := marshaler.MarshalJSON()
	if err != nil {
		return "", false
	}
	return string(data), true
}
