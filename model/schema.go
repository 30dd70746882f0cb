package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScoreConfig carries the Structured Data Capture scoring metadata that
// drives the weight() and ordinal() extension functions. Releases without
// SDC support leave this nil.
type ScoreConfig struct {
	ExtensionURI []string `json:"extensionURI"`
	PropertyURI  string   `json:"propertyURI"`
	Version      string   `json:"version"`
}

// Schema is the per-FHIR-release structural metadata the projection layer
// needs to navigate a document: which paths are choice types, which paths
// alias a shared element definition, and the type hierarchy.
//
// It is generated once from a release's StructureDefinitions and persisted
// as JSON (see § Model data layout); Load reads that JSON back in.
type Schema struct {
	Release string `json:"release"`

	// ChoiceTypePaths maps a choice-type base path (e.g. "Observation.value")
	// to the ordered list of concrete suffixes that may follow it in the
	// wire format (e.g. "Quantity", "CodeableConcept", "string").
	ChoiceTypePaths map[string][]string `json:"choiceTypePaths"`

	// PathsDefinedElsewhere canonicalizes a recursive or reused path onto
	// the path whose element definition actually applies, e.g.
	// "Questionnaire.item.item" -> "Questionnaire.item".
	PathsDefinedElsewhere map[string]string `json:"pathsDefinedElsewhere"`

	// Type2Parent is the FHIR type hierarchy: a type name maps to its base
	// type name, terminating at a System.* primitive or "Element"/"Base".
	Type2Parent map[string]string `json:"type2Parent"`

	// Path2Type maps a concrete element path to its FHIR type name.
	Path2Type map[string]string `json:"path2Type"`

	// Path2TypeWithoutElements is Path2Type compacted to the paths that
	// matter for type resolution of top-level resources, dropping entries
	// only reachable through choice-type probing.
	Path2TypeWithoutElements map[string]string `json:"path2TypeWithoutElements"`

	Score *ScoreConfig `json:"score,omitempty"`
}

// Load parses a Schema from its persisted JSON form.
func Load(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("model: parse schema: %w", err)
	}
	return &s, nil
}

// CanonicalPath resolves pathsDefinedElsewhere aliasing for path, returning
// path unchanged if no alias applies.
func (s *Schema) CanonicalPath(path string) string {
	if s == nil {
		return path
	}
	if canonical, ok := s.PathsDefinedElsewhere[path]; ok {
		return canonical
	}
	return path
}

// TypeOf returns the FHIR type name declared for the canonicalized path.
func (s *Schema) TypeOf(path string) (string, bool) {
	if s == nil {
		return "", false
	}
	path = s.CanonicalPath(path)
	if t, ok := s.Path2Type[path]; ok {
		return t, true
	}
	t, ok := s.Path2TypeWithoutElements[path]
	return t, ok
}

// ChoiceSuffixes returns the ordered list of concrete type suffixes that may
// back the choice-type element at path (the "[x]" base path, without the
// suffix), e.g. ChoiceSuffixes("Observation.value") -> ["Quantity", ...].
func (s *Schema) ChoiceSuffixes(path string) ([]string, bool) {
	if s == nil {
		return nil, false
	}
	suffixes, ok := s.ChoiceTypePaths[s.CanonicalPath(path)]
	return suffixes, ok
}

// ParentOf returns the declared base type of typeName, if any.
func (s *Schema) ParentOf(typeName string) (string, bool) {
	if s == nil {
		return "", false
	}
	parent, ok := s.Type2Parent[typeName]
	return parent, ok
}

// IsA reports whether typeName is child equal to or a descendant of
// ancestor in the type hierarchy.
func (s *Schema) IsA(typeName, ancestor string) bool {
	for typeName != "" {
		if strings.EqualFold(typeName, ancestor) {
			return true
		}
		parent, ok := s.ParentOf(typeName)
		if !ok {
			return false
		}
		typeName = parent
	}
	return false
}
