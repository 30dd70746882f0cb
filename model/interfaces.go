// Package model implements the minimal schema-aware projection that turns a
// raw FHIR document (already decoded into Go's generic JSON shapes) into the
// typed ResourceNode values the fhirpath evaluator navigates.
//
// It intentionally does not generate per-release Go structs the way a full
// FHIR model package would: the whole point of this layer is to stay
// data-driven, so a single Schema (loaded once per FHIR release) describes
// every resource and datatype the evaluator will ever be asked to walk.
package model

import (
	"github.com/evercare/fhirpath"
)

// Element is any node the FHIRPath evaluator can operate on: a Resource, a
// complex datatype, a BackboneElement, or a primitive leaf.
type Element interface {
	fhirpath.Element
}

// Resource is a top-level FHIR document: an Element with a resourceType.
type Resource interface {
	Element
	ResourceType() string
	ResourceID() (string, bool)
}
