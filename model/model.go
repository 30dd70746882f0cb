package model

import (
	"context"

	"github.com/evercare/fhirpath"
)

// Model pairs a release's Schema with the fhirpath namespace/type-hierarchy
// context it projects, so callers build it once per FHIR release and reuse
// it across every evaluation against that release.
type Model struct {
	Schema *Schema
}

// New builds a Model from a loaded Schema.
func New(schema *Schema) *Model {
	return &Model{Schema: schema}
}

// Context installs this model's type hierarchy and "FHIR" namespace into
// ctx, so unqualified type specifiers in `is`/`as`/`ofType` resolve against
// this release before falling back to System.*.
//
// Mirrors the per-release r4.Context()/r5.Context() constructors a
// generated FHIR model would expose, but built from Schema data instead of
// compiled-in type tables.
func (m *Model) Context(ctx context.Context) context.Context {
	if m == nil || m.Schema == nil {
		return fhirpath.WithNamespace(ctx, "FHIR")
	}
	types := make([]fhirpath.TypeInfo, 0, len(m.Schema.Type2Parent))
	for name, parent := range m.Schema.Type2Parent {
		base := fhirpath.TypeSpecifier{Namespace: "System", Name: "Any"}
		if parent != "" {
			base = fhirpath.TypeSpecifier{Namespace: "FHIR", Name: parent}
		}
		types = append(types, fhirpath.SimpleTypeInfo{Namespace: "FHIR", Name: name, BaseType: base})
	}
	ctx = fhirpath.WithTypes(ctx, types)
	return fhirpath.WithNamespace(ctx, "FHIR")
}

// Root wraps a decoded FHIR resource (the result of json.Unmarshal into
// `any`) as the root ResourceNode for evaluation against this model.
func (m *Model) Root(data any) ResourceNode {
	return NewResourceNode(m.Schema, data)
}
