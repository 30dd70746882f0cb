package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/iancoleman/strcase"

	"github.com/evercare/fhirpath"
)

// ResourceNode wraps one fragment of a raw FHIR document — a resource, a
// complex element, a repeating item, or a primitive leaf — annotated with
// the schema metadata needed to navigate and type-check it.
//
// A ResourceNode borrows from the document it is built over: Data and
// Sibling alias into the caller's decoded JSON rather than copying it, and
// Parent is a diagnostic back-reference, never an ownership edge. Building
// a ResourceNode tree over a document therefore leaves that document's
// maps/slices shared with every node — callers that need a non-destructive
// evaluation must clone the document first.
type ResourceNode struct {
	Schema *Schema

	// Data is the primary JSON value at this node: map[string]any for an
	// object, []any for an unindexed repeating element, or a Go primitive
	// (bool, json.Number/float64, string) for a FHIR primitive leaf.
	Data any
	// Sibling is the "_name" companion object FHIR attaches to a primitive
	// to carry its id and extensions. Data and Sibling may each be nil but
	// never both.
	Sibling any

	// Path is the FHIR type/path of this node, e.g. "Patient.name.given".
	Path string
	// FHIRType is the model-resolved concrete FHIR type name backing this
	// node, e.g. "HumanName", or "" when Path alone resolves the type.
	FHIRType string

	Parent *ResourceNode
	// Index is this node's position within its parent's repeating field,
	// or -1 if the field does not repeat.
	Index int
}

// NewResourceNode builds the root ResourceNode for a decoded FHIR resource.
// data must be the result of unmarshaling the resource's JSON into `any`
// (so objects are map[string]any and arrays are []any).
func NewResourceNode(schema *Schema, data any) ResourceNode {
	resourceType := ""
	if m, ok := data.(map[string]any); ok {
		resourceType, _ = m["resourceType"].(string)
	}
	return ResourceNode{Schema: schema, Data: data, Path: resourceType, FHIRType: resourceType, Index: -1}
}

func (n ResourceNode) ResourceType() string {
	return n.FHIRType
}

func (n ResourceNode) ResourceID() (string, bool) {
	m, ok := n.Data.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["id"].(string)
	return id, ok
}

// Children implements fhirpath.Element navigation: the `.` path operator
// and the `children()`/`descendants()` functions.
//
// With no name given, it enumerates every named property of the node's
// data (and its sibling metadata, for extension-only fields), skipping
// "resourceType" and underscore-prefixed keys whose stripped counterpart
// is present (those are harvested as the sibling of the stripped field
// instead). With a name given, it resolves field access, choice-type
// probing, and array indexing for just that name.
func (n ResourceNode) Children(name ...string) fhirpath.Collection {
	obj, objOK := n.Data.(map[string]any)
	sibObj, sibOK := n.Sibling.(map[string]any)
	if arr, ok := n.Data.([]any); ok {
		// An unindexed repeating element: fan out over its items instead
		// of treating the array itself as a navigable object.
		var out fhirpath.Collection
		for i, item := range arr {
			child := n
			child.Data = item
			child.Parent = &n
			child.Index = i
			out = append(out, child.Children(name...)...)
		}
		return out
	}
	if !objOK && !sibOK {
		return nil
	}

	if len(name) == 1 {
		return n.child(name[0], obj, sibObj)
	}

	seen := map[string]bool{}
	var out fhirpath.Collection
	for key := range obj {
		if key == "resourceType" || strings.HasPrefix(key, "_") {
			continue
		}
		seen[key] = true
		out = append(out, n.child(key, obj, sibObj)...)
	}
	for key := range sibObj {
		stripped := strings.TrimPrefix(key, "_")
		if seen[stripped] {
			continue
		}
		if _, hasPrimary := obj[stripped]; hasPrimary {
			continue
		}
		out = append(out, n.child(stripped, obj, sibObj)...)
	}
	return out
}

// child resolves a single named field, including the choice-type probe
// described by the FHIRPath-on-FHIR model projection: when name matches a
// registered choice-type base path, each candidate suffix is tried against
// the raw keys until one is present, and the resulting node's Path becomes
// the concrete subtype (e.g. "value" -> "Observation.valueQuantity").
func (n ResourceNode) child(name string, obj, sibObj map[string]any) fhirpath.Collection {
	childPath := n.Schema.CanonicalPath(n.Path + "." + name)

	if suffixes, ok := n.Schema.ChoiceSuffixes(n.Path + "." + name); ok {
		for _, suffix := range suffixes {
			key := name + strcase.ToCamel(suffix)
			if v, present := obj[key]; present {
				return n.makeChild(key, n.Path+"."+key, suffix, v, sibObj["_"+key])
			}
			if sv, present := sibObj["_"+key]; present {
				return n.makeChild(key, n.Path+"."+key, suffix, nil, sv)
			}
		}
		return nil
	}

	fhirType, _ := n.Schema.TypeOf(childPath)
	v, hasPrimary := obj[name]
	sv, hasSibling := sibObj["_"+name]
	if !hasPrimary && !hasSibling {
		return nil
	}
	return n.makeChild(name, childPath, fhirType, v, valueOrNil(sv, hasSibling))
}

func valueOrNil(v any, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// makeChild wraps a raw field value (and its optional sibling metadata)
// into one or more ResourceNodes, fanning a JSON array out into individual
// indexed nodes since FHIRPath collections never contain nested arrays.
func (n ResourceNode) makeChild(key, path, fhirType string, data, sibling any) fhirpath.Collection {
	if arr, ok := data.([]any); ok {
		sibArr, _ := sibling.([]any)
		var out fhirpath.Collection
		for i, item := range arr {
			var sibItem any
			if i < len(sibArr) {
				sibItem = sibArr[i]
			}
			parent := n
			out = append(out, ResourceNode{
				Schema: n.Schema, Data: item, Sibling: sibItem,
				Path: path, FHIRType: fhirType, Parent: &parent, Index: i,
			})
		}
		return out
	}
	parent := n
	return fhirpath.Collection{ResourceNode{
		Schema: n.Schema, Data: data, Sibling: sibling,
		Path: path, FHIRType: fhirType, Parent: &parent, Index: -1,
	}}
}

// HasValue reports whether this node carries a primitive value, as opposed
// to only extension/id metadata on an otherwise null primitive.
func (n ResourceNode) HasValue() bool {
	return n.Data != nil
}

func (n ResourceNode) primitive() (fhirpath.Element, bool) {
	switch v := n.Data.(type) {
	case bool:
		return fhirpath.Boolean(v), true
	case string:
		switch n.FHIRType {
		case "date":
			d, err := fhirpath.ParseDate(v)
			return d, err == nil
		case "dateTime", "instant":
			dt, err := fhirpath.ParseDateTime(v)
			return dt, err == nil
		case "time":
			t, err := fhirpath.ParseTime(v)
			return t, err == nil
		default:
			return fhirpath.String(v), true
		}
	case json.Number:
		return numberPrimitive(n.FHIRType, v.String())
	case float64:
		return numberPrimitive(n.FHIRType, strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return nil, false
	}
}

func numberPrimitive(fhirType, text string) (fhirpath.Element, bool) {
	switch fhirType {
	case "integer", "unsignedInt", "positiveInt":
		n, err := strconv.ParseInt(text, 10, 32)
		return fhirpath.Integer(n), err == nil
	default:
		d, _, err := apd.NewFromString(text)
		return fhirpath.Decimal{Value: d}, err == nil
	}
}

func (n ResourceNode) ToBoolean(explicit bool) (fhirpath.Boolean, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToBoolean(explicit)
	}
	return false, false, nil
}
func (n ResourceNode) ToString(explicit bool) (fhirpath.String, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToString(explicit)
	}
	return "", false, nil
}
func (n ResourceNode) ToInteger(explicit bool) (fhirpath.Integer, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToInteger(explicit)
	}
	return 0, false, nil
}
func (n ResourceNode) ToLong(explicit bool) (fhirpath.Long, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToLong(explicit)
	}
	return 0, false, nil
}
func (n ResourceNode) ToDecimal(explicit bool) (fhirpath.Decimal, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToDecimal(explicit)
	}
	return fhirpath.Decimal{}, false, nil
}
func (n ResourceNode) ToDate(explicit bool) (fhirpath.Date, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToDate(explicit)
	}
	return fhirpath.Date{}, false, nil
}
func (n ResourceNode) ToTime(explicit bool) (fhirpath.Time, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToTime(explicit)
	}
	return fhirpath.Time{}, false, nil
}
func (n ResourceNode) ToDateTime(explicit bool) (fhirpath.DateTime, bool, error) {
	if p, ok := n.primitive(); ok {
		return p.ToDateTime(explicit)
	}
	return fhirpath.DateTime{}, false, nil
}
func firstChild(c fhirpath.Collection) fhirpath.Element {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

func (n ResourceNode) ToQuantity(explicit bool) (fhirpath.Quantity, bool, error) {
	if n.FHIRType == "Quantity" {
		value := firstChild(n.Children("value"))
		unit := firstChild(n.Children("code"))
		if unit == nil {
			unit = firstChild(n.Children("unit"))
		}
		if value != nil {
			v, ok, err := value.ToDecimal(false)
			if err != nil || !ok {
				return fhirpath.Quantity{}, false, err
			}
			u := fhirpath.String("1")
			if unit != nil {
				if s, ok, _ := unit.ToString(false); ok {
					u = s
				}
			}
			return fhirpath.Quantity{Value: v, Unit: u}, true, nil
		}
	}
	if p, ok := n.primitive(); ok {
		return p.ToQuantity(explicit)
	}
	return fhirpath.Quantity{}, false, nil
}

func (n ResourceNode) Equal(other fhirpath.Element) (bool, bool) {
	o, ok := other.(ResourceNode)
	if !ok {
		if p, ok := n.primitive(); ok {
			return p.Equal(other)
		}
		return false, false
	}
	if p, ok := n.primitive(); ok {
		if op, ok := o.primitive(); ok {
			return p.Equal(op)
		}
		return false, false
	}
	left, lok := n.Data.(map[string]any)
	right, rok := o.Data.(map[string]any)
	if !lok || !rok {
		return false, true
	}
	return deepEqualJSON(left, right), true
}

func (n ResourceNode) Equivalent(other fhirpath.Element) bool {
	eq, ok := n.Equal(other)
	return ok && eq
}

func (n ResourceNode) TypeInfo() fhirpath.TypeInfo {
	name := n.FHIRType
	if name == "" {
		name = "Element"
	}
	parent, hasParent := n.Schema.ParentOf(name)
	base := fhirpath.TypeSpecifier{Namespace: "System", Name: "Any"}
	if hasParent {
		base = fhirpath.TypeSpecifier{Namespace: "FHIR", Name: parent}
	}
	return fhirpath.SimpleTypeInfo{Namespace: "FHIR", Name: name, BaseType: base}
}

func (n ResourceNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Data)
}

func (n ResourceNode) String() string {
	if p, ok := n.primitive(); ok {
		return p.String()
	}
	b, _ := json.Marshal(n.Data)
	return string(b)
}

// deepEqualJSON is the structural equality the spec calls deepEqual:
// key order never matters, only the tree shape and leaf values do.
func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}
