// Package schema is the pluggable per-tablet schema check the committer
// runs against every write in commit order, surfaced as ferrors.BadRequest
// on violation rather than failing the whole batch silently or, worse,
// committing a document that violates its own table's shape.
package schema

import (
	"fmt"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
)

// FieldType constrains one object field's value kind. KindNull is always
// permitted regardless of FieldType, since the field model allows sparse
// documents — a missing or explicitly null field is never itself a schema
// violation unless the field is Required.
type FieldType document.ValueKind

// Field describes one constrained field of a table's documents.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// TableSchema is the set of constrained fields for one tablet. Fields not
// listed here are unconstrained — schemas in this model are additive
// constraints layered on an otherwise-open document shape, not an
// exhaustive allowlist.
type TableSchema struct {
	Fields []Field
}

func (s TableSchema) validate(v document.Value) error {
	if v.Kind != document.KindObject {
		return ferrors.New(ferrors.BadRequest, "document must be an object, got kind %d", v.Kind)
	}
	for _, f := range s.Fields {
		val, present := v.Object[f.Name]
		if !present || val.Kind == document.KindNull {
			if f.Required {
				return ferrors.New(ferrors.BadRequest, "field %q is required", f.Name)
			}
			continue
		}
		if val.Kind != document.ValueKind(f.Type) {
			return ferrors.New(ferrors.BadRequest, "field %q: expected kind %d, got %d", f.Name, f.Type, val.Kind)
		}
	}
	return nil
}

// Registry maps tablet to TableSchema and implements committer.SchemaChecker.
// A tablet with no registered schema is unconstrained.
type Registry struct {
	schemas map[document.TabletID]TableSchema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[document.TabletID]TableSchema)}
}

// Set installs (or replaces) the schema for a tablet.
func (r *Registry) Set(tablet document.TabletID, schema TableSchema) {
	r.schemas[tablet] = schema
}

// Validate implements committer.SchemaChecker.
func (r *Registry) Validate(tablet document.TabletID, value document.Value) error {
	schema, ok := r.schemas[tablet]
	if !ok {
		return nil
	}
	if err := schema.validate(value); err != nil {
		return fmt.Errorf("schema: tablet %s: %w", tablet, err)
	}
	return nil
}
