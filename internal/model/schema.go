package model

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema is a JSON Schema document describing one entity kind
type Schema struct {
	kind       Kind
	raw        []byte
	properties map[string]struct{}
	required   []string
}

var schemas = map[Kind]*Schema{}

func init() {
	for _, kind := range []Kind{KindJurisdiction, KindOrganization, KindBill, KindVoteEvent, KindEvent} {
		s, err := loadSchema(kind)
		if err != nil {
			panic(err)
		}
		schemas[kind] = s
	}
}

func loadSchema(kind Kind) (*Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", kind, err)
	}

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", kind, err)
	}

	props := make(map[string]struct{}, len(doc.Properties))
	for name := range doc.Properties {
		props[name] = struct{}{}
	}

	return &Schema{kind: kind, raw: raw, properties: props, required: doc.Required}, nil
}

// SchemaFor returns the schema registered for kind
func SchemaFor(kind Kind) *Schema {
	s, ok := schemas[kind]
	if !ok {
		panic(fmt.Sprintf("no schema for kind %q", kind))
	}
	return s
}

// Kind returns the entity kind this schema describes
func (s *Schema) Kind() Kind {
	return s.kind
}

// Raw returns the JSON Schema document
func (s *Schema) Raw() []byte {
	return s.raw
}

// Has reports whether field is a declared property
func (s *Schema) Has(field string) bool {
	_, ok := s.properties[field]
	return ok
}

// Properties returns the declared property names, sorted
func (s *Schema) Properties() []string {
	names := make([]string, 0, len(s.properties))
	for name := range s.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required returns the properties that must be present
func (s *Schema) Required() []string {
	return s.required
}
