package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the type tag carried by every entity
type Kind string

const (
	KindJurisdiction Kind = "jurisdiction"
	KindOrganization Kind = "organization"
	KindBill         Kind = "bill"
	KindVoteEvent    Kind = "vote_event"
	KindEvent        Kind = "event"
)

// Entity is a schema-bound unit of collected data
type Entity interface {
	// ID returns the identifier assigned at creation
	ID() string

	// Kind returns the entity type tag
	Kind() Kind

	// Schema returns the schema the entity's fields are validated against
	Schema() *Schema

	// Related returns owned child entities, persisted after their owner
	Related() []Entity

	// PreSave is called once, immediately before the entity is persisted
	PreSave(j *Jurisdiction)
}

// SessionScoped is implemented by entities that belong to a legislative session
type SessionScoped interface {
	Entity
	Session() string
	NaturalID() string
}

// Base carries the identity, ownership tree and extras shared by all entities
type Base struct {
	id      string
	related []Entity

	Extras map[string]any `json:"extras,omitempty"`
}

func newBase() Base {
	return Base{
		id:     uuid.Must(uuid.NewUUID()).String(),
		Extras: make(map[string]any),
	}
}

// ID returns the entity identifier
func (b *Base) ID() string {
	return b.id
}

// Related returns the owned children in insertion order
func (b *Base) Related() []Entity {
	return b.related
}

// Own attaches children that are persisted after this entity
func (b *Base) Own(children ...Entity) {
	for _, c := range children {
		if c != nil {
			b.related = append(b.related, c)
		}
	}
}

func (b *Base) base() *Base {
	return b
}

// PreSave is a no-op for entities without scrape metadata
func (b *Base) PreSave(*Jurisdiction) {}

// Fields materializes the entity's field map, including "_id"
func Fields(e Entity) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.Kind(), err)
	}
	fields["_id"] = e.ID()

	return fields, nil
}

// Set assigns a field by its schema name. Names absent from the schema are
// rejected before the value is looked at.
func Set(e Entity, field string, value any) error {
	if !e.Schema().Has(field) {
		return fmt.Errorf("%w: property %q not in %s schema", ErrUnknownField, field, e.Kind())
	}
	if strings.HasPrefix(field, "_") {
		return fmt.Errorf("%w: %q", ErrReadOnlyField, field)
	}

	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("set %s: entity must be a struct pointer, got %T", field, e)
	}

	fv, ok := fieldByJSONName(rv.Elem(), field)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrReadOnlyField, field, e.Kind())
	}

	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	val := reflect.ValueOf(value)
	switch {
	case val.Type().AssignableTo(fv.Type()):
		fv.Set(val)
	case val.Kind() == fv.Kind() && val.Type().ConvertibleTo(fv.Type()):
		fv.Set(val.Convert(fv.Type()))
	default:
		return fmt.Errorf("%w: %s.%s wants %s, got %T", ErrFieldType, e.Kind(), field, fv.Type(), value)
	}

	return nil
}

// fieldByJSONName finds the settable struct field encoded under name,
// descending into embedded structs
func fieldByJSONName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}

		if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct {
			if fv, ok := fieldByJSONName(v.Field(i), name); ok {
				return fv, true
			}
			continue
		}

		if tag == name || (tag == "" && sf.Name == name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Decode builds an entity of the given kind from JSON, rejecting fields the
// schema does not declare
func Decode(kind Kind, data []byte) (Entity, error) {
	var e Entity
	switch kind {
	case KindOrganization:
		e = NewOrganization("", "")
	case KindBill:
		e = NewBill("", "", "")
	case KindVoteEvent:
		e = NewVoteEvent("", "", "")
	case KindEvent:
		e = NewEvent("", time.Time{})
	default:
		return nil, fmt.Errorf("decode: unsupported kind %q", kind)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	for key := range probe {
		if !e.Schema().Has(key) {
			return nil, fmt.Errorf("%w: property %q not in %s schema", ErrUnknownField, key, kind)
		}
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if raw, ok := probe["_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			adoptID(e, id)
		}
	}
	return e, nil
}

func adoptID(e Entity, id string) {
	type based interface{ base() *Base }
	if b, ok := e.(based); ok {
		b.base().id = id
	}
}

// OutputName is the deterministic local file name for an entity
func OutputName(e Entity) string {
	return strings.ReplaceAll(fmt.Sprintf("%s_%s.json", e.Kind(), e.ID()), "/", "-")
}
