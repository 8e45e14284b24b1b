package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonFieldNames(t reflect.Type) []string {
	var names []string
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
			names = append(names, jsonFieldNames(sf.Type)...)
			continue
		}
		if tag == "" {
			tag = sf.Name
		}
		names = append(names, tag)
	}
	return names
}

func TestSchema_CoversStructFields(t *testing.T) {
	entities := []Entity{
		NewOrganization("", ""),
		NewBill("", "", ""),
		NewVoteEvent("", "", ""),
		NewEvent("", time.Time{}),
	}

	for _, e := range entities {
		t.Run(string(e.Kind()), func(t *testing.T) {
			for _, name := range jsonFieldNames(reflect.TypeOf(e).Elem()) {
				assert.True(t, e.Schema().Has(name), "%s.%s missing from schema", e.Kind(), name)
			}
			assert.True(t, e.Schema().Has("_id"))
		})
	}
}

func TestEntity_IDStable(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")
	id := b.ID()
	require.NotEmpty(t, id)

	require.NoError(t, Set(b, "title", "An Act relative to things"))
	assert.Equal(t, id, b.ID())
	assert.NotEqual(t, id, NewBill("HB 1", "2023", "An Act").ID())
}

func TestSet_UnknownFieldFailsRegardlessOfValue(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")

	for _, v := range []any{nil, "x", 42, []string{"a"}} {
		err := Set(b, "no_such_field", v)
		assert.ErrorIs(t, err, ErrUnknownField)
	}
}

func TestSet_KnownFields(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")

	require.NoError(t, Set(b, "subject", []string{"taxes"}))
	assert.Equal(t, []string{"taxes"}, b.Subject)

	require.NoError(t, Set(b, "extras", map[string]any{"k": "v"}))
	assert.Equal(t, "v", b.Extras["k"])

	assert.ErrorIs(t, Set(b, "title", 12), ErrFieldType)
	assert.ErrorIs(t, Set(b, "_id", "abc"), ErrReadOnlyField)
}

func TestFields_IncludesID(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")
	b.AddSource("https://malegislature.gov/Bills/193/H1", "")

	fields, err := Fields(b)
	require.NoError(t, err)

	assert.Equal(t, b.ID(), fields["_id"])
	assert.Equal(t, "HB 1", fields["identifier"])
	assert.NotContains(t, fields, "scraped_at")
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(KindBill, []byte(`{"identifier":"HB 1","bogus":true}`))
	assert.ErrorIs(t, err, ErrUnknownField)

	e, err := Decode(KindBill, []byte(`{"_id":"fixed","identifier":"HB 1","legislative_session":"2023","title":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.ID())
	assert.Equal(t, "HB 1", e.(*Bill).Identifier)
}

func TestOutputName(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")
	assert.Equal(t, "bill_"+b.ID()+".json", OutputName(b))
}

func TestOwn_Related(t *testing.T) {
	b := NewBill("HB 1", "2023", "An Act")
	v := NewVoteEvent("2023", "passage", "pass")
	b.Own(v, nil)

	require.Len(t, b.Related(), 1)
	assert.Same(t, v, b.Related()[0])
}

func TestDate_JSON(t *testing.T) {
	a := Action{Description: "Filed", Date: NewDate(2023, time.January, 19)}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date":"2023-01-19"`)

	var back Action
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "2023-01-19", back.Date.String())

	_, err = ParseDate("2023-13-01")
	assert.Error(t, err)
}

func TestVoteEvent_SetCount(t *testing.T) {
	v := NewVoteEvent("2023", "passage", "pass")
	v.SetCount("yes", 10)
	v.SetCount("no", 2)
	v.SetCount("yes", 11)

	assert.Equal(t, []VoteCount{{Option: "yes", Value: 11}, {Option: "no", Value: 2}}, v.Counts)
}
