package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/model"
)

func validBill() *model.Bill {
	b := model.NewBill("HB 1", "193rd", "An Act relative to testing")
	b.AddSource("https://malegislature.gov/Bills/193/H1", "")
	b.PreSave(model.NewJurisdiction("MA"))
	return b
}

func TestValidator_ValidBill(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(validBill()))
}

func TestValidator_UnsetOptionalFieldsNotFlagged(t *testing.T) {
	v := NewValidator()
	b := model.NewBill("HB 1", "193rd", "")
	assert.NoError(t, v.Validate(b))
}

func TestValidator_EnumeratesEveryViolation(t *testing.T) {
	v := NewValidator()
	b := validBill()
	b.Identifier = ""
	b.AddSource("not a url", "")
	b.AddSponsorship("Someone", "primary", "robot", true)

	err := v.Validate(b)
	require.Error(t, err)

	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, model.KindBill, verr.Kind)
	assert.Equal(t, b.ID(), verr.ID)
	assert.GreaterOrEqual(t, len(verr.Violations), 3)
}

func TestValidator_DateAndDateTimeAreDistinct(t *testing.T) {
	v := NewValidator()

	b := validBill()
	b.AddAction("Filed", model.NewDate(2023, time.January, 19), "lower")
	require.NoError(t, v.Validate(b))

	e := model.NewEvent("Hearing", time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC))
	e.AddSource("https://malegislature.gov/Events/Hearings/1", "")
	require.NoError(t, v.Validate(e))

	// An action without a date encodes as "" and fails the date format
	b.Actions = append(b.Actions, model.Action{Description: "x"})
	assert.Error(t, v.Validate(b))
}

func TestURIFormat(t *testing.T) {
	tests := []struct {
		input string
		uri   bool
		blank bool
	}{
		{"https://example.org/a", true, true},
		{"http://example.org", true, true},
		{"ftp://files.example.org/x", true, true},
		{"", false, true},
		{"example.org", false, false},
		{"mailto:a@example.org", false, false},
		{"https://", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.uri, uriFormat{}.IsFormat(tt.input))
			assert.Equal(t, tt.blank, uriFormat{allowBlank: true}.IsFormat(tt.input))
		})
	}
}

func TestValidator_BlankURIInVersions(t *testing.T) {
	v := NewValidator()
	b := validBill()
	_, err := b.AddVersionLink("Filed", "", "text/html")
	require.NoError(t, err)
	assert.NoError(t, v.Validate(b))

	b.Sources = append(b.Sources, model.Link{URL: ""})
	assert.Error(t, v.Validate(b))
}

func TestValidator_Jurisdiction(t *testing.T) {
	v := NewValidator()
	j := model.NewJurisdiction("MA", model.LegislativeSession{Identifier: "193rd", Name: "193rd General Court", Classification: "primary", StartDate: "2023-01-04", Active: true})
	assert.NoError(t, v.Validate(j))
	for _, org := range j.Organizations() {
		assert.NoError(t, v.Validate(org))
	}
}
