package validate

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ppiankov/legiscrape/internal/model"
)

var uriSchemes = []string{"http://", "https://", "ftp://", "ftps://"}

// uriFormat accepts strings starting with an allowed scheme. The blank
// variant also accepts the empty string.
type uriFormat struct {
	allowBlank bool
}

func (f uriFormat) IsFormat(input interface{}) bool {
	s, ok := input.(string)
	if !ok {
		return true
	}
	if s == "" {
		return f.allowBlank
	}

	lower := strings.ToLower(s)
	for _, scheme := range uriSchemes {
		if strings.HasPrefix(lower, scheme) {
			u, err := url.Parse(s)
			return err == nil && u.Host != ""
		}
	}
	return false
}

var registerFormats sync.Once

// Validator checks entities against their kind's schema
type Validator struct {
	mu      sync.Mutex
	schemas map[model.Kind]*gojsonschema.Schema
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	registerFormats.Do(func() {
		gojsonschema.FormatCheckers.Add("uri", uriFormat{})
		gojsonschema.FormatCheckers.Add("uri-blank", uriFormat{allowBlank: true})
	})
	return &Validator{schemas: make(map[model.Kind]*gojsonschema.Schema)}
}

func (v *Validator) compiled(s *model.Schema) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cs, ok := v.schemas[s.Kind()]; ok {
		return cs, nil
	}
	cs, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(s.Raw()))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", s.Kind(), err)
	}
	v.schemas[s.Kind()] = cs
	return cs, nil
}

// Validate checks the entity's present fields. It returns a
// *model.ValidationError listing every violation, or nil.
func (v *Validator) Validate(e model.Entity) error {
	schema, err := v.compiled(e.Schema())
	if err != nil {
		return err
	}

	fields, err := model.Fields(e)
	if err != nil {
		return fmt.Errorf("validate %s: %w", e.Kind(), err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return fmt.Errorf("validate %s: %w", e.Kind(), err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, re.String())
	}
	return &model.ValidationError{Kind: e.Kind(), ID: e.ID(), Violations: violations}
}
