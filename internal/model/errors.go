package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownField is returned when a field outside the schema is set
	ErrUnknownField = errors.New("unknown field")

	// ErrReadOnlyField is returned for schema fields that are computed, not stored
	ErrReadOnlyField = errors.New("read-only field")

	// ErrFieldType is returned when a value cannot be stored in the field's type
	ErrFieldType = errors.New("field type mismatch")

	// ErrDuplicateLink is returned by DuplicateError link additions
	ErrDuplicateLink = errors.New("duplicate link")
)

// ValidationError lists every schema violation found on one entity
type ValidationError struct {
	Kind       Kind
	ID         string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s %s failed: \n\t%s", e.Kind, e.ID, strings.Join(e.Violations, "\n\t"))
}
