package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports blank or zero-valued required fields. It is
// caller-correctable and surfaced before any store lookup.
type ValidationError struct {
	Fields []string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("missing or blank required field(s): %s", strings.Join(e.Fields, ", "))
}

// NewValidationError builds a ValidationError for the given field names.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}
