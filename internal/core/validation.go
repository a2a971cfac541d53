package core

import (
	"fmt"
	"strings"
)

// ValidationError represents a single invalid criteria field.
type ValidationError struct {
	Field   string // Criteria field name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Message)
	}
	return "invalid criteria: " + e.Message
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }

// errOrNil returns nil for an empty list so callers can return it directly.
func (v ValidationErrors) errOrNil() error {
	switch len(v) {
	case 0:
		return nil
	case 1:
		return v[0]
	default:
		return v
	}
}
