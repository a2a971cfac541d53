package core

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to classify errors returned by this module.
var (
	ErrStructuralMismatch = errors.New("structural mismatch")
	ErrUnsupportedLayout  = errors.New("unsupported layout")
	ErrRetrieval          = errors.New("retrieval failed")
	ErrValidation         = errors.New("invalid criteria")
)

// StructuralMismatchError reports a grid that does not fit its schema.
// Row and Column are zero-based data coordinates; -1 means not applicable.
type StructuralMismatchError struct {
	Source string
	Row    int
	Column int
	Reason string
}

func (e *StructuralMismatchError) Error() string {
	loc := e.Source
	if e.Row >= 0 {
		loc += fmt.Sprintf(" row %d", e.Row+1)
	}
	if e.Column >= 0 {
		loc += fmt.Sprintf(" column %d", e.Column+1)
	}
	if loc == "" {
		return fmt.Sprintf("structural mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("structural mismatch in %s: %s", loc, e.Reason)
}

func (e *StructuralMismatchError) Unwrap() error { return ErrStructuralMismatch }

// Mismatch builds a StructuralMismatchError.
func Mismatch(source string, row, col int, format string, args ...any) *StructuralMismatchError {
	return &StructuralMismatchError{
		Source: source,
		Row:    row,
		Column: col,
		Reason: fmt.Sprintf(format, args...),
	}
}

// RetrievalError reports that a source file could not be obtained.
type RetrievalError struct {
	Location string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for %s: %v", e.Location, e.Err)
}

func (e *RetrievalError) Unwrap() []error { return []error{ErrRetrieval, e.Err} }

// UnsupportedLayout returns an error wrapping ErrUnsupportedLayout.
func UnsupportedLayout(kind LayoutKind, round Round) error {
	return fmt.Errorf("%w: %s for round %d", ErrUnsupportedLayout, kind, int(round))
}
