package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "structural mismatch by kind",
			err:      fmt.Errorf("file 03_内服: %w", Mismatch("外来（院内）", 2, 9, "quantity: invalid number %q", "abc")),
			wantCode: "SCH001",
		},
		{
			name:     "unsupported layout by kind",
			err:      UnsupportedLayout(LayoutKind(9), 3),
			wantCode: "SCH002",
		},
		{
			name:     "retrieval wins over timeout text",
			err:      &RetrievalError{Location: "https://example.test/a.xlsx", Err: errors.New("i/o timeout")},
			wantCode: "SRC001",
		},
		{
			name:     "validation by kind",
			err:      ValidationError{Field: "round", Value: "0", Message: "round must be positive"},
			wantCode: "VAL001",
		},
		{
			name:     "aggregated validation by kind",
			err:      ValidationErrors{{Field: "round"}, {Field: "year"}},
			wantCode: "VAL001",
		},
		{
			name:     "duplicate key maps correctly",
			err:      errors.New("ERROR: duplicate key value violates unique constraint"),
			wantCode: "DB001",
		},
		{
			name:     "connection refused maps correctly",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: "DB004",
		},
		{
			name:     "too many extractions",
			err:      errors.New("too many extractions in progress"),
			wantCode: "EXT002",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("Run Not Found: abc"),
			wantCode: "EXT001",
		},
		{
			name:     "rate limit maps correctly",
			err:      errors.New("rate limit exceeded"),
			wantCode: "RATE001",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("too many extractions in progress")
	result := FormatUserError(err)

	expected := "System is busy processing other extractions (Code: EXT002). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
	if !IsUserFacing(ErrRetrieval) {
		t.Error("IsUserFacing(ErrRetrieval) = false, want true")
	}
	if IsUserFacing(errors.New("random internal error xyz")) {
		t.Error("IsUserFacing(unknown) = true, want false")
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := &RetrievalError{Location: "x", Err: errors.New("404")}
		userErr := NewUserError(techErr)

		if userErr.Error() != "A source file could not be retrieved" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrRetrieval) {
			t.Error("Unwrap() should reach the error kind")
		}
	})
}

func TestStructuralMismatchError(t *testing.T) {
	err := Mismatch("外来（院内）", 0, 11, "quantity: negative value -1")
	want := "structural mismatch in 外来（院内） row 1 column 12: quantity: negative value -1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrStructuralMismatch) {
		t.Error("errors.Is(err, ErrStructuralMismatch) = false")
	}
}
