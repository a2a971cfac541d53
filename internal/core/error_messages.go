package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// # Error Codes Reference
//
// # Source Errors (SCH, SRC)
//
//	SCH001 - Structural mismatch: a sheet does not have the expected layout
//	         Action: The file was skipped; check the round and layout
//	         Kinds: ErrStructuralMismatch
//
//	SCH002 - Unsupported layout: no schema for the requested layout or round
//	         Action: Use one of the layouts listed at /api/layouts
//	         Kinds: ErrUnsupportedLayout
//
//	SRC001 - Retrieval failed: a source file could not be downloaded or read
//	         Action: Try again later or check the source location
//	         Kinds: ErrRetrieval
//
//	SRC002 - Mirror not configured   Patterns: "mirror has no destination"
//
// # Validation Errors (VAL)
//
//	VAL001 - Invalid criteria: a round, year or category value is not valid
//	         Action: Check the filter values
//	         Kinds: ErrValidation
//
//	VAL002 - Unsupported format: unknown output format
//	         Action: Use xlsx, csv or parquet
//	         Patterns: "unsupported format"
//
//	VAL003 - Mixed layouts: one output file cannot hold both layouts
//	         Action: Extract each layout separately
//	         Patterns: "mixed layouts"
//
//	VAL004 - Invalid run ID          Patterns: "invalid run id"
//
// # Database Errors (DB)
//
//	DB001-DB007 - Record sink failures (duplicates, connectivity, timeouts)
//	DB008       - Record sink disabled: no database is configured
//
// # Extraction Errors (EXT)
//
//	EXT001 - Run not found       Patterns: "run not found"
//	EXT002 - System busy         Patterns: "too many extractions"
//	EXT003 - Run cancelled       Patterns: "extraction cancelled", "context canceled"
//	EXT004 - Run timed out       Patterns: "context deadline exceeded"
//	EXT005 - Run not finished    Patterns: "run not finished"
//
// # Rate Limiting (RATE001) and Default (ERR000)
//
// Error kinds are checked first with errors.Is. Patterns are matched
// case-insensitively using strings.Contains; the first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorKind struct {
	kind error
	msg  UserMessage
}

var errorKinds = []errorKind{
	{
		kind: ErrStructuralMismatch,
		msg: UserMessage{
			Message: "A source sheet does not have the expected layout",
			Action:  "The file was skipped; check the round and layout",
			Code:    "SCH001",
		},
	},
	{
		kind: ErrUnsupportedLayout,
		msg: UserMessage{
			Message: "The requested layout is not supported",
			Action:  "Use one of the layouts listed at /api/layouts",
			Code:    "SCH002",
		},
	},
	{
		kind: ErrRetrieval,
		msg: UserMessage{
			Message: "A source file could not be retrieved",
			Action:  "Try again later or check the source location",
			Code:    "SRC001",
		},
	},
	{
		kind: ErrValidation,
		msg: UserMessage{
			Message: "The extraction criteria are not valid",
			Action:  "Check the round, year, dosage form and care setting filters",
			Code:    "VAL001",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first matching pattern wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "unsupported format",
		msg: UserMessage{
			Message: "Unknown output format",
			Action:  "Use xlsx, csv or parquet",
			Code:    "VAL002",
		},
	},
	{
		pattern: "invalid run id",
		msg: UserMessage{
			Message: "The run ID is not valid",
			Action:  "Use the run_id returned when the extraction started",
			Code:    "VAL004",
		},
	},
	{
		pattern: "mixed layouts",
		msg: UserMessage{
			Message: "Records of different layouts cannot share one file",
			Action:  "Extract each layout separately",
			Code:    "VAL003",
		},
	},

	// Record sink
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "This extraction run was already saved",
			Action:  "Start a new extraction run",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Start a new extraction run",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced extraction run does not exist",
			Action:  "Check the run ID",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "record sink disabled",
		msg: UserMessage{
			Message: "Extraction history is not available",
			Action:  "Configure DATABASE_URL to keep extraction history",
			Code:    "DB008",
		},
	},

	// Extraction runs
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Extraction run not found",
			Action:  "The run may have expired. Please start a new extraction",
			Code:    "EXT001",
		},
	},
	{
		pattern: "too many extractions",
		msg: UserMessage{
			Message: "System is busy processing other extractions",
			Action:  "Please wait a moment and try again",
			Code:    "EXT002",
		},
	},
	{
		pattern: "extraction cancelled",
		msg: UserMessage{
			Message: "Extraction was cancelled",
			Action:  "Start a new extraction when ready",
			Code:    "EXT003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "EXT003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Extraction timed out",
			Action:  "Narrow the criteria or try again later",
			Code:    "EXT004",
		},
	},
	{
		pattern: "run not finished",
		msg: UserMessage{
			Message: "Extraction is still running",
			Action:  "Wait for the run to complete",
			Code:    "EXT005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},

	{
		pattern: "mirror has no destination",
		msg: UserMessage{
			Message: "Source mirroring is not configured",
			Action:  "Set S3_ENDPOINT to mirror source files",
			Code:    "SRC002",
		},
	},

	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Error kinds are checked first, then text patterns. If nothing matches,
// a generic fallback message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, ek := range errorKinds {
		if errors.Is(err, ek.kind) {
			return ek.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known kind or pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps a technical error to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
