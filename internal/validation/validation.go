// Package validation provides user code validation utilities for the device flow
package validation

import (
	"fmt"
	"strings"
)

// Validation settings per RFC 8628 section 6.1
const (
	MinLength = 6  // Minimum code length excluding separator
	MaxLength = 10 // Maximum code length excluding separator
)

// Charset contains the characters permitted in user codes. Visually
// ambiguous characters (0/O, 1/I/L) are excluded so codes survive
// transcription from a TV screen to a phone keyboard.
const Charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Error represents a user code validation failure
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid user code %q: %s", e.Code, e.Message)
}

// ValidateUserCode checks that a user code has a valid length and uses
// only characters from the restricted charset. The code may be supplied
// in display format (with a separator) or normalized.
func ValidateUserCode(code string) error {
	normalized := NormalizeCode(code)

	if len(normalized) < MinLength || len(normalized) > MaxLength {
		return &Error{
			Code:    code,
			Message: fmt.Sprintf("length must be between %d and %d characters", MinLength, MaxLength),
		}
	}

	for _, c := range normalized {
		if !strings.ContainsRune(Charset, c) {
			return &Error{
				Code:    code,
				Message: "code contains characters outside the allowed charset",
			}
		}
	}

	return nil
}

// NormalizeCode converts a user code to canonical lookup format:
// uppercase with separators and surrounding whitespace removed.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// FormatCode converts a normalized code to display format by inserting
// a separator at the midpoint (e.g. "ABCDEFGH" -> "ABCD-EFGH").
func FormatCode(code string) string {
	if len(code) < MinLength {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
