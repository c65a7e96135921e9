// Package deviceflow implements device and user code generation
package deviceflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/wrale/oauth2-device-server/internal/validation"
)

// newRecordID generates the storage identifier for a new record
func newRecordID() string {
	return uuid.NewString()
}

// DeviceCodeBytes is the entropy of generated device codes. 32 random
// bytes (256 bits) hex encode to 64 characters.
const DeviceCodeBytes = 32

// DefaultUserCodeLength is the default user code length excluding the
// display separator.
const DefaultUserCodeLength = 8

// Generator produces short human-typable user codes from a restricted
// alphabet. Generation is pure; uniqueness against active records is the
// caller's responsibility.
type Generator struct {
	length  int
	charset []rune
}

// NewGenerator creates a user code generator. A zero length or empty
// charset falls back to the defaults (length 8, validation.Charset).
func NewGenerator(length int, charset string) *Generator {
	if length <= 0 {
		length = DefaultUserCodeLength
	}
	if charset == "" {
		charset = validation.Charset
	}
	return &Generator{
		length:  length,
		charset: []rune(charset),
	}
}

// Generate returns a new user code in normalized form (no separator).
// Use validation.FormatCode for the display format.
func (g *Generator) Generate() (string, error) {
	code := make([]rune, g.length)
	for i := range code {
		c, err := selectRandomChar(g.charset)
		if err != nil {
			return "", fmt.Errorf("generating user code: %w", err)
		}
		code[i] = c
	}
	return string(code), nil
}

// generateSecureCode generates a cryptographically secure random code of
// n bytes, hex encoded.
func generateSecureCode(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// selectRandomChar selects a random character from the set without
// modulo bias.
func selectRandomChar(available []rune) (rune, error) {
	availLen := len(available)
	maxNeeded := 256 - (256 % availLen)

	for {
		b := make([]byte, 1)
		if _, err := rand.Read(b); err != nil {
			return 0, fmt.Errorf("generating random byte: %w", err)
		}

		// Reject values that would cause modulo bias
		if int(b[0]) >= maxNeeded {
			continue
		}

		return available[int(b[0])%availLen], nil
	}
}
