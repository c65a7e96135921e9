// Package csrf provides CSRF protection for the verification form
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken indicates a missing, malformed, tampered, or expired
// CSRF token
var ErrInvalidToken = errors.New("invalid csrf token")

// DefaultTokenExpiry is how long issued tokens remain valid
const DefaultTokenExpiry = 15 * time.Minute

// Store provides token storage with expiry
type Store interface {
	// SaveToken stores a token until it expires
	SaveToken(ctx context.Context, token string, expiresIn time.Duration) error

	// ValidateToken checks that a token exists and has not expired
	ValidateToken(ctx context.Context, token string) error

	// CheckHealth verifies the store is operational
	CheckHealth(ctx context.Context) error
}

// Manager generates and validates HMAC-signed single-session tokens
type Manager struct {
	store     Store
	secret    []byte
	expiresIn time.Duration
}

// NewManager creates a CSRF token manager
func NewManager(store Store, secret []byte, expiresIn time.Duration) *Manager {
	if expiresIn <= 0 {
		expiresIn = DefaultTokenExpiry
	}
	return &Manager{
		store:     store,
		secret:    secret,
		expiresIn: expiresIn,
	}
}

// GenerateToken creates, signs, and stores a new token
func (m *Manager) GenerateToken(ctx context.Context) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	fullToken := token + "." + m.sign(token)
	if err := m.store.SaveToken(ctx, fullToken, m.expiresIn); err != nil {
		return "", fmt.Errorf("saving csrf token: %w", err)
	}
	return fullToken, nil
}

// ValidateToken checks the token signature and store state
func (m *Manager) ValidateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(parts[1]), []byte(m.sign(parts[0]))) {
		return ErrInvalidToken
	}

	if err := m.store.ValidateToken(ctx, token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// CheckHealth verifies the backing store is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	return m.store.CheckHealth(ctx)
}

func (m *Manager) sign(token string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(token))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
