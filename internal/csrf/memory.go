// Package csrf implements in-memory CSRF token storage
package csrf

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a process-local map. Suitable for
// single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
}

// NewMemoryStore creates an empty in-memory CSRF token store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]time.Time)}
}

// SaveToken stores a token with expiry
func (s *MemoryStore) SaveToken(_ context.Context, token string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = time.Now().Add(expiresIn)

	// Opportunistic cleanup of expired entries
	now := time.Now()
	for t, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, t)
		}
	}
	return nil
}

// ValidateToken checks that a token exists and has not expired
func (s *MemoryStore) ValidateToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.tokens[token]
	if !exists || time.Now().After(expiry) {
		delete(s.tokens, token)
		return ErrInvalidToken
	}
	return nil
}

// CheckHealth always succeeds for the in-memory store
func (s *MemoryStore) CheckHealth(_ context.Context) error {
	return nil
}
