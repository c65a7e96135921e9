// Package csrf implements Redis-backed CSRF token storage
package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "csrf:"

// RedisStore implements Store using Redis
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed CSRF token store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// SaveToken stores a token with expiry
func (s *RedisStore) SaveToken(ctx context.Context, token string, expiresIn time.Duration) error {
	if err := s.client.Set(ctx, tokenPrefix+token, "1", expiresIn).Err(); err != nil {
		return fmt.Errorf("saving csrf token: %w", err)
	}
	return nil
}

// ValidateToken checks that a token exists; Redis expiry handles TTL
func (s *RedisStore) ValidateToken(ctx context.Context, token string) error {
	if err := s.client.Get(ctx, tokenPrefix+token).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidToken
		}
		return fmt.Errorf("validating csrf token: %w", err)
	}
	return nil
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("csrf store health check failed: %w", err)
	}
	return nil
}
