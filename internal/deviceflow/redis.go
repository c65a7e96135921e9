// Package deviceflow implements device code storage with Redis
package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	devicePrefix   = "devicecode:"
	userPrefix     = "usercode:"
	consumedPrefix = "consumed:"
)

// createScript sets the device and user code keys only if neither is
// already present, making create-with-uniqueness a single atomic step.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
return 1
`)

// updateScript replaces the stored record only when the stored version
// matches the version the caller read, preserving the key's TTL.
var updateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local rec = cjson.decode(cur)
if rec.version ~= tonumber(ARGV[2]) then
  return -2
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisStore implements Store using Redis. Records live as JSON
// documents with a TTL of lifetime plus retention, so Redis removes
// retained records by itself even if the sweeper never runs.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store. Retention controls how
// long expired records stay readable for audit before their keys lapse.
func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Create stores a new record with its user code reference
func (s *RedisStore) Create(ctx context.Context, record *DeviceCodeRecord) error {
	ttl := time.Until(record.ExpiresAt) + s.retention
	if ttl <= 0 {
		return errors.New("record has already expired past retention")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling device code record: %w", err)
	}

	keys := []string{devicePrefix + record.DeviceCode, userPrefix + record.UserCode}
	created, err := createScript.Run(ctx, s.client, keys,
		data, strconv.FormatInt(ttl.Milliseconds(), 10), record.DeviceCode).Int()
	if err != nil {
		return fmt.Errorf("saving device code record: %w", err)
	}
	if created == 0 {
		return ErrDuplicateCode
	}
	return nil
}

// GetByDeviceCode retrieves a record by device code. Records still
// inside the retention window are returned even when expired.
func (s *RedisStore) GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	return s.load(ctx, deviceCode)
}

// GetByUserCode retrieves an active record via the user code reference;
// expired records behave as not found.
func (s *RedisStore) GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+userCode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user code reference: %w", err)
	}

	record, err := s.load(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	if record == nil || record.ExpiredAt(time.Now()) {
		return nil, nil
	}
	return record, nil
}

// Update persists mutations, guarded by the record version
func (s *RedisStore) Update(ctx context.Context, record *DeviceCodeRecord) error {
	readVersion := record.Version
	record.Version++
	data, err := json.Marshal(record)
	if err != nil {
		record.Version = readVersion
		return fmt.Errorf("marshaling device code record: %w", err)
	}

	status, err := updateScript.Run(ctx, s.client,
		[]string{devicePrefix + record.DeviceCode},
		data, strconv.FormatInt(readVersion, 10)).Int()
	if err != nil {
		record.Version = readVersion
		return fmt.Errorf("updating device code record: %w", err)
	}
	switch status {
	case 1:
		return nil
	case -1:
		record.Version = readVersion
		return ErrNotFound
	default:
		record.Version = readVersion
		return ErrStaleRecord
	}
}

// Consume claims the consumed flag with SETNX on a marker key, which is
// the authoritative consumption state for Redis-backed records.
func (s *RedisStore) Consume(ctx context.Context, deviceCode string) (bool, error) {
	ttl, err := s.client.PTTL(ctx, devicePrefix+deviceCode).Result()
	if err != nil {
		return false, fmt.Errorf("getting device code ttl: %w", err)
	}
	if ttl < 0 {
		return false, ErrNotFound
	}

	won, err := s.client.SetNX(ctx, consumedPrefix+deviceCode, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consuming device code: %w", err)
	}
	return won, nil
}

// DeleteExpiredBefore removes retained records whose expiry is before
// the cutoff. Redis TTLs remove most records on their own; this sweep
// exists so shortened retention windows take effect immediately.
func (s *RedisStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, devicePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		record, err := s.load(ctx, key[len(devicePrefix):])
		if err != nil || record == nil {
			continue
		}
		if record.ExpiresAt.Before(cutoff) {
			s.client.Del(ctx,
				key,
				userPrefix+record.UserCode,
				consumedPrefix+record.DeviceCode,
			)
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning device code records: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) load(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, devicePrefix+deviceCode)
	consumed := pipe.Exists(ctx, consumedPrefix+deviceCode)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting device code record: %w", err)
	}

	data, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting device code record: %w", err)
	}

	var record DeviceCodeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling device code record: %w", err)
	}
	if consumed.Val() > 0 {
		record.Consumed = true
	}
	return &record, nil
}
