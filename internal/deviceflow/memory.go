// Package deviceflow implements in-memory device code storage
package deviceflow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with process-local maps. It is intended
// for development and tests; state is lost on restart.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*DeviceCodeRecord // device code -> record
	userCodes map[string]string            // normalized user code -> device code
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*DeviceCodeRecord),
		userCodes: make(map[string]string),
		now:       time.Now,
	}
}

// Create persists a new record, enforcing code uniqueness among active
// records.
func (s *MemoryStore) Create(_ context.Context, record *DeviceCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.DeviceCode]; exists {
		return ErrDuplicateCode
	}
	if deviceCode, exists := s.userCodes[record.UserCode]; exists {
		// A user code may be reused once its previous record expired
		if prior, ok := s.records[deviceCode]; ok && !prior.ExpiredAt(s.now()) {
			return ErrDuplicateCode
		}
	}

	s.records[record.DeviceCode] = record.clone()
	s.userCodes[record.UserCode] = record.DeviceCode
	return nil
}

// GetByDeviceCode retrieves a record, expired or not
func (s *MemoryStore) GetByDeviceCode(_ context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[deviceCode]
	if !exists {
		return nil, nil
	}
	return record.clone(), nil
}

// GetByUserCode retrieves an active record by normalized user code;
// expired records behave as not found.
func (s *MemoryStore) GetByUserCode(_ context.Context, userCode string) (*DeviceCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, exists := s.userCodes[userCode]
	if !exists {
		return nil, nil
	}
	record, exists := s.records[deviceCode]
	if !exists || record.ExpiredAt(s.now()) {
		return nil, nil
	}
	return record.clone(), nil
}

// Update persists mutations with optimistic concurrency on the version
func (s *MemoryStore) Update(_ context.Context, record *DeviceCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[record.DeviceCode]
	if !exists {
		return ErrNotFound
	}
	if stored.Version != record.Version {
		return ErrStaleRecord
	}

	record.Version++
	updated := record.clone()
	// Consumption is owned by Consume; never unset it through Update
	updated.Consumed = updated.Consumed || stored.Consumed
	s.records[record.DeviceCode] = updated
	return nil
}

// Consume atomically claims the consumed flag
func (s *MemoryStore) Consume(_ context.Context, deviceCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[deviceCode]
	if !exists {
		return false, ErrNotFound
	}
	if record.Consumed {
		return false, nil
	}
	record.Consumed = true
	record.Version++
	return true, nil
}

// DeleteExpiredBefore removes records whose expiry is before the cutoff
func (s *MemoryStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for deviceCode, record := range s.records {
		if record.ExpiresAt.Before(cutoff) {
			delete(s.records, deviceCode)
			if s.userCodes[record.UserCode] == deviceCode {
				delete(s.userCodes, record.UserCode)
			}
			removed++
		}
	}
	return removed, nil
}

// CheckHealth always succeeds for the in-memory store
func (s *MemoryStore) CheckHealth(_ context.Context) error {
	return nil
}
