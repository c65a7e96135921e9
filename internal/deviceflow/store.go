// Package deviceflow implements the OAuth 2.0 Device Authorization Grant
// per RFC 8628: device/user code issuance, user verification, the token
// polling state machine, and expiry cleanup.
package deviceflow

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrDuplicateCode indicates the device code or user code collides
	// with a currently active record
	ErrDuplicateCode = errors.New("device or user code already active")

	// ErrNotFound indicates the record does not exist
	ErrNotFound = errors.New("device code record not found")

	// ErrStaleRecord indicates the record changed since it was read;
	// the caller should re-read and retry the update
	ErrStaleRecord = errors.New("device code record changed concurrently")
)

// Store defines the persistence interface for device code records.
//
// Implementations must support safe concurrent access across unrelated
// records and atomicity within a single record: Update uses optimistic
// concurrency on the record version, and Consume is a compare-and-set on
// the consumed flag so that exactly one concurrent poll can win.
type Store interface {
	// Create persists a new record. It fails with ErrDuplicateCode when
	// the device code or user code collides with an active record.
	Create(ctx context.Context, record *DeviceCodeRecord) error

	// GetByDeviceCode retrieves a record by device code. Returns
	// (nil, nil) when no record exists. Expired records are returned
	// so callers can distinguish expired from unknown codes.
	GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error)

	// GetByUserCode retrieves an active record by normalized user code.
	// Expired records behave as not found: (nil, nil).
	GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error)

	// Update persists record mutations. It fails with ErrNotFound when
	// the record does not exist and ErrStaleRecord when the stored
	// version no longer matches the record's version. On success the
	// record's version is bumped.
	Update(ctx context.Context, record *DeviceCodeRecord) error

	// Consume atomically sets the consumed flag if it is not already
	// set. It reports whether this caller won the flag.
	Consume(ctx context.Context, deviceCode string) (bool, error)

	// DeleteExpiredBefore removes records whose expiry is before the
	// cutoff and reports how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CheckHealth verifies the storage backend is reachable
	CheckHealth(ctx context.Context) error
}
