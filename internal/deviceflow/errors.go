package deviceflow

import (
	"errors"
	"fmt"
)

// Flow errors returned to callers. The handler layer maps these to the
// OAuth error codes defined by RFC 8628 section 3.5.
var (
	// ErrInvalidClient indicates an unknown client or one that is not
	// eligible for the device_code grant
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidScope indicates a requested scope the client may not use
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidUserCode indicates an unknown or expired user code. The
	// two cases are deliberately conflated so the verification endpoint
	// gives no feedback about code lifetimes.
	ErrInvalidUserCode = errors.New("invalid or expired user code")

	// ErrAlreadyActioned indicates the user already approved or denied
	// this request; the approval state transitions exactly once.
	ErrAlreadyActioned = errors.New("request already approved or denied")

	// ErrInvalidGrant indicates an unknown device code, a client_id
	// mismatch, or an already consumed code
	ErrInvalidGrant = errors.New("invalid device code grant")

	// ErrExpiredCode indicates the device code is past its lifetime
	ErrExpiredCode = errors.New("device code expired")

	// ErrAccessDenied indicates the user denied the request
	ErrAccessDenied = errors.New("access denied by user")

	// ErrAuthorizationPending indicates the user has not yet acted;
	// the device should poll again after the reported interval
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrSlowDown indicates the device polled before the minimum
	// interval elapsed; the stored interval has been increased
	ErrSlowDown = errors.New("polling too frequently")
)

// SlowDownError carries the increased polling interval so the token
// endpoint can report it alongside the slow_down error code.
type SlowDownError struct {
	// Interval is the new minimum number of seconds between polls.
	Interval int
}

func (e *SlowDownError) Error() string {
	return fmt.Sprintf("polling too frequently, interval is now %ds", e.Interval)
}

// Is makes errors.Is(err, ErrSlowDown) hold for SlowDownError values.
func (e *SlowDownError) Is(target error) bool {
	return target == ErrSlowDown
}
