package deviceflow

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the device flow manager
type Option func(*Flow)

// WithExpiryDuration sets the device code lifetime
func WithExpiryDuration(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.expiryDuration = d
		}
	}
}

// WithPollInterval sets the minimum polling interval reported to and
// enforced on devices, per RFC 8628 section 3.5
func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithSlowDownIncrement sets how much a record's interval grows each
// time the device violates it
func WithSlowDownIncrement(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.slowDownIncrement = d
		}
	}
}

// WithUserCodeGenerator replaces the user code generator
func WithUserCodeGenerator(g *Generator) Option {
	return func(f *Flow) {
		if g != nil {
			f.generator = g
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock replaces the time source. Tests use this to drive interval
// and expiry checks deterministically.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}
