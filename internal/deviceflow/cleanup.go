// Package deviceflow implements expiry cleanup for device code records
package deviceflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// DefaultSweepInterval is how often the sweeper runs
	DefaultSweepInterval = 10 * time.Minute

	// DefaultRetention is how long records are kept past expiry for
	// audit before removal. The margin also guarantees the sweeper
	// never races an in-flight poll of a still-valid record.
	DefaultRetention = 24 * time.Hour

	// sweepMaxTries bounds retries of a failing sweep pass
	sweepMaxTries = 5
)

// Sweeper periodically removes device code records that expired longer
// than the retention window ago. It only ever touches terminal records,
// so it races harmlessly with active polling of other codes.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	onSweep   func(removed int)
	now       func() time.Time
}

// SweeperOption configures the sweeper
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper runs
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetention sets how long expired records are retained for audit
func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepLogger sets the structured logger
func WithSweepLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnSweep registers a callback invoked with the number of records
// removed by each pass. Used to feed metrics.
func WithOnSweep(fn func(removed int)) SweeperOption {
	return func(s *Sweeper) {
		s.onSweep = fn
	}
}

// WithSweepClock replaces the time source, for tests
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a cleanup sweeper for the given store
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		interval:  DefaultSweepInterval,
		retention: DefaultRetention,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a ticker until the context is cancelled. The first
// sweep happens after one interval, not immediately.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep runs one cleanup pass, retrying transient store errors with
// exponential backoff.
func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention)

	removed, err := backoff.Retry(ctx, func() (int, error) {
		return s.store.DeleteExpiredBefore(ctx, cutoff)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(sweepMaxTries),
	)
	if err != nil {
		return err
	}

	if removed > 0 {
		s.logger.Info("removed expired device code records",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return nil
}
