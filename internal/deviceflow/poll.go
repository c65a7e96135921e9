// Package deviceflow implements the token endpoint polling state machine
package deviceflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Poll services one device access token request per RFC 8628 section 3.4.
// The outcome is one of:
//
//   - tokens, when the user approved and this poll won the single-use
//     consumption of the record
//   - ErrAuthorizationPending while the user has not yet decided
//   - ErrSlowDown (a *SlowDownError with the raised interval) when the
//     device polled before its minimum interval elapsed
//   - ErrAccessDenied when the user denied the request
//   - ErrExpiredCode once the record is past its lifetime, regardless of
//     approval state
//   - ErrInvalidGrant for unknown codes, a client_id mismatch, or a code
//     whose approval has already been exchanged for tokens
//
// A device code is scoped to the client that initiated it; polling with
// another client_id is indistinguishable from an unknown code.
func (f *Flow) Poll(ctx context.Context, deviceCode, clientID string) (*TokenResponse, error) {
	record, err := f.store.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("getting device code record: %w", err)
	}
	if record == nil || record.ClientID != clientID {
		return nil, ErrInvalidGrant
	}

	now := f.now()
	if record.ExpiredAt(now) {
		return nil, ErrExpiredCode
	}

	switch record.State {
	case StateDenied:
		return nil, ErrAccessDenied

	case StatePending:
		return nil, f.recordPoll(ctx, record.DeviceCode)

	case StateApproved:
		return f.consume(ctx, record)

	default:
		return nil, fmt.Errorf("device code record in unknown state %q", record.State)
	}
}

// recordPoll updates last-poll bookkeeping for a pending record and
// resolves pending vs slow_down. Polling at exactly the interval
// boundary is allowed; only strictly early polls are penalized.
func (f *Flow) recordPoll(ctx context.Context, deviceCode string) error {
	var outcome error
	for attempt := 0; attempt < updateRetries; attempt++ {
		record, err := f.store.GetByDeviceCode(ctx, deviceCode)
		if err != nil {
			return fmt.Errorf("getting device code record: %w", err)
		}
		if record == nil {
			return ErrInvalidGrant
		}

		now := f.now()
		early := !record.LastPolledAt.IsZero() &&
			now.Sub(record.LastPolledAt) < secondsToDuration(record.Interval)

		record.LastPolledAt = now
		outcome = ErrAuthorizationPending
		if early {
			record.Interval += int(f.slowDownIncrement.Seconds())
			outcome = &SlowDownError{Interval: record.Interval}
			f.logger.Debug("device polling too fast",
				zap.String("client_id", record.ClientID),
				zap.Int("interval", record.Interval))
		}

		err = f.store.Update(ctx, record)
		if err == nil {
			return outcome
		}
		if !errors.Is(err, ErrStaleRecord) {
			return fmt.Errorf("updating poll state: %w", err)
		}
	}
	// Concurrent polls kept invalidating the update; the bookkeeping
	// lost the race but the flow outcome still stands.
	return outcome
}

// consume performs the single-use exchange of an approved record for
// tokens. The consumed flag is claimed with a compare-and-set before
// minting, so concurrent polls of the same code can never produce two
// token sets: exactly one racer wins, the rest see ErrInvalidGrant.
func (f *Flow) consume(ctx context.Context, record *DeviceCodeRecord) (*TokenResponse, error) {
	if record.Consumed {
		return nil, ErrInvalidGrant
	}

	won, err := f.store.Consume(ctx, record.DeviceCode)
	if err != nil {
		return nil, fmt.Errorf("consuming device code: %w", err)
	}
	if !won {
		return nil, ErrInvalidGrant
	}

	// Tokens attached at approval time (upstream mode) short-circuit
	// the issuer.
	if record.Tokens != nil {
		f.logger.Info("issuing upstream tokens for device code",
			zap.String("client_id", record.ClientID),
			zap.String("subject", record.Subject))
		return record.Tokens, nil
	}

	tokens, err := f.issuer.Issue(ctx, record.ClientID, record.Subject, record.Scopes)
	if err != nil {
		// The record stays consumed: the device lost this response and
		// must restart the flow, same as a response lost in transit
		// (accepted risk per RFC 8628).
		f.logger.Error("token issuance failed after consume",
			zap.String("client_id", record.ClientID),
			zap.Error(err))
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}
	if tokens.Scope == "" {
		tokens.Scope = JoinScope(record.Scopes)
	}

	f.logger.Info("issued tokens for device code",
		zap.String("client_id", record.ClientID),
		zap.String("subject", record.Subject))
	return tokens, nil
}
