// Package deviceflow implements user verification for the device flow
package deviceflow

import (
	"context"

	"go.uber.org/zap"
)

// VerifyUserCode looks up the pending request behind a user code so the
// verification page can show what the user is approving. Unknown and
// expired codes both return ErrInvalidUserCode; the distinction is
// logged internally only, to avoid giving guessers an oracle.
func (f *Flow) VerifyUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	return f.lookupUserCode(ctx, userCode)
}

// Approve records user approval of the device request identified by the
// user code and binds the authenticated subject to it. The caller must
// already have authenticated the subject; this flow only consumes the
// verified identifier.
//
// The approval state transitions exactly once: a second decision of
// either kind fails with ErrAlreadyActioned.
func (f *Flow) Approve(ctx context.Context, userCode, subject string) error {
	return f.decide(ctx, userCode, subject, StateApproved, nil)
}

// Deny records user denial of the device request. The subject is kept
// for audit but never used for token issuance.
func (f *Flow) Deny(ctx context.Context, userCode, subject string) error {
	return f.decide(ctx, userCode, subject, StateDenied, nil)
}

// CompleteAuthorization approves the device request and attaches a token
// set minted by an upstream authorization server. Polling then returns
// the attached tokens through the same consume-once path as locally
// minted ones.
func (f *Flow) CompleteAuthorization(ctx context.Context, userCode, subject string, tokens *TokenResponse) error {
	return f.decide(ctx, userCode, subject, StateApproved, tokens)
}

func (f *Flow) decide(ctx context.Context, userCode, subject string, state State, tokens *TokenResponse) error {
	err := f.transition(ctx, userCode, func(record *DeviceCodeRecord) error {
		if record.State != StatePending {
			return ErrAlreadyActioned
		}
		record.State = state
		record.Subject = subject
		record.Tokens = tokens
		return nil
	})
	if err != nil {
		return err
	}

	f.logger.Info("device authorization decided",
		zap.String("decision", string(state)),
		zap.String("subject", subject))
	return nil
}
