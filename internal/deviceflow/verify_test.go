package deviceflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wrale/oauth2-device-server/internal/validation"
)

func TestVerifyUserCode(t *testing.T) {
	flow, _, _, clock := newTestFlow()
	auth := startFlow(t, flow, testClientID, "read")

	tests := []struct {
		name    string
		code    string
		advance time.Duration
		wantErr error
	}{
		{
			name: "display format",
			code: auth.UserCode,
		},
		{
			name: "normalized form",
			code: validation.NormalizeCode(auth.UserCode),
		},
		{
			name: "lowercase with spaces",
			code: " " + strings.ToLower(auth.UserCode) + " ",
		},
		{
			name:    "malformed code",
			code:    "not a code!",
			wantErr: ErrInvalidUserCode,
		},
		{
			name:    "unknown code",
			code:    "BCDF-GHJK",
			wantErr: ErrInvalidUserCode,
		},
		{
			name:    "expired code",
			code:    auth.UserCode,
			advance: DefaultExpiryDuration,
			wantErr: ErrInvalidUserCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.advance > 0 {
				clock.Advance(tt.advance)
				defer clock.Advance(-tt.advance)
			}
			record, err := flow.VerifyUserCode(context.Background(), tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("VerifyUserCode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyUserCode() error = %v", err)
			}
			if record.ClientID != testClientID {
				t.Errorf("client_id = %q, want %q", record.ClientID, testClientID)
			}
			if record.State != StatePending {
				t.Errorf("state = %q, want %q", record.State, StatePending)
			}
		})
	}
}

func TestApprove(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	auth := startFlow(t, flow, testClientID, "read")

	if err := flow.Approve(context.Background(), auth.UserCode, "alice"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	record, err := store.GetByDeviceCode(context.Background(), auth.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode() error = %v", err)
	}
	if record.State != StateApproved {
		t.Errorf("state = %q, want %q", record.State, StateApproved)
	}
	if record.Subject != "alice" {
		t.Errorf("subject = %q, want %q", record.Subject, "alice")
	}
}

func TestDeny(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	auth := startFlow(t, flow, testClientID, "read")

	if err := flow.Deny(context.Background(), auth.UserCode, "alice"); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}

	record, err := store.GetByDeviceCode(context.Background(), auth.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode() error = %v", err)
	}
	if record.State != StateDenied {
		t.Errorf("state = %q, want %q", record.State, StateDenied)
	}
}

func TestDecisionIsFinal(t *testing.T) {
	tests := []struct {
		name   string
		first  func(*Flow, string) error
		second func(*Flow, string) error
	}{
		{
			name:   "approve then approve",
			first:  approveAs("alice"),
			second: approveAs("bob"),
		},
		{
			name:   "approve then deny",
			first:  approveAs("alice"),
			second: denyAs("alice"),
		},
		{
			name:   "deny then approve",
			first:  denyAs("alice"),
			second: approveAs("alice"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, store, _, _ := newTestFlow()
			auth := startFlow(t, flow, testClientID, "read")

			if err := tt.first(flow, auth.UserCode); err != nil {
				t.Fatalf("first decision error = %v", err)
			}
			if err := tt.second(flow, auth.UserCode); !errors.Is(err, ErrAlreadyActioned) {
				t.Fatalf("second decision error = %v, want %v", err, ErrAlreadyActioned)
			}

			// The first decision must stand untouched
			record, err := store.GetByDeviceCode(context.Background(), auth.DeviceCode)
			if err != nil {
				t.Fatalf("GetByDeviceCode() error = %v", err)
			}
			if record.Subject != "alice" {
				t.Errorf("subject = %q, want %q", record.Subject, "alice")
			}
		})
	}
}

func TestCompleteAuthorization(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	auth := startFlow(t, flow, testClientID, "read")

	tokens := &TokenResponse{
		AccessToken:  "upstream-access",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: "upstream-refresh",
	}
	if err := flow.CompleteAuthorization(context.Background(), auth.UserCode, "alice", tokens); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}

	record, err := store.GetByDeviceCode(context.Background(), auth.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode() error = %v", err)
	}
	if record.State != StateApproved {
		t.Errorf("state = %q, want %q", record.State, StateApproved)
	}
	if record.Tokens == nil || record.Tokens.AccessToken != "upstream-access" {
		t.Errorf("tokens = %+v, want upstream token set attached", record.Tokens)
	}
}

func approveAs(subject string) func(*Flow, string) error {
	return func(f *Flow, userCode string) error {
		return f.Approve(context.Background(), userCode, subject)
	}
}

func denyAs(subject string) func(*Flow, string) error {
	return func(f *Flow, userCode string) error {
		return f.Deny(context.Background(), userCode, subject)
	}
}
