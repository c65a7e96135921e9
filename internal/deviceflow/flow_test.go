package deviceflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequestDeviceCode(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		scope    string
		wantErr  error
	}{
		{
			name:     "success",
			clientID: testClientID,
			scope:    "read write",
		},
		{
			name:     "success without scope",
			clientID: testClientID,
		},
		{
			name:     "client without scope restrictions",
			clientID: "open-client",
			scope:    "anything at-all",
		},
		{
			name:     "unknown client",
			clientID: "nobody",
			wantErr:  ErrInvalidClient,
		},
		{
			name:     "grant not allowed",
			clientID: "web-client",
			wantErr:  ErrInvalidClient,
		},
		{
			name:     "scope not allowed",
			clientID: testClientID,
			scope:    "read admin",
			wantErr:  ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, _, _, _ := newTestFlow()
			auth, err := flow.RequestDeviceCode(context.Background(), tt.clientID, tt.scope)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RequestDeviceCode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RequestDeviceCode() error = %v", err)
			}

			if len(auth.DeviceCode) != DeviceCodeBytes*2 {
				t.Errorf("device code length = %d, want %d", len(auth.DeviceCode), DeviceCodeBytes*2)
			}
			if len(auth.UserCode) != DefaultUserCodeLength+1 || !strings.Contains(auth.UserCode, "-") {
				t.Errorf("user code = %q, want %d chars with separator", auth.UserCode, DefaultUserCodeLength+1)
			}
			if auth.VerificationURI != testBaseURL+"/device" {
				t.Errorf("verification_uri = %q, want %q", auth.VerificationURI, testBaseURL+"/device")
			}
			if !strings.Contains(auth.VerificationURIComplete, "user_code=") {
				t.Errorf("verification_uri_complete = %q missing user_code", auth.VerificationURIComplete)
			}
			if auth.ExpiresIn != int(DefaultExpiryDuration.Seconds()) {
				t.Errorf("expires_in = %d, want %d", auth.ExpiresIn, int(DefaultExpiryDuration.Seconds()))
			}
			if auth.Interval != int(DefaultPollInterval.Seconds()) {
				t.Errorf("interval = %d, want %d", auth.Interval, int(DefaultPollInterval.Seconds()))
			}
		})
	}
}

func TestRequestDeviceCodePersistsRecord(t *testing.T) {
	flow, store, _, clock := newTestFlow()
	auth := startFlow(t, flow, testClientID, "read")

	record, err := store.GetByDeviceCode(context.Background(), auth.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode() error = %v", err)
	}
	if record == nil {
		t.Fatal("GetByDeviceCode() = nil, want record")
	}
	if record.State != StatePending {
		t.Errorf("state = %q, want %q", record.State, StatePending)
	}
	if record.ClientID != testClientID {
		t.Errorf("client_id = %q, want %q", record.ClientID, testClientID)
	}
	if strings.Contains(record.UserCode, "-") {
		t.Errorf("stored user code %q is not normalized", record.UserCode)
	}
	if !record.LastPolledAt.IsZero() {
		t.Errorf("last_polled_at = %v, want zero", record.LastPolledAt)
	}
	if record.Consumed {
		t.Error("new record is already consumed")
	}
	if !record.ExpiresAt.Equal(clock.Now().Add(DefaultExpiryDuration)) {
		t.Errorf("expires_at = %v, want %v", record.ExpiresAt, clock.Now().Add(DefaultExpiryDuration))
	}
}

func TestRequestDeviceCodeRetriesOnCollision(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	flow.store = &failingCreateStore{Store: store, failures: 2, err: ErrDuplicateCode}

	auth, err := flow.RequestDeviceCode(context.Background(), testClientID, "read")
	if err != nil {
		t.Fatalf("RequestDeviceCode() error = %v, want retry past collisions", err)
	}
	if auth.DeviceCode == "" {
		t.Error("RequestDeviceCode() returned empty device code")
	}
}

func TestRequestDeviceCodeGivesUpAfterMaxAttempts(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	flow.store = &failingCreateStore{Store: store, failures: maxUserCodeAttempts, err: ErrDuplicateCode}

	if _, err := flow.RequestDeviceCode(context.Background(), testClientID, "read"); err == nil {
		t.Fatal("RequestDeviceCode() error = nil, want failure after exhausted attempts")
	}
}

func TestRequestDeviceCodeStoreFailure(t *testing.T) {
	flow, store, _, _ := newTestFlow()
	flow.store = &failingCreateStore{Store: store, failures: 1, err: errors.New("backend down")}

	if _, err := flow.RequestDeviceCode(context.Background(), testClientID, "read"); err == nil {
		t.Fatal("RequestDeviceCode() error = nil, want store failure surfaced")
	}
}

func TestFlowOptions(t *testing.T) {
	flow, _, _, _ := newTestFlow(
		WithExpiryDuration(10*time.Minute),
		WithPollInterval(7*time.Second),
	)
	auth := startFlow(t, flow, testClientID, "read")

	if auth.ExpiresIn != 600 {
		t.Errorf("expires_in = %d, want 600", auth.ExpiresIn)
	}
	if auth.Interval != 7 {
		t.Errorf("interval = %d, want 7", auth.Interval)
	}
}

func TestCheckHealth(t *testing.T) {
	flow, _, _, _ := newTestFlow()
	if err := flow.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth() error = %v", err)
	}
}
