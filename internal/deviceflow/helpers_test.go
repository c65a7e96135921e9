package deviceflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source shared between a flow and
// its store during tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubDirectory resolves a fixed client set
type stubDirectory struct {
	clients map[string]*Client
}

func newStubDirectory(clients ...Client) *stubDirectory {
	d := &stubDirectory{clients: make(map[string]*Client)}
	for i := range clients {
		d.clients[clients[i].ID] = &clients[i]
	}
	return d
}

func (d *stubDirectory) Lookup(_ context.Context, clientID string) (*Client, error) {
	client, ok := d.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %q not registered: %w", clientID, ErrInvalidClient)
	}
	return client, nil
}

// stubIssuer mints predictable tokens and counts invocations
type stubIssuer struct {
	calls atomic.Int64
	fail  bool
}

func (i *stubIssuer) Issue(_ context.Context, clientID, subject string, scopes []string) (*TokenResponse, error) {
	n := i.calls.Add(1)
	if i.fail {
		return nil, fmt.Errorf("signing key unavailable")
	}
	return &TokenResponse{
		AccessToken: fmt.Sprintf("at-%s-%s-%d", clientID, subject, n),
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}, nil
}

// failingCreateStore wraps a store and fails Create a fixed number of
// times with the given error before delegating.
type failingCreateStore struct {
	Store
	failures int
	err      error
}

func (s *failingCreateStore) Create(ctx context.Context, record *DeviceCodeRecord) error {
	if s.failures != 0 {
		s.failures--
		return s.err
	}
	return s.Store.Create(ctx, record)
}

const (
	testClientID = "cli-client"
	testBaseURL  = "https://auth.example.com"
)

// newTestFlow wires a flow against a memory store with a shared fake
// clock. The registered client allows the device_code grant and the
// "read" and "write" scopes.
func newTestFlow(opts ...Option) (*Flow, *MemoryStore, *stubIssuer, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.now = clock.Now

	directory := newStubDirectory(
		Client{
			ID:         testClientID,
			Name:       "CLI Client",
			Scopes:     []string{"read", "write"},
			GrantTypes: []string{GrantType},
		},
		Client{
			ID:         "web-client",
			Name:       "Web Client",
			GrantTypes: []string{"authorization_code"},
		},
		Client{
			ID:   "open-client",
			Name: "Open Client",
		},
	)
	issuer := &stubIssuer{}

	base := []Option{WithClock(clock.Now)}
	flow := NewFlow(store, directory, issuer, testBaseURL, append(base, opts...)...)
	return flow, store, issuer, clock
}

// startFlow initiates an authorization, failing the test on error
func startFlow(t *testing.T, flow *Flow, clientID, scope string) *DeviceAuthorization {
	t.Helper()
	auth, err := flow.RequestDeviceCode(context.Background(), clientID, scope)
	if err != nil {
		t.Fatalf("RequestDeviceCode() error = %v", err)
	}
	return auth
}
