package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-device-server/internal/validation"
)

const (
	// DefaultExpiryDuration is the device code lifetime per RFC 8628
	DefaultExpiryDuration = 30 * time.Minute

	// DefaultPollInterval is the minimum interval between polling
	// requests per RFC 8628 section 3.2
	DefaultPollInterval = 5 * time.Second

	// DefaultSlowDownIncrement is added to a record's interval each
	// time the device polls too fast, per RFC 8628 section 3.5
	DefaultSlowDownIncrement = 5 * time.Second

	// maxUserCodeAttempts bounds the uniqueness retry loop. At the
	// charset entropy in use a collision is statistically near
	// impossible, so exhausting this indicates a systemic problem.
	maxUserCodeAttempts = 10

	// updateRetries bounds optimistic-concurrency retry loops
	updateRetries = 3
)

// Flow orchestrates the device authorization grant: code issuance,
// user verification, and the token polling state machine.
type Flow struct {
	store             Store
	clients           ClientDirectory
	issuer            TokenIssuer
	generator         *Generator
	logger            *zap.Logger
	baseURL           string
	expiryDuration    time.Duration
	pollInterval      time.Duration
	slowDownIncrement time.Duration
	now               func() time.Time
	newID             func() string
}

// NewFlow creates a device flow manager. The base URL is where humans
// reach the verification page; it is passed in explicitly rather than
// derived from request state.
func NewFlow(store Store, clients ClientDirectory, issuer TokenIssuer, baseURL string, opts ...Option) *Flow {
	f := &Flow{
		store:             store,
		clients:           clients,
		issuer:            issuer,
		baseURL:           baseURL,
		generator:         NewGenerator(DefaultUserCodeLength, validation.Charset),
		logger:            zap.NewNop(),
		expiryDuration:    DefaultExpiryDuration,
		pollInterval:      DefaultPollInterval,
		slowDownIncrement: DefaultSlowDownIncrement,
		now:               time.Now,
		newID:             newRecordID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RequestDeviceCode initiates a device authorization flow per RFC 8628
// section 3.2: it validates the client and requested scope, generates a
// device/user code pair unique among active records, and persists a
// pending record.
func (f *Flow) RequestDeviceCode(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	client, err := f.clients.Lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(GrantType) {
		return nil, fmt.Errorf("client %q: device_code grant not allowed: %w", clientID, ErrInvalidClient)
	}

	scopes := ParseScope(scope)
	if !client.AllowsScopes(scopes) {
		return nil, fmt.Errorf("client %q: requested scope not allowed: %w", clientID, ErrInvalidScope)
	}

	now := f.now()
	expiresAt := now.Add(f.expiryDuration)
	interval := int(f.pollInterval.Seconds())

	var record *DeviceCodeRecord
	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		deviceCode, err := generateSecureCode(DeviceCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("generating device code: %w", err)
		}
		userCode, err := f.generator.Generate()
		if err != nil {
			return nil, err
		}

		candidate := &DeviceCodeRecord{
			ID:         f.newID(),
			DeviceCode: deviceCode,
			UserCode:   userCode,
			ClientID:   clientID,
			Scopes:     scopes,
			State:      StatePending,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
			Interval:   interval,
			Version:    1,
		}

		err = f.store.Create(ctx, candidate)
		if err == nil {
			record = candidate
			break
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, fmt.Errorf("saving device code record: %w", err)
		}
		f.logger.Warn("user code collision, regenerating",
			zap.String("client_id", clientID),
			zap.Int("attempt", attempt+1))
	}
	if record == nil {
		return nil, fmt.Errorf("no unique user code after %d attempts", maxUserCodeAttempts)
	}

	verificationURI, verificationURIComplete := f.buildVerificationURIs(record.UserCode)

	return &DeviceAuthorization{
		DeviceCode:              record.DeviceCode,
		UserCode:                validation.FormatCode(record.UserCode),
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURIComplete,
		ExpiresIn:               int(expiresAt.Sub(now).Seconds()),
		Interval:                interval,
	}, nil
}

// CheckHealth verifies the flow's storage backend is healthy
func (f *Flow) CheckHealth(ctx context.Context) error {
	return f.store.CheckHealth(ctx)
}

// transition applies a mutation to the record identified by user code,
// retrying on optimistic-concurrency conflicts.
func (f *Flow) transition(ctx context.Context, userCode string, apply func(*DeviceCodeRecord) error) error {
	var err error
	for attempt := 0; attempt < updateRetries; attempt++ {
		var record *DeviceCodeRecord
		record, err = f.lookupUserCode(ctx, userCode)
		if err != nil {
			return err
		}
		if err = apply(record); err != nil {
			return err
		}
		err = f.store.Update(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleRecord) {
			return fmt.Errorf("updating device code record: %w", err)
		}
	}
	return fmt.Errorf("updating device code record: %w", err)
}

func (f *Flow) lookupUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	if err := validation.ValidateUserCode(userCode); err != nil {
		return nil, ErrInvalidUserCode
	}

	record, err := f.store.GetByUserCode(ctx, validation.NormalizeCode(userCode))
	if err != nil {
		return nil, fmt.Errorf("getting device code record: %w", err)
	}
	if record == nil {
		// Unknown and expired codes are indistinguishable to callers;
		// only internal logs tell them apart.
		f.logger.Debug("user code not found or expired")
		return nil, ErrInvalidUserCode
	}
	if record.ExpiredAt(f.now()) {
		f.logger.Debug("user code expired",
			zap.String("client_id", record.ClientID),
			zap.Time("expires_at", record.ExpiresAt))
		return nil, ErrInvalidUserCode
	}
	return record, nil
}
