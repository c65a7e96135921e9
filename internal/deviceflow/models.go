package deviceflow

import (
	"context"
	"strings"
	"time"
)

// GrantType is the device_code grant type URN per RFC 8628 section 3.4
const GrantType = "urn:ietf:params:oauth:grant-type:device_code"

// State describes the approval state of a device code record
type State string

const (
	// StatePending indicates the user has not yet acted on the request
	StatePending State = "pending"

	// StateApproved indicates the user approved the device
	StateApproved State = "approved"

	// StateDenied indicates the user denied the device
	StateDenied State = "denied"
)

// DeviceCodeRecord is the persisted state of one device authorization
// attempt, from initiation through approval/denial to consumption.
type DeviceCodeRecord struct {
	ID         string   `json:"id"`
	DeviceCode string   `json:"device_code"`
	UserCode   string   `json:"user_code"` // normalized, no separator
	ClientID   string   `json:"client_id"`
	Scopes     []string `json:"scopes"`

	// Subject is set when a user approves the request; empty while pending.
	Subject string `json:"subject,omitempty"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// LastPolledAt is the zero value until the first token poll.
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`

	// Interval is the minimum seconds between polls. It only grows,
	// by the slow_down increment, when a client polls too fast.
	Interval int `json:"interval"`

	// Consumed flips to true exactly once, when tokens are issued.
	Consumed bool `json:"consumed"`

	// Tokens holds an upstream-minted token set attached at approval
	// time. Nil when tokens are minted locally at poll time.
	Tokens *TokenResponse `json:"tokens,omitempty"`

	// Version guards read-modify-write updates; bumped on every Update.
	Version int64 `json:"version"`
}

// ExpiredAt reports whether the record is past its lifetime at the given
// instant. Expiry is terminal regardless of the stored approval state.
func (r *DeviceCodeRecord) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *DeviceCodeRecord) clone() *DeviceCodeRecord {
	dup := *r
	dup.Scopes = append([]string(nil), r.Scopes...)
	if r.Tokens != nil {
		tokens := *r.Tokens
		dup.Tokens = &tokens
	}
	return &dup
}

// DeviceAuthorization is the device authorization response per
// RFC 8628 section 3.2.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"` // display format
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// TokenResponse is the OAuth2 token response per RFC 8628 section 3.5
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Client describes a registered OAuth client as seen by this flow.
// Registration and storage of clients is the client directory's concern.
type Client struct {
	ID         string   `json:"client_id"`
	Name       string   `json:"client_name"`
	Scopes     []string `json:"scopes,omitempty"`
	GrantTypes []string `json:"grant_types,omitempty"`
}

// AllowsGrant reports whether the client may use the given grant type.
// An empty grant type list allows any grant.
func (c *Client) AllowsGrant(grant string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AllowsScopes reports whether every requested scope is allowed for the
// client. An empty client scope list allows any scope.
func (c *Client) AllowsScopes(scopes []string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		allowed := false
		for _, cs := range c.Scopes {
			if cs == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// ClientDirectory resolves client identifiers to registered clients.
// Implementations return ErrInvalidClient for unknown identifiers.
type ClientDirectory interface {
	Lookup(ctx context.Context, clientID string) (*Client, error)
}

// TokenIssuer mints access/refresh tokens for an approved device
// authorization. The actual signing machinery is external to this flow.
type TokenIssuer interface {
	Issue(ctx context.Context, clientID, subject string, scopes []string) (*TokenResponse, error)
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// ParseScope splits a space-delimited OAuth scope parameter into
// individual scope identifiers, preserving request order.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope joins scope identifiers back into the wire format.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
