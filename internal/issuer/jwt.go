// Package issuer mints OAuth2 tokens for approved device authorizations.
// It is the "token issuer" collaborator of the device flow; the flow
// itself never touches signing keys.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
)

const (
	// DefaultAccessTokenTTL is the default access token lifetime
	DefaultAccessTokenTTL = time.Hour

	// refreshTokenBytes is the entropy of opaque refresh tokens
	refreshTokenBytes = 32
)

// Claims are the access token claims minted for a device grant
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// JWT issues HMAC-signed access tokens and opaque refresh tokens.
type JWT struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	withRefresh bool
	now         func() time.Time
}

// JWTOption configures the issuer
type JWTOption func(*JWT)

// WithAccessTokenTTL sets the access token lifetime
func WithAccessTokenTTL(d time.Duration) JWTOption {
	return func(j *JWT) {
		if d > 0 {
			j.accessTTL = d
		}
	}
}

// WithoutRefreshTokens disables refresh token issuance
func WithoutRefreshTokens() JWTOption {
	return func(j *JWT) {
		j.withRefresh = false
	}
}

// WithClock replaces the time source, for tests
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWT) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJWT creates a token issuer signing with the given HMAC secret.
// The issuer name becomes the iss claim.
func NewJWT(secret []byte, issuerName string, opts ...JWTOption) (*JWT, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	j := &JWT{
		secret:      secret,
		issuer:      issuerName,
		accessTTL:   DefaultAccessTokenTTL,
		withRefresh: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Issue mints a token set for the subject that approved the device
// authorization.
func (j *JWT) Issue(_ context.Context, clientID, subject string, scopes []string) (*deviceflow.TokenResponse, error) {
	now := j.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			ID:        uuid.NewString(),
		},
		ClientID: clientID,
		Scope:    deviceflow.JoinScope(scopes),
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	response := &deviceflow.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(j.accessTTL.Seconds()),
		Scope:       claims.Scope,
	}

	if j.withRefresh {
		refreshToken, err := opaqueToken()
		if err != nil {
			return nil, err
		}
		response.RefreshToken = refreshToken
	}
	return response, nil
}

func opaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
