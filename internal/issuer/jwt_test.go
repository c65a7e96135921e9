package issuer

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewJWTRejectsShortSecret(t *testing.T) {
	_, err := NewJWT([]byte("too short"), "https://auth.example.com")
	assert.Error(t, err)
}

func TestIssue(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	j, err := NewJWT(testSecret, "https://auth.example.com",
		WithClock(func() time.Time { return issued }))
	require.NoError(t, err)

	tokens, err := j.Issue(context.Background(), "cli", "alice", []string{"read", "write"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int(DefaultAccessTokenTTL.Seconds()), tokens.ExpiresIn)
	assert.Equal(t, "read write", tokens.Scope)
	assert.NotEmpty(t, tokens.RefreshToken)

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokens.AccessToken, &claims, func(*jwt.Token) (any, error) {
		return testSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return issued }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "https://auth.example.com", claims.Issuer)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"cli"}, claims.Audience)
	assert.Equal(t, "cli", claims.ClientID)
	assert.Equal(t, "read write", claims.Scope)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, issued.Add(DefaultAccessTokenTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestIssueRejectsTamperedToken(t *testing.T) {
	j, err := NewJWT(testSecret, "https://auth.example.com")
	require.NoError(t, err)

	tokens, err := j.Issue(context.Background(), "cli", "alice", nil)
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(tokens.AccessToken, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte("another-secret-another-secret-00"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	assert.Error(t, err)
}

func TestIssueOptions(t *testing.T) {
	j, err := NewJWT(testSecret, "https://auth.example.com",
		WithAccessTokenTTL(15*time.Minute),
		WithoutRefreshTokens(),
	)
	require.NoError(t, err)

	tokens, err := j.Issue(context.Background(), "cli", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 900, tokens.ExpiresIn)
	assert.Empty(t, tokens.RefreshToken)
	assert.Empty(t, tokens.Scope)
}

func TestIssueUniqueTokenIDs(t *testing.T) {
	j, err := NewJWT(testSecret, "https://auth.example.com")
	require.NoError(t, err)

	first, err := j.Issue(context.Background(), "cli", "alice", nil)
	require.NoError(t, err)
	second, err := j.Issue(context.Background(), "cli", "alice", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

var _ deviceflow.TokenIssuer = (*JWT)(nil)
