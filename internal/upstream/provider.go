// Package upstream integrates an external OAuth2 authorization server
// into the verification flow. In upstream mode the human authenticates
// against that server; its tokens are attached to the device code record
// instead of minting tokens locally.
package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
)

// Config holds the upstream authorization server settings
type Config struct {
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURL           string
	Scopes                []string
}

// Provider wraps an oauth2.Config for the authorization code round trip
// that upstream-mode verification performs.
type Provider struct {
	oauth *oauth2.Config
}

// New creates an upstream provider
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("upstream client ID is required")
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("upstream authorization and token endpoints are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("upstream redirect URL is required")
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint,
				TokenURL: cfg.TokenEndpoint,
			},
		},
	}, nil
}

// AuthCodeURL builds the upstream authorization URL. The state round
// trips the user code so the callback can complete the right record.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for upstream tokens and extracts
// the authenticated subject from the ID token when one is present.
func (p *Provider) Exchange(ctx context.Context, code string) (*deviceflow.TokenResponse, string, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("exchanging authorization code: %w", err)
	}

	response := &deviceflow.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		response.ExpiresIn = int(time.Until(token.Expiry).Seconds())
	}

	return response, subjectFromIDToken(token), nil
}

// subjectFromIDToken pulls the sub claim out of an id_token extra, if
// the upstream returned one. The token arrived over the trusted exchange
// channel, so signature verification is the upstream's own concern here.
func subjectFromIDToken(token *oauth2.Token) string {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}
