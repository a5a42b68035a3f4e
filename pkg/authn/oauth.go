package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// IdP abstracts the identity provider interactions needed by the login flow.
type IdP interface {
	// AuthCodeURL builds the authorization redirect URL carrying the state.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for credentials.
	Exchange(ctx context.Context, code string) (*session.Credentials, error)
	// LogoutURL is where the browser is sent after local session teardown.
	LogoutURL() string
}

// ClientConfig configures the OIDC client.
type ClientConfig struct {
	IssuerURL    string
	Audience     string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
}

// Client talks to the identity provider: endpoint discovery, authorization
// redirects, and authorization-code exchange.
type Client struct {
	issuer             string
	audience           string
	oauth2Config       *oauth2.Config
	jwksURL            string
	endSessionEndpoint string
}

// discovery metadata beyond what go-oidc exposes directly
type providerClaims struct {
	JWKSURI            string `json:"jwks_uri"`
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewClient discovers the identity provider's endpoints and builds the
// OAuth2 configuration.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	var claims providerClaims
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse provider metadata: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Client{
		issuer:   cfg.IssuerURL,
		audience: cfg.Audience,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
		},
		jwksURL:            claims.JWKSURI,
		endSessionEndpoint: claims.EndSessionEndpoint,
	}, nil
}

// AuthCodeURL builds the IdP authorization URL for the browser redirect.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("audience", c.audience))
}

// Exchange trades the authorization code for a token set. An IdP rejection
// is returned as credentials carrying the provider's error fields.
func (c *Client) Exchange(ctx context.Context, code string) (*session.Credentials, error) {
	token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return &session.Credentials{
				Error:            retrieveErr.ErrorCode,
				ErrorDescription: retrieveErr.ErrorDescription,
			}, nil
		}
		return nil, apierror.Wrap(err, apierror.CodeUnauthenticated,
			"authorization code exchange failed")
	}

	creds := &session.Credentials{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		creds.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		creds.Scope = scope
	}
	return creds, nil
}

// LogoutURL returns the IdP's end-session endpoint, falling back to the
// issuer's logout path when discovery does not advertise one.
func (c *Client) LogoutURL() string {
	if c.endSessionEndpoint != "" {
		return c.endSessionEndpoint
	}
	return strings.TrimSuffix(c.issuer, "/") + "/logout"
}

// JWKSURL returns the discovered signing-key endpoint.
func (c *Client) JWKSURL() string {
	return c.jwksURL
}
