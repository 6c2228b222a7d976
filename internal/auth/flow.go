package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
)

// Token is the token-endpoint response shape returned to clients.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// FlowOrchestrator drives the authorization-code flow against the upstream
// provider: authorization URL construction, code exchange, and refresh.
// Provider calls are made exactly once per operation; a provider 4xx is
// surfaced immediately without retry.
type FlowOrchestrator struct {
	oauth  *oauth2.Config
	client *http.Client
	logger logging.Logger
}

// NewFlowOrchestrator creates an orchestrator from the OAuth configuration.
func NewFlowOrchestrator(cfg *config.OAuthConfig, client *http.Client) *FlowOrchestrator {
	if client == nil {
		timeout := time.Duration(cfg.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &FlowOrchestrator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.ScopeList(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
		logger: logging.WithComponent("oauth_flow"),
	}
}

// BuildAuthorizationURL constructs the provider authorization URL. The state
// value is passed through verbatim; offline access and a consent prompt are
// always requested so a refresh token is issued.
func (f *FlowOrchestrator) BuildAuthorizationURL(scopes []string, state string) string {
	cfg := *f.oauth
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for tokens at the provider token
// endpoint.
func (f *FlowOrchestrator) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := f.oauth.Exchange(f.withClient(ctx), code)
	if err != nil {
		return nil, f.providerError(ctx, err, "Failed to exchange authorization code")
	}
	return fromOAuth2Token(tok), nil
}

// Refresh obtains a fresh access token. Providers do not always rotate
// refresh tokens; when none comes back the original is preserved in the
// result.
func (f *FlowOrchestrator) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := f.oauth.TokenSource(f.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, f.providerError(ctx, err, "Failed to refresh token")
	}
	result := fromOAuth2Token(tok)
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (f *FlowOrchestrator) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

// providerError maps an x/oauth2 failure to an OAuthError, carrying the
// provider's error code, description, and HTTP status when available.
func (f *FlowOrchestrator) providerError(ctx context.Context, err error, fallback string) *OAuthError {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		msg := rErr.ErrorDescription
		if msg == "" {
			msg = fallback
		}
		code := rErr.ErrorCode
		if code == "" {
			code = CodeInvalidGrant
		}
		status := http.StatusUnauthorized
		if rErr.Response != nil && rErr.Response.StatusCode != 0 {
			status = rErr.Response.StatusCode
		}
		f.logger.WarnContext(ctx, "provider rejected token request",
			"code", code, "status", status)
		return NewOAuthError(msg, status, code)
	}
	f.logger.WarnContext(ctx, "provider token request failed", "error", err.Error())
	return NewOAuthError(fallback, http.StatusUnauthorized, CodeInvalidGrant)
}

func fromOAuth2Token(tok *oauth2.Token) *Token {
	result := &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if result.TokenType == "" {
		result.TokenType = "Bearer"
	}
	if !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Seconds()); secs > 0 {
			result.ExpiresIn = secs
		}
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		result.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		result.Scope = scope
	}
	return result
}
