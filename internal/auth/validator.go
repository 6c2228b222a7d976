package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
)

// TokenValidator resolves a bearer token to a caller identity. Service
// tokens are recognized locally; provider tokens are decoded as ID tokens
// when possible and checked against the provider's userinfo endpoint
// otherwise. The validator holds no per-request state and is safe for
// concurrent use.
type TokenValidator struct {
	userInfoURL string
	client      *http.Client
	logger      logging.Logger
}

// NewTokenValidator creates a validator against the configured provider.
func NewTokenValidator(cfg *config.OAuthConfig, client *http.Client) *TokenValidator {
	if client == nil {
		timeout := time.Duration(cfg.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &TokenValidator{
		userInfoURL: cfg.UserInfoURL,
		client:      client,
		logger:      logging.WithComponent("token_validator"),
	}
}

// Validate resolves token to an identity or fails with an *OAuthError. It
// never returns an identity with an unverified email and never lets a raw
// network or parse failure escape.
func (v *TokenValidator) Validate(ctx context.Context, token string) (identity *Identity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.ErrorContext(ctx, "token validation panic", "panic", rec)
			identity = nil
			err = NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
		}
	}()

	if strings.HasPrefix(token, ServiceTokenPrefix) {
		return ServiceIdentity(), nil
	}

	if id, err := v.validateIDToken(token); err != nil {
		return nil, err
	} else if id != nil {
		return id, nil
	}

	return v.lookupUserInfo(ctx, token)
}

// validateIDToken decodes token as an unsigned-trust JWT. It returns
// (nil, nil) when the token is not a decodable ID token, signalling the
// caller to fall back to the userinfo lookup. An ID token that explicitly
// carries email_verified=false is a hard rejection, not a fallback.
func (v *TokenValidator) validateIDToken(token string) (*Identity, error) {
	if strings.Count(token, ".") != 2 {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, nil
	}

	if verified, ok := claims["email_verified"].(bool); ok && !verified {
		return nil, NewOAuthError("Email address is not verified", http.StatusForbidden, CodeEmailNotVerified)
	}

	sub, _ := claims["sub"].(string)
	verified, _ := claims["email_verified"].(bool)
	if sub == "" || !verified {
		// Not a usable ID token; treat as an opaque access token.
		return nil, nil
	}

	return &Identity{
		ID:            sub,
		Email:         claimString(claims, "email"),
		VerifiedEmail: true,
		Name:          claimString(claims, "name"),
		GivenName:     claimString(claims, "given_name"),
		FamilyName:    claimString(claims, "family_name"),
		Picture:       claimString(claims, "picture"),
		Locale:        claimString(claims, "locale"),
	}, nil
}

// userInfo is the provider's userinfo response shape.
type userInfo struct {
	ID            string `json:"id"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

func (v *TokenValidator) lookupUserInfo(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.WarnContext(ctx, "userinfo request failed", "error", err.Error())
		return nil, NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := providerErrorDescription(body)
		if msg == "" {
			msg = "Failed to validate access token"
		}
		return nil, NewOAuthError(msg, resp.StatusCode, CodeInvalidToken)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
	}

	if !info.VerifiedEmail {
		return nil, NewOAuthError("Email address is not verified", http.StatusForbidden, CodeEmailNotVerified)
	}

	id := info.ID
	if id == "" {
		id = info.Sub
	}
	if id == "" {
		return nil, NewOAuthError("Failed to validate access token", http.StatusUnauthorized, CodeInvalidToken)
	}

	return &Identity{
		ID:            id,
		Email:         info.Email,
		VerifiedEmail: true,
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		Picture:       info.Picture,
		Locale:        info.Locale,
	}, nil
}

// providerErrorDescription pulls a human-readable description out of a
// provider error body, tolerating both flat and nested error shapes.
func providerErrorDescription(body []byte) string {
	var flat struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &flat); err == nil {
		if flat.ErrorDescription != "" {
			return flat.ErrorDescription
		}
		if flat.Error != "" {
			return flat.Error
		}
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return ""
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
