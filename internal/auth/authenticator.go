package auth

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// bearerPattern matches an Authorization header value. The scheme word is
// case-insensitive, the separator accepts any whitespace run, and the token
// capture is greedy across the rest of the value including newlines and
// trailing spaces. Leading characters before the scheme are not tolerated.
var bearerPattern = regexp.MustCompile(`(?is)^Bearer\s+(.+)$`)

// ExtractBearerToken pulls the token out of an Authorization header value.
// It is total: any input yields either the captured token or the empty
// string, never an error.
func ExtractBearerToken(header string) string {
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// Validator resolves a raw token to an identity. Satisfied by
// *TokenValidator; tests substitute fakes.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// Authenticator turns inbound requests into authenticated identities.
type Authenticator struct {
	validator Validator
}

// NewAuthenticator creates an authenticator over the given validator.
func NewAuthenticator(validator Validator) *Authenticator {
	return &Authenticator{validator: validator}
}

// Authenticate extracts and validates the request's bearer token. Failures
// are always *OAuthError: a missing or empty token is missing_token,
// validator errors propagate unchanged, and anything unexpected becomes a
// generic 500.
func (a *Authenticator) Authenticate(r *http.Request) (*AuthResult, error) {
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if strings.TrimSpace(token) == "" {
		return nil, NewOAuthError("Authorization header with Bearer token is required",
			http.StatusUnauthorized, CodeMissingToken)
	}

	identity, err := a.validator.Validate(r.Context(), token)
	if err != nil {
		if oe, ok := err.(*OAuthError); ok {
			return nil, oe
		}
		return nil, NewOAuthError("Authentication failed", http.StatusInternalServerError, "")
	}

	return &AuthResult{Identity: identity, RawToken: token}, nil
}
