package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Machine-readable auth error codes, used as the OAuth2 "error" field and in
// the WWW-Authenticate challenge.
const (
	CodeMissingToken     = "missing_token"
	CodeInvalidToken     = "invalid_token"
	CodeEmailNotVerified = "email_not_verified"
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidGrant     = "invalid_grant"
	CodeUnsupportedGrant = "unsupported_grant_type"
)

// OAuthError is the single error type crossing the auth package boundary.
// Every failure in token validation, bearer extraction, and the OAuth flow
// is normalized to this shape so the HTTP layer can render it uniformly.
type OAuthError struct {
	Message string `json:"error_description"`
	Status  int    `json:"-"`
	Code    string `json:"error"`
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	return e.Message
}

// NewOAuthError builds an OAuthError, defaulting status to 401 and code to
// invalid_token when unset.
func NewOAuthError(message string, status int, code string) *OAuthError {
	if status == 0 {
		status = http.StatusUnauthorized
	}
	if code == "" {
		code = CodeInvalidToken
	}
	return &OAuthError{Message: message, Status: status, Code: code}
}

// AsOAuthError normalizes any error to an OAuthError. Existing OAuthErrors
// pass through unchanged; everything else becomes a 500.
func AsOAuthError(err error) *OAuthError {
	if oe, ok := err.(*OAuthError); ok {
		return oe
	}
	return &OAuthError{
		Message: "Authentication failed",
		Status:  http.StatusInternalServerError,
		Code:    CodeInvalidToken,
	}
}

// WriteHTTP renders the error as an OAuth2 error response. A 401 carries the
// WWW-Authenticate challenge required for bearer-token resources.
func (e *OAuthError) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if e.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer realm=%q, error=%q, error_description=%q`,
			RequestOrigin(r), e.Code, e.Message))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             e.Code,
		"error_description": e.Message,
	})
}

// RequestOrigin reconstructs the externally visible base URL of the request,
// honoring X-Forwarded-Proto from a fronting proxy.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
