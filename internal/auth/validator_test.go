package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-memory-gateway/internal/config"
)

// countingTransport records how many requests pass through it.
type countingTransport struct {
	calls int64
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.next.RoundTrip(r)
}

func makeJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".sig"
}

func newTestValidator(userInfoURL string, client *http.Client) *TokenValidator {
	return NewTokenValidator(&config.OAuthConfig{UserInfoURL: userInfoURL, RequestTimeout: 5}, client)
}

func TestValidateServiceTokenNoNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("service tokens must not reach the network")
	}))
	defer server.Close()

	counter := &countingTransport{next: http.DefaultTransport}
	v := newTestValidator(server.URL, &http.Client{Transport: counter})

	identity, err := v.Validate(context.Background(), ServiceTokenPrefix+"anything")
	require.NoError(t, err)
	assert.Equal(t, ServiceUserID, identity.ID)
	assert.True(t, identity.VerifiedEmail)
	assert.Equal(t, int64(0), atomic.LoadInt64(&counter.calls))
}

func TestValidateIDTokenVerified(t *testing.T) {
	counter := &countingTransport{next: http.DefaultTransport}
	v := newTestValidator("http://unreachable.invalid/userinfo", &http.Client{Transport: counter})

	token := makeJWT(t, map[string]interface{}{
		"sub":            "google-123",
		"email":          "user@example.com",
		"email_verified": true,
		"name":           "Test User",
	})

	identity, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "google-123", identity.ID)
	assert.Equal(t, "user@example.com", identity.Email)
	assert.True(t, identity.VerifiedEmail)
	assert.Equal(t, "Test User", identity.Name)
	assert.Equal(t, int64(0), atomic.LoadInt64(&counter.calls), "decodable ID token must not hit userinfo")
}

func TestValidateIDTokenUnverifiedEmailNoFallthrough(t *testing.T) {
	counter := &countingTransport{next: http.DefaultTransport}
	v := newTestValidator("http://unreachable.invalid/userinfo", &http.Client{Transport: counter})

	token := makeJWT(t, map[string]interface{}{
		"sub":            "google-123",
		"email":          "user@example.com",
		"email_verified": false,
	})

	_, err := v.Validate(context.Background(), token)
	require.Error(t, err)
	oe, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, oe.Status)
	assert.Equal(t, CodeEmailNotVerified, oe.Code)
	assert.Equal(t, "Email address is not verified", oe.Message)
	assert.Equal(t, int64(0), atomic.LoadInt64(&counter.calls), "unverified ID token must not fall through to userinfo")
}

func TestValidateIDTokenMissingClaimsFallsBack(t *testing.T) {
	// A JWT without sub or email_verified is treated as an opaque access
	// token and resolved through userinfo.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "fallback-1",
			"email":          "fb@example.com",
			"verified_email": true,
		})
	}))
	defer server.Close()

	v := newTestValidator(server.URL, server.Client())
	token := makeJWT(t, map[string]interface{}{"scope": "openid"})

	identity, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "fallback-1", identity.ID)
}

func TestValidateOpaqueTokenUserInfo(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "opaque-7",
			"email":          "op@example.com",
			"verified_email": true,
			"name":           "Opaque User",
		})
	}))
	defer server.Close()

	v := newTestValidator(server.URL, server.Client())

	identity, err := v.Validate(context.Background(), "ya29.opaque")
	require.NoError(t, err)
	assert.Equal(t, "Bearer ya29.opaque", gotAuth)
	assert.Equal(t, "opaque-7", identity.ID)
	assert.Equal(t, "op@example.com", identity.Email)
}

func TestValidateUserInfoSubFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":            "sub-only",
			"verified_email": true,
		})
	}))
	defer server.Close()

	v := newTestValidator(server.URL, server.Client())
	identity, err := v.Validate(context.Background(), "opaque")
	require.NoError(t, err)
	assert.Equal(t, "sub-only", identity.ID)
}

func TestValidateUserInfoUnverifiedEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "u-1",
			"verified_email": false,
		})
	}))
	defer server.Close()

	v := newTestValidator(server.URL, server.Client())
	_, err := v.Validate(context.Background(), "opaque")
	require.Error(t, err)
	oe, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, oe.Status)
	assert.Equal(t, CodeEmailNotVerified, oe.Code)
}

func TestValidateUserInfoProviderError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "flat error description",
			status:  http.StatusUnauthorized,
			body:    `{"error":"invalid_token","error_description":"Token expired"}`,
			wantMsg: "Token expired",
		},
		{
			name:    "nested error message",
			status:  http.StatusUnauthorized,
			body:    `{"error":{"message":"Invalid Credentials"}}`,
			wantMsg: "Invalid Credentials",
		},
		{
			name:    "opaque body",
			status:  http.StatusForbidden,
			body:    `nope`,
			wantMsg: "Failed to validate access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			v := newTestValidator(server.URL, server.Client())
			_, err := v.Validate(context.Background(), "opaque")
			require.Error(t, err)
			oe, ok := err.(*OAuthError)
			require.True(t, ok)
			assert.Equal(t, tt.status, oe.Status)
			assert.Equal(t, tt.wantMsg, oe.Message)
			assert.Equal(t, CodeInvalidToken, oe.Code)
		})
	}
}

func TestValidateNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	v := newTestValidator(server.URL, nil)
	_, err := v.Validate(context.Background(), "opaque")
	require.Error(t, err)
	oe, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, oe.Status)
	assert.Equal(t, CodeInvalidToken, oe.Code)
}

func TestValidateConcurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractBearerToken(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "user-" + token,
			"verified_email": true,
		})
	}))
	defer server.Close()

	v := newTestValidator(server.URL, server.Client())

	var wg sync.WaitGroup
	tokens := []string{"a", "b", "c", "d", "e"}
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			for range [20]int{} {
				identity, err := v.Validate(context.Background(), token)
				assert.NoError(t, err)
				assert.Equal(t, "user-"+token, identity.ID)
			}
		}(token)
	}
	wg.Wait()
}
