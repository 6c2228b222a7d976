package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-memory-gateway/internal/config"
)

// newTestHandlers wires handlers against an optional token endpoint. When
// tokenURL is empty the provider must never be contacted.
func newTestHandlers(t *testing.T, tokenURL string, client *http.Client, devGrants bool) *Handlers {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.AuthURL = "https://provider.example.com/auth"
	cfg.OAuth.TokenURL = tokenURL
	cfg.OAuth.RedirectURL = "https://gateway.example.com/auth/callback"
	cfg.OAuth.DevGrants = devGrants

	flow := NewFlowOrchestrator(&cfg.OAuth, client)
	validator := &fakeValidator{
		validateFunc: func(context.Context, string) (*Identity, error) {
			return &Identity{ID: "u-1", Name: "Test User", VerifiedEmail: true}, nil
		},
	}
	return NewHandlers(cfg, flow, validator)
}

func TestHandleAuthorizeOAuthClient(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodGet,
		"/auth?client_id=down-1&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb&response_type=code&state=xyz&scope=openid", nil)
	w := httptest.NewRecorder()
	h.HandleAuthorize(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", loc.Host)

	fs, ok := DecodeFlowState(loc.Query().Get("state"))
	require.True(t, ok, "provider state must carry the wrapped flow state")
	assert.Equal(t, "xyz", fs.OriginalState)
	assert.Equal(t, "https://app.example.com/cb", fs.RedirectURI)
	assert.Equal(t, "down-1", fs.ClientID)
}

func TestHandleAuthorizeBrowser(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodGet, "/auth?state=plain", nil)
	w := httptest.NewRecorder()
	h.HandleAuthorize(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["message"])

	authURL, err := url.Parse(body["authUrl"])
	require.NoError(t, err)
	assert.Equal(t, "plain", authURL.Query().Get("state"))
}

func TestHandleAuthorizeMissingResponseType(t *testing.T) {
	// client_id and redirect_uri without response_type=code is not a
	// delegated client; it gets the JSON body.
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodGet,
		"/auth?client_id=down-1&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb", nil)
	w := httptest.NewRecorder()
	h.HandleAuthorize(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestHandleCallbackPassthrough(t *testing.T) {
	var exchanges int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)
	}))
	defer server.Close()

	h := newTestHandlers(t, server.URL, server.Client(), false)

	state := EncodeFlowState(&FlowState{
		OriginalState: "xyz",
		RedirectURI:   "https://app.example.com/cb",
		ClientID:      "down-1",
	})
	r := httptest.NewRequest(http.MethodGet, "/auth/callback?code=ABC123&state="+url.QueryEscape(state), nil)
	w := httptest.NewRecorder()
	h.HandleCallback(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "ABC123", loc.Query().Get("code"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Equal(t, int64(0), atomic.LoadInt64(&exchanges), "passthrough must not exchange the code")
}

func TestHandleCallbackDirectExchangeGET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	h := newTestHandlers(t, server.URL, server.Client(), false)

	r := httptest.NewRequest(http.MethodGet, "/auth/callback?code=ABC123&state=plain-csrf", nil)
	w := httptest.NewRecorder()
	h.HandleCallback(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Authentication successful")
	assert.Contains(t, w.Body.String(), "Test User")
}

func TestHandleCallbackDirectExchangePOST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-1",
			"token_type":    "Bearer",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	h := newTestHandlers(t, server.URL, server.Client(), false)

	form := url.Values{"code": {"ABC123"}}
	r := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.HandleCallback(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tokens   *Token    `json:"tokens"`
		Identity *Identity `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Tokens)
	assert.Equal(t, "at-1", body.Tokens.AccessToken)
	require.NotNil(t, body.Identity)
	assert.Equal(t, "u-1", body.Identity.ID)
}

func TestHandleCallbackProviderError(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodGet,
		"/auth/callback?error=access_denied&error_description=User+denied+access", nil)
	w := httptest.NewRecorder()
	h.HandleCallback(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "User denied access")
}

func TestHandleCallbackMissingCode(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodPost, "/auth/callback", nil)
	w := httptest.NewRecorder()
	h.HandleCallback(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeInvalidRequest, body["error"])
}

func TestHandleTokenAuthorizationCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code-1", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	h := newTestHandlers(t, server.URL, server.Client(), false)

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"code-1"}}
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.HandleToken(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var tok Token
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	assert.Equal(t, "at-1", tok.AccessToken)
}

func TestHandleTokenDevGrantsDisabled(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	for _, grant := range []string{"client_credentials", "refresh_token"} {
		form := url.Values{"grant_type": {grant}}
		r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		h.HandleToken(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code, "grant %s", grant)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, CodeUnsupportedGrant, body["error"])
	}
}

func TestHandleTokenDevGrantsEnabled(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, true)

	r := httptest.NewRequest(http.MethodPost, "/token",
		strings.NewReader(`{"grant_type":"client_credentials"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleToken(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var tok Token
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	assert.True(t, strings.HasPrefix(tok.AccessToken, ServiceTokenPrefix))
	assert.Equal(t, "Bearer", tok.TokenType)
}

func TestHandleTokenUnknownGrant(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, true)

	form := url.Values{"grant_type": {"password"}}
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.HandleToken(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRegister(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodPost, "/register",
		strings.NewReader(`{"client_name":"My App","redirect_uris":["https://app.example.com/cb"],"client_id":"forged"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleRegister(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	clientID, _ := body["client_id"].(string)
	assert.True(t, strings.HasPrefix(clientID, "mcp-client-"), "reserved fields must not be overridden")
	assert.Equal(t, "My App", body["client_name"])
	assert.NotEmpty(t, body["client_secret"])
}

func TestHandleRegisterEmptyBody(t *testing.T) {
	h := newTestHandlers(t, "https://provider.example.com/token", nil, false)

	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(""))
	w := httptest.NewRecorder()
	h.HandleRegister(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
}
