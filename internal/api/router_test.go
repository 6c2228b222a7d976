package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/mcp"
	"mcp-memory-gateway/internal/storage"
	"mcp-memory-gateway/pkg/mcp/protocol"
)

const testServiceToken = auth.ServiceTokenPrefix + "test"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}

	validator := auth.NewTokenValidator(&cfg.OAuth, nil)
	authenticator := auth.NewAuthenticator(validator)
	flow := auth.NewFlowOrchestrator(&cfg.OAuth, nil)
	handlers := auth.NewHandlers(cfg, flow, validator)
	store := storage.NewMemoryStore(storage.NewEmbedder(cfg.Storage.EmbeddingDims), cfg.Storage.DefaultSearchLimit)
	dispatcher := mcp.NewDispatcher(store)

	return NewRouter(cfg, authenticator, handlers, dispatcher, store, nil).Handler()
}

func mcpRequest(t *testing.T, body string, token string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) *protocol.JSONRPCResponse {
	t.Helper()
	var resp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "OK")
}

func TestMCPUnauthenticated(t *testing.T) {
	h := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, ""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	challenge := w.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, "Bearer realm=")
	assert.Contains(t, challenge, `error="missing_token"`)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "missing_token", body["error"])
}

func TestMCPMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		r := httptest.NewRequest(method, "/mcp", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	}
}

func TestMCPInvalidBody(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: `{"jsonrpc":`},
		{name: "missing jsonrpc", body: `{"id":1,"method":"tools/list"}`},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, mcpRequest(t, tt.body, testServiceToken))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestMCPUnknownMethodInsideEnvelope(t *testing.T) {
	h := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, `{"jsonrpc":"2.0","id":5,"method":"bogus/method"}`, testServiceToken))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeRPC(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}

func TestMCPInitializeAndToolsList(t *testing.T) {
	h := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, testServiceToken))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeRPC(t, w)
	require.Nil(t, resp.Error)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, testServiceToken))
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Result struct {
			Tools []protocol.Tool `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Result.Tools, 6)
}

func TestMCPStoreMemoryEndToEnd(t *testing.T) {
	h := newTestRouter(t)

	call := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "call-1",
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      "store_memory",
			"arguments": map[string]interface{}{"content": "integration note"},
		},
	}
	body, err := json.Marshal(call)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, string(body), testServiceToken))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ID     string `json:"id"`
		Result struct {
			Content []protocol.Content `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "call-1", resp.ID)
	require.NotEmpty(t, resp.Result.Content)
	assert.Contains(t, resp.Result.Content[0].Text, "Stored memory ")
}

func TestDiscoveryEndpoints(t *testing.T) {
	h := newTestRouter(t)

	paths := []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration",
		"/.well-known/oauth-protected-resource",
		"/.well-known/jwks.json",
	}
	for _, path := range paths {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Origin", "https://some-ide.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json", path)
		assert.Equal(t, "https://some-ide.example.com",
			w.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestPublicPreflightOnAuthEndpoints(t *testing.T) {
	h := newTestRouter(t)

	paths := []string{"/token", "/register", "/auth", "/auth/callback"}
	for _, path := range paths {
		r := httptest.NewRequest(http.MethodOptions, path, nil)
		r.Header.Set("Origin", "https://some-ide.example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code, path)
		assert.Equal(t, "https://some-ide.example.com",
			w.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost, path)
		assert.Empty(t, w.Body.String(), path)
	}
}

func TestAuthorizationServerMetadataShape(t *testing.T) {
	h := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	issuer, _ := meta["issuer"].(string)
	require.NotEmpty(t, issuer)
	assert.Equal(t, issuer+"/auth", meta["authorization_endpoint"])
	assert.Equal(t, issuer+"/token", meta["token_endpoint"])
	assert.Equal(t, issuer+"/register", meta["registration_endpoint"])
}

func TestProtectedCORSOnMCP(t *testing.T) {
	h := newTestRouter(t)

	r := mcpRequest(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, testServiceToken)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "null", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRESTMemoriesLifecycle(t *testing.T) {
	h := newTestRouter(t)

	do := func(method, path string, payload interface{}) *httptest.ResponseRecorder {
		var body *bytes.Buffer
		if payload != nil {
			data, err := json.Marshal(payload)
			require.NoError(t, err)
			body = bytes.NewBuffer(data)
		} else {
			body = bytes.NewBuffer(nil)
		}
		r := httptest.NewRequest(method, path, body)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+testServiceToken)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := do(http.MethodPost, "/api/memories", map[string]interface{}{
		"content":   "rest note",
		"namespace": "work",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var memory storage.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &memory))
	require.NotEmpty(t, memory.ID)

	w = do(http.MethodGet, "/api/memories?namespace=work", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rest note")

	w = do(http.MethodGet, "/api/search?q=rest+note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rest note")

	w = do(http.MethodDelete, "/api/memories/"+memory.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(http.MethodDelete, "/api/memories/"+memory.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTValidation(t *testing.T) {
	h := newTestRouter(t)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+testServiceToken)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/memories", `{"content":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/memories", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/search", "").Code)

	created := do(http.MethodPost, "/api/namespaces", `{"name":"dup"}`)
	require.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, http.StatusConflict, do(http.MethodPost, "/api/namespaces", `{"name":"dup"}`).Code)
}

func TestRESTUnauthenticated(t *testing.T) {
	h := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "trace-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "a trace id is generated when absent")
}

func TestServiceTokenIdentity(t *testing.T) {
	h := newTestRouter(t)

	// Two service tokens with different suffixes share the fixed service
	// identity, so memories stored by one are visible to the other.
	store := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"store_memory","arguments":{"content":"shared service note"}}}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, store, auth.ServiceTokenPrefix+"one"))
	require.Equal(t, http.StatusOK, w.Code)

	list := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_memories","arguments":{}}}`
	w = httptest.NewRecorder()
	h.ServeHTTP(w, mcpRequest(t, list, auth.ServiceTokenPrefix+"two"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shared service note")
}
