package auth

import (
	"net/http"
)

// Discovery endpoints advertise this server as an OAuth2 authorization
// server and protected resource. All metadata is derived from the request's
// own origin so the server works behind any hostname without configuration.

// HandleAuthorizationServerMetadata serves RFC 8414 metadata. The same body
// answers /.well-known/oauth-authorization-server and
// /.well-known/openid-configuration.
func (h *Handlers) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	origin := h.origin(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                origin,
		"authorization_endpoint":                origin + "/auth",
		"token_endpoint":                        origin + "/token",
		"registration_endpoint":                 origin + "/register",
		"jwks_uri":                              origin + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		"scopes_supported":                      h.cfg.OAuth.ScopeList(),
	})
}

// HandleProtectedResourceMetadata serves RFC 9728-shaped metadata pointing
// MCP clients at this server's authorization endpoints.
func (h *Handlers) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	origin := h.origin(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":                 origin,
		"authorization_servers":    []string{origin},
		"scopes_supported":         h.cfg.OAuth.ScopeList(),
		"bearer_methods_supported": []string{"header"},
	})
}

// HandleJWKS serves an empty key set; tokens are not signed locally.
func (h *Handlers) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []interface{}{},
	})
}
