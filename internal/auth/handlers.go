package auth

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
)

// Handlers serves the public OAuth surface: authorization, callback, token,
// and dynamic client registration.
type Handlers struct {
	cfg       *config.Config
	flow      *FlowOrchestrator
	validator Validator
	logger    logging.Logger
}

// NewHandlers wires the OAuth endpoints.
func NewHandlers(cfg *config.Config, flow *FlowOrchestrator, validator Validator) *Handlers {
	return &Handlers{
		cfg:       cfg,
		flow:      flow,
		validator: validator,
		logger:    logging.WithComponent("oauth_handlers"),
	}
}

func (h *Handlers) origin(r *http.Request) string {
	if h.cfg.Server.PublicURL != "" {
		return strings.TrimRight(h.cfg.Server.PublicURL, "/")
	}
	return RequestOrigin(r)
}

// HandleAuthorize serves GET|HEAD /auth for two audiences. A downstream
// OAuth client (client_id, redirect_uri, response_type=code present) is
// 302-redirected to the upstream provider with its own flow state wrapped
// into the provider state parameter. Anything else gets a JSON body with
// the authorization URL to visit.
func (h *Handlers) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	state := q.Get("state")

	var scopes []string
	if scope := q.Get("scope"); scope != "" {
		scopes = strings.Fields(scope)
	}

	if clientID != "" && redirectURI != "" && responseType == "code" {
		wrapped := EncodeFlowState(&FlowState{
			OriginalState: state,
			RedirectURI:   redirectURI,
			ClientID:      clientID,
		})
		h.logger.InfoContext(r.Context(), "delegating authorization to provider",
			"client_id", clientID)
		http.Redirect(w, r, h.flow.BuildAuthorizationURL(scopes, wrapped), http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authUrl": h.flow.BuildAuthorizationURL(scopes, state),
		"message": "Visit the authorization URL to authenticate",
	})
}

// HandleCallback serves GET|POST /auth/callback. When the state parameter
// decodes to a wrapped flow state the code is passed through unexchanged to
// the downstream client, which performs its own exchange. Otherwise the
// exchange happens here: browsers get an HTML page, API callers get JSON.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code, state, provErr, provErrDesc := callbackParams(r)

	if provErr != "" {
		msg := provErrDesc
		if msg == "" {
			msg = provErr
		}
		h.writeCallbackError(w, r, NewOAuthError(msg, http.StatusBadRequest, provErr))
		return
	}
	if code == "" {
		h.writeCallbackError(w, r,
			NewOAuthError("Missing authorization code", http.StatusBadRequest, CodeInvalidRequest))
		return
	}

	if fs, ok := DecodeFlowState(state); ok {
		// Passthrough flow: the downstream client exchanges the code itself.
		target, err := url.Parse(fs.RedirectURI)
		if err != nil {
			h.writeCallbackError(w, r,
				NewOAuthError("Invalid redirect URI in state", http.StatusBadRequest, CodeInvalidRequest))
			return
		}
		qs := target.Query()
		qs.Set("code", code)
		if fs.OriginalState != "" {
			qs.Set("state", fs.OriginalState)
		}
		target.RawQuery = qs.Encode()
		h.logger.InfoContext(r.Context(), "passing authorization code through",
			"client_id", fs.ClientID)
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	token, err := h.flow.Exchange(r.Context(), code)
	if err != nil {
		h.writeCallbackError(w, r, AsOAuthError(err))
		return
	}

	var identity *Identity
	if credential := token.IDToken; credential != "" {
		identity, _ = h.validator.Validate(r.Context(), credential)
	}
	if identity == nil && token.AccessToken != "" {
		identity, _ = h.validator.Validate(r.Context(), token.AccessToken)
	}

	if r.Method == http.MethodGet {
		h.writeCallbackHTML(w, identity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens":   token,
		"identity": identity,
	})
}

func callbackParams(r *http.Request) (code, state, provErr, provErrDesc string) {
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		return r.Form.Get("code"), r.Form.Get("state"),
			r.Form.Get("error"), r.Form.Get("error_description")
	}
	q := r.URL.Query()
	return q.Get("code"), q.Get("state"), q.Get("error"), q.Get("error_description")
}

func (h *Handlers) writeCallbackError(w http.ResponseWriter, r *http.Request, oe *OAuthError) {
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(oe.Status)
		fmt.Fprintf(w, "<html><body><h1>Authentication failed</h1><p>%s</p></body></html>",
			html.EscapeString(oe.Message))
		return
	}
	oe.WriteHTTP(w, r)
}

func (h *Handlers) writeCallbackHTML(w http.ResponseWriter, identity *Identity) {
	name := "there"
	if identity != nil && identity.Name != "" {
		name = identity.Name
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>Authentication successful</h1><p>Hello %s, you can close this window.</p></body></html>",
		html.EscapeString(name))
}

// tokenRequest is the union of form and JSON token-endpoint bodies.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RefreshToken string `json:"refresh_token"`
}

// HandleToken serves POST /token. The externally facing grant is
// authorization_code. The client_credentials and refresh_token grants mint
// local service tokens instead of calling the provider and exist for
// development only; they are rejected unless dev grants are enabled.
func (h *Handlers) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		NewOAuthError("Malformed token request", http.StatusBadRequest, CodeInvalidRequest).WriteHTTP(w, r)
		return
	}

	switch req.GrantType {
	case "authorization_code":
		if req.Code == "" {
			NewOAuthError("Missing authorization code", http.StatusBadRequest, CodeInvalidRequest).WriteHTTP(w, r)
			return
		}
		token, err := h.flow.Exchange(r.Context(), req.Code)
		if err != nil {
			AsOAuthError(err).WriteHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusOK, token)

	case "client_credentials", "refresh_token":
		if !h.cfg.OAuth.DevGrants {
			NewOAuthError("Unsupported grant type: "+req.GrantType,
				http.StatusBadRequest, CodeUnsupportedGrant).WriteHTTP(w, r)
			return
		}
		h.logger.WarnContext(r.Context(), "minting dev service token",
			"grant_type", req.GrantType)
		writeJSON(w, http.StatusOK, &Token{
			AccessToken:  ServiceTokenPrefix + uuid.NewString(),
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			RefreshToken: ServiceTokenPrefix + uuid.NewString(),
		})

	default:
		NewOAuthError("Unsupported grant type: "+req.GrantType,
			http.StatusBadRequest, CodeUnsupportedGrant).WriteHTTP(w, r)
	}
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &tokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RefreshToken: r.Form.Get("refresh_token"),
	}, nil
}

// HandleRegister serves POST /register, an RFC 7591-style registration that
// always succeeds with synthetic credentials and echoes the submitted
// metadata. No registry is kept; issued client ids are not checked later.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var metadata map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		metadata = map[string]interface{}{}
	}

	response := map[string]interface{}{
		"client_id":                  "mcp-client-" + uuid.NewString(),
		"client_secret":              uuid.NewString(),
		"client_id_issued_at":        time.Now().Unix(),
		"client_secret_expires_at":   0,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "client_secret_post",
	}
	for k, v := range metadata {
		if _, reserved := response[k]; !reserved {
			response[k] = v
		}
	}

	h.logger.InfoContext(r.Context(), "registered dynamic client")
	writeJSON(w, http.StatusCreated, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
