// Package api wires the gateway's HTTP surface: OAuth endpoints, discovery
// metadata, the protected MCP JSON-RPC endpoint, and the REST API.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mcp-memory-gateway/internal/api/middleware"
	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
	"mcp-memory-gateway/internal/mcp"
	"mcp-memory-gateway/internal/ratelimit"
	"mcp-memory-gateway/internal/storage"
	"mcp-memory-gateway/pkg/mcp/protocol"
)

// maxRequestBody caps JSON-RPC and REST request bodies.
const maxRequestBody = 1 << 20

// Router assembles the HTTP handler tree.
type Router struct {
	cfg           *config.Config
	authenticator *auth.Authenticator
	oauth         *auth.Handlers
	dispatcher    *mcp.Dispatcher
	store         storage.Store
	limiter       *ratelimit.Limiter
	cors          *middleware.CORSMiddleware
	logger        logging.Logger
}

// NewRouter wires the router. The limiter is optional; nil disables rate
// limiting on the public auth endpoints.
func NewRouter(
	cfg *config.Config,
	authenticator *auth.Authenticator,
	oauthHandlers *auth.Handlers,
	dispatcher *mcp.Dispatcher,
	store storage.Store,
	limiter *ratelimit.Limiter,
) *Router {
	return &Router{
		cfg:           cfg,
		authenticator: authenticator,
		oauth:         oauthHandlers,
		dispatcher:    dispatcher,
		store:         store,
		limiter:       limiter,
		cors: middleware.NewCORSMiddleware(&middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		}),
		logger: logging.WithComponent("api"),
	}
}

// Handler builds the chi handler tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.RequestSize(maxRequestBody))
	r.Use(chimiddleware.Timeout(time.Duration(rt.cfg.Server.WriteTimeout) * time.Second))
	r.Use(rt.traceMiddleware)
	r.Use(chimiddleware.Heartbeat("/ping"))

	// Public surface.
	r.Group(func(r chi.Router) {
		r.Use(rt.cors.Public)

		// Preflight for routes registered under specific methods; the
		// CORS middleware answers before this handler runs.
		r.Options("/*", func(http.ResponseWriter, *http.Request) {})

		r.Get("/", rt.handleHealth)
		r.Get("/.well-known/oauth-authorization-server", rt.oauth.HandleAuthorizationServerMetadata)
		r.Get("/.well-known/openid-configuration", rt.oauth.HandleAuthorizationServerMetadata)
		r.Get("/.well-known/oauth-protected-resource", rt.oauth.HandleProtectedResourceMetadata)
		r.Get("/.well-known/jwks.json", rt.oauth.HandleJWKS)

		r.Group(func(r chi.Router) {
			if rt.limiter != nil {
				r.Use(rt.limiter.Middleware)
			}
			r.Post("/register", rt.oauth.HandleRegister)
			r.Get("/auth", rt.oauth.HandleAuthorize)
			r.Head("/auth", rt.oauth.HandleAuthorize)
			r.Get("/auth/callback", rt.oauth.HandleCallback)
			r.Post("/auth/callback", rt.oauth.HandleCallback)
			r.Post("/token", rt.oauth.HandleToken)
		})
	})

	// Protected surface.
	r.Group(func(r chi.Router) {
		r.Use(rt.cors.Protected)

		r.HandleFunc("/mcp", rt.handleMCP)
		r.HandleFunc("/mcp/*", rt.handleMCP)

		r.Route("/api", func(r chi.Router) {
			r.Use(rt.requireAuth)
			r.Get("/memories", rt.handleListMemories)
			r.Post("/memories", rt.handleStoreMemory)
			r.Delete("/memories/{id}", rt.handleDeleteMemory)
			r.Get("/search", rt.handleSearch)
			r.Post("/search", rt.handleSearch)
			r.Get("/namespaces", rt.handleListNamespaces)
			r.Post("/namespaces", rt.handleCreateNamespace)
		})
	})

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s %s OK\n", mcp.ServerName, mcp.ServerVersion)
}

// handleMCP serves the protected JSON-RPC endpoint. Authentication failures
// are transport-level 401s; protocol failures after dispatch travel inside
// a 200 response envelope.
func (rt *Router) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := rt.authenticator.Authenticate(r)
	if err != nil {
		auth.AsOAuthError(err).WriteHTTP(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}

	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.JSONRPC != "2.0" {
		http.Error(w, `jsonrpc must be "2.0"`, http.StatusBadRequest)
		return
	}

	resp := rt.dispatcher.Dispatch(r.Context(), &req, result.Identity)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		rt.logger.ErrorContext(r.Context(), "writing JSON-RPC response failed", "error", err.Error())
	}
}

type contextKey string

// identityKey carries the authenticated identity through the REST handlers.
const identityKey contextKey = "identity"

func (rt *Router) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := rt.authenticator.Authenticate(r)
		if err != nil {
			auth.AsOAuthError(err).WriteHTTP(w, r)
			return
		}
		ctx := contextWithIdentity(r.Context(), result.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", logging.GetTraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
