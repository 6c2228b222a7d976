// server is the MCP memory gateway binary. It exposes the memory tools over
// stdio, WebSocket, or HTTP with the full OAuth surface, selected by -mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcp-memory-gateway/internal/api"
	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
	"mcp-memory-gateway/internal/mcp"
	"mcp-memory-gateway/internal/ratelimit"
	"mcp-memory-gateway/internal/storage"
	"mcp-memory-gateway/pkg/mcp/transport"
)

func main() {
	var (
		mode = flag.String("mode", "http", "Server mode: stdio, ws, or http")
		addr = flag.String("addr", "", "Listen address, overrides configured host:port")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err.Error())
	}
	logging.SetDefaultLogger(logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to initialize storage", "error", err.Error())
	}
	defer cleanup()

	validator := auth.NewTokenValidator(&cfg.OAuth, nil)
	authenticator := auth.NewAuthenticator(validator)
	flow := auth.NewFlowOrchestrator(&cfg.OAuth, nil)
	oauthHandlers := auth.NewHandlers(cfg, flow, validator)
	dispatcher := mcp.NewDispatcher(store)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	switch *mode {
	case "stdio":
		runStdio(ctx, dispatcher)
	case "ws":
		runWebSocket(ctx, dispatcher, authenticator, listenAddr)
	case "http":
		runHTTP(ctx, cfg, dispatcher, authenticator, oauthHandlers, store, listenAddr)
	default:
		logging.Error("invalid mode, use stdio, ws, or http", "mode", *mode)
		os.Exit(2)
	}
}

// buildStore selects the configured storage backend.
func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	embedder := storage.NewEmbedder(cfg.Storage.EmbeddingDims)

	if cfg.Storage.Provider == "qdrant" {
		qs, err := storage.NewQdrantStore(&cfg.Qdrant, embedder, cfg.Storage.DefaultSearchLimit)
		if err != nil {
			return nil, nil, err
		}
		if err := qs.Initialize(ctx); err != nil {
			return nil, nil, err
		}
		return qs, func() { _ = qs.Close() }, nil
	}
	return storage.NewMemoryStore(embedder, cfg.Storage.DefaultSearchLimit), func() {}, nil
}

// runStdio serves a local trusted caller over stdin/stdout under the fixed
// service identity.
func runStdio(ctx context.Context, dispatcher *mcp.Dispatcher) {
	logging.Info("starting gateway in stdio mode")
	t := transport.NewStdioTransport()
	if err := t.Start(ctx, dispatcher.Bind(auth.ServiceIdentity())); err != nil &&
		!errors.Is(err, context.Canceled) {
		logging.Fatal("stdio transport failed", "error", err.Error())
	}
}

// runWebSocket authenticates each connection at upgrade time and binds the
// resolved identity to the connection's handler.
func runWebSocket(ctx context.Context, dispatcher *mcp.Dispatcher, authenticator *auth.Authenticator, addr string) {
	logging.Info("starting gateway in websocket mode", "addr", addr)
	t := transport.NewWebSocketTransport(&transport.WebSocketConfig{
		Address: addr,
		Path:    "/ws",
		Authorize: func(r *http.Request) (transport.RequestHandler, error) {
			if r.Header.Get("Authorization") == "" {
				if token := r.URL.Query().Get("access_token"); token != "" {
					r.Header.Set("Authorization", "Bearer "+token)
				}
			}
			result, err := authenticator.Authenticate(r)
			if err != nil {
				return nil, err
			}
			return dispatcher.Bind(result.Identity), nil
		},
	})
	if err := t.Start(ctx, nil); err != nil {
		logging.Fatal("websocket transport failed", "error", err.Error())
	}
	<-ctx.Done()
	_ = t.Stop()
}

// runHTTP serves the full surface: OAuth endpoints, discovery, MCP
// JSON-RPC, and the REST API, with graceful shutdown.
func runHTTP(
	ctx context.Context,
	cfg *config.Config,
	dispatcher *mcp.Dispatcher,
	authenticator *auth.Authenticator,
	oauthHandlers *auth.Handlers,
	store storage.Store,
	addr string,
) {
	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		var err error
		limiter, err = ratelimit.NewLimiter(&cfg.Redis)
		if err != nil {
			logging.Warn("rate limiter unavailable, continuing without it", "error", err.Error())
		} else {
			defer func() { _ = limiter.Close() }()
		}
	}

	router := api.NewRouter(cfg, authenticator, oauthHandlers, dispatcher, store, limiter)
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting gateway in http mode", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("http server failed", "error", err.Error())
		}
	case <-ctx.Done():
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error("graceful shutdown failed", "error", err.Error())
		}
	}
}
