package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mcp-memory-gateway/pkg/mcp/protocol"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	Address string
	// Path serving websocket upgrades, default "/ws".
	Path string

	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration

	CheckOrigin func(r *http.Request) bool

	// Authorize inspects the upgrade request and returns the handler that
	// serves the connection, typically a dispatcher bound to the caller's
	// identity. A nil Authorize accepts every connection with the handler
	// passed to Start. Returning an error rejects the upgrade with 401.
	Authorize func(r *http.Request) (RequestHandler, error)
}

func (c *WebSocketConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 4096
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 1024 * 1024
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// WebSocketTransport serves one JSON-RPC message per text frame. Each
// connection is authorized once at upgrade time and keeps its handler for
// its whole lifetime.
type WebSocketTransport struct {
	config   *WebSocketConfig
	server   *http.Server
	upgrader *websocket.Upgrader
	handler  RequestHandler

	mu      sync.RWMutex
	running bool

	connMu      sync.RWMutex
	connections map[*websocket.Conn]struct{}
}

// NewWebSocketTransport creates a WebSocket transport.
func NewWebSocketTransport(config *WebSocketConfig) *WebSocketTransport {
	config.applyDefaults()
	return &WebSocketTransport{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin:      config.CheckOrigin,
		},
		connections: make(map[*websocket.Conn]struct{}),
	}
}

// Start begins accepting connections. It returns once the listener is
// launched; the server shuts down when ctx is cancelled or Stop is called.
func (t *WebSocketTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("websocket transport already running")
	}
	t.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc(t.config.Path, t.handleUpgrade)
	t.server = &http.Server{
		Addr:              t.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: t.config.HandshakeTimeout,
	}
	t.running = true

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
		}
	}()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Stop closes all connections and shuts the server down.
func (t *WebSocketTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false

	t.connMu.Lock()
	for conn := range t.connections {
		_ = conn.Close()
	}
	t.connections = make(map[*websocket.Conn]struct{})
	t.connMu.Unlock()

	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// IsRunning reports whether the transport is accepting connections.
func (t *WebSocketTransport) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// ConnectionCount returns the number of live connections.
func (t *WebSocketTransport) ConnectionCount() int {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return len(t.connections)
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	handler := t.handler
	if t.config.Authorize != nil {
		h, err := t.config.Authorize(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler = h
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.connMu.Lock()
	t.connections[conn] = struct{}{}
	t.connMu.Unlock()

	go t.serveConn(conn, handler)
}

func (t *WebSocketTransport) serveConn(conn *websocket.Conn, handler RequestHandler) {
	defer func() {
		t.connMu.Lock()
		delete(t.connections, conn)
		t.connMu.Unlock()
		_ = conn.Close()
	}()

	conn.SetReadLimit(t.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	})

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	// The ping loop and the reader both write to the connection; gorilla
	// allows a single concurrent writer, so every write holds writeMu.
	var writeMu sync.Mutex
	write := func(resp *protocol.JSONRPCResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
		return conn.WriteJSON(resp)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var req protocol.JSONRPCRequest
			if err := json.Unmarshal(message, &req); err != nil {
				_ = write(protocol.NewErrorResponse(nil, protocol.ParseError, "Parse error", nil))
				continue
			}
			if req.JSONRPC != "2.0" {
				_ = write(protocol.NewErrorResponse(req.ID, protocol.InvalidRequest, "Invalid Request", "jsonrpc must be \"2.0\""))
				continue
			}

			resp := handler.HandleRequest(context.Background(), &req)
			if resp == nil {
				continue
			}
			if err := write(resp); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
