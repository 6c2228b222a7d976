package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"mcp-memory-gateway/pkg/mcp/protocol"
)

// StdioTransport speaks line-delimited JSON-RPC over a reader/writer pair,
// by default stdin and stdout. It serves one caller and is used for local
// trusted clients.
type StdioTransport struct {
	scanner *bufio.Scanner
	encoder *json.Encoder
	mu      sync.Mutex
	running bool
}

// NewStdioTransport creates a transport bound to os.Stdin and os.Stdout.
func NewStdioTransport() *StdioTransport {
	return NewStdioTransportWithIO(os.Stdin, os.Stdout)
}

// NewStdioTransportWithIO creates a transport with custom IO, used in tests.
func NewStdioTransportWithIO(input io.Reader, output io.Writer) *StdioTransport {
	return &StdioTransport{
		scanner: bufio.NewScanner(input),
		encoder: json.NewEncoder(output),
	}
}

// Start reads requests until EOF or context cancellation. Malformed lines
// produce a parse error response and the loop continues.
func (t *StdioTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("stdio transport already running")
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return fmt.Errorf("reading request line: %w", err)
			}
			return nil
		}

		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			resp := protocol.NewErrorResponse(nil, protocol.ParseError, "Parse error", err.Error())
			if werr := t.send(resp); werr != nil {
				return fmt.Errorf("writing parse error response: %w", werr)
			}
			continue
		}

		if req.JSONRPC != "2.0" {
			resp := protocol.NewErrorResponse(req.ID, protocol.InvalidRequest, "Invalid Request", "jsonrpc must be \"2.0\"")
			if werr := t.send(resp); werr != nil {
				return fmt.Errorf("writing invalid request response: %w", werr)
			}
			continue
		}

		resp := handler.HandleRequest(ctx, &req)
		if resp == nil {
			// Notification, nothing to write.
			continue
		}
		if err := t.send(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// Stop marks the transport stopped. The read loop exits on the next
// context check or EOF.
func (t *StdioTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

// IsRunning reports whether Start is active.
func (t *StdioTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *StdioTransport) send(resp *protocol.JSONRPCResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoder.Encode(resp)
}
