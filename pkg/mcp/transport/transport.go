// Package transport implements MCP transport adapters. Every transport
// delivers decoded JSON-RPC requests to a RequestHandler and writes back the
// response; authentication and method dispatch live behind the handler.
package transport

import (
	"context"

	"mcp-memory-gateway/pkg/mcp/protocol"
)

// Transport is a server-side MCP transport.
type Transport interface {
	Start(ctx context.Context, handler RequestHandler) error
	Stop() error
}

// RequestHandler handles a single decoded JSON-RPC request. Implementations
// must be safe for concurrent use; any caller identity is bound into the
// handler before it reaches the transport.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse
}

// RequestHandlerFunc adapts a function to the RequestHandler interface.
type RequestHandlerFunc func(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse

// HandleRequest implements RequestHandler.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return f(ctx, req)
}
