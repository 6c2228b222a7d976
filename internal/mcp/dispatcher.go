package mcp

import (
	"context"
	"encoding/json"

	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/logging"
	"mcp-memory-gateway/internal/storage"
	"mcp-memory-gateway/pkg/mcp/protocol"
	"mcp-memory-gateway/pkg/mcp/transport"
)

// ServerName and ServerVersion identify this server in the initialize
// handshake.
const (
	ServerName    = "mcp-memory-gateway"
	ServerVersion = "1.0.0"
)

// methodHandler serves one JSON-RPC method. The caller identity is threaded
// explicitly; the dispatcher holds no per-request state.
type methodHandler func(ctx context.Context, req *protocol.JSONRPCRequest, identity *auth.Identity) *protocol.JSONRPCResponse

// Dispatcher routes JSON-RPC requests by method name through a fixed lookup
// table. It is stateless and safe for concurrent use; every transport
// shares one instance.
type Dispatcher struct {
	tools    []toolDef
	handlers map[string]methodHandler
	logger   logging.Logger
}

// NewDispatcher builds a dispatcher over the storage collaborator.
func NewDispatcher(store storage.Store) *Dispatcher {
	d := &Dispatcher{
		tools:  newToolSet(store),
		logger: logging.WithComponent("dispatcher"),
	}
	d.handlers = map[string]methodHandler{
		"initialize":                d.handleInitialize,
		"tools/list":                d.handleToolsList,
		"tools/call":                d.handleToolsCall,
		"resources/list":            d.handleResourcesList,
		"prompts/list":              d.handlePromptsList,
		"notifications/initialized": d.handleInitialized,
	}
	return d
}

// Dispatch routes one request. A nil identity is only meaningful for
// methods that do not require authentication; tools/call with a nil
// identity yields an unauthorized error (the HTTP transport rejects such
// requests before dispatch, other transports reach this path).
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.JSONRPCRequest, identity *auth.Identity) *protocol.JSONRPCResponse {
	handler, ok := d.handlers[req.Method]
	if !ok {
		d.logger.DebugContext(ctx, "unknown method", "method", req.Method)
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound,
			"Method not found: "+req.Method, nil)
	}
	return handler(ctx, req, identity)
}

// Bind returns a transport handler with the identity fixed for its
// lifetime, used by the stdio and websocket transports where
// authentication happens once per connection rather than per request.
func (d *Dispatcher) Bind(identity *auth.Identity) transport.RequestHandler {
	return transport.RequestHandlerFunc(func(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
		return d.Dispatch(ctx, req, identity)
	})
}

// ToolDescriptors returns the advertised tools in order.
func (d *Dispatcher) ToolDescriptors() []protocol.Tool {
	tools := make([]protocol.Tool, len(d.tools))
	for i, def := range d.tools {
		tools[i] = def.tool
	}
	return tools
}

func (d *Dispatcher) handleInitialize(_ context.Context, req *protocol.JSONRPCRequest, _ *auth.Identity) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		Capabilities: protocol.ServerCapabilities{
			Tools:     &protocol.ToolCapability{},
			Resources: &protocol.ResourceCapability{},
			Prompts:   &protocol.PromptCapability{},
		},
		ServerInfo: protocol.ServerInfo{Name: ServerName, Version: ServerVersion},
	})
}

func (d *Dispatcher) handleToolsList(_ context.Context, req *protocol.JSONRPCRequest, _ *auth.Identity) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, map[string]interface{}{
		"tools": d.ToolDescriptors(),
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *protocol.JSONRPCRequest, identity *auth.Identity) *protocol.JSONRPCResponse {
	if identity == nil {
		return protocol.NewErrorResponse(req.ID, protocol.Unauthorized,
			"Authentication required", nil)
	}

	// All in-call validation failures fold into an internal error, with
	// the single exception of an unknown tool name below.
	params, err := parseToolCallParams(req.Params)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.InternalError,
			"Invalid tools/call params", err.Error())
	}
	if params.Name == "" {
		return protocol.NewErrorResponse(req.ID, protocol.InternalError,
			"Tool name is required", nil)
	}

	def := d.findTool(params.Name)
	if def == nil {
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound,
			"Tool not found: "+params.Name, nil)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	text, err := def.handler(ctx, identity, args)
	if err != nil {
		d.logger.WarnContext(ctx, "tool call failed",
			"tool", params.Name, "user_id", identity.ID, "error", err.Error())
		return protocol.NewErrorResponse(req.ID, protocol.InternalError, err.Error(), nil)
	}

	d.logger.InfoContext(ctx, "tool call completed",
		"tool", params.Name, "user_id", identity.ID)
	return protocol.NewResponse(req.ID, protocol.NewToolCallResult(protocol.NewContent(text)))
}

func (d *Dispatcher) handleResourcesList(_ context.Context, req *protocol.JSONRPCRequest, _ *auth.Identity) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, map[string]interface{}{
		"resources": []protocol.Resource{},
	})
}

func (d *Dispatcher) handlePromptsList(_ context.Context, req *protocol.JSONRPCRequest, _ *auth.Identity) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, map[string]interface{}{
		"prompts": []protocol.Prompt{},
	})
}

func (d *Dispatcher) handleInitialized(_ context.Context, req *protocol.JSONRPCRequest, _ *auth.Identity) *protocol.JSONRPCResponse {
	// Acknowledged with an explicit null result; a bare nil would be
	// dropped from the wire envelope entirely.
	return protocol.NewResponse(req.ID, json.RawMessage("null"))
}

func (d *Dispatcher) findTool(name string) *toolDef {
	for i := range d.tools {
		if d.tools[i].tool.Name == name {
			return &d.tools[i]
		}
	}
	return nil
}

func parseToolCallParams(params interface{}) (*protocol.ToolCallParams, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var parsed protocol.ToolCallParams
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
