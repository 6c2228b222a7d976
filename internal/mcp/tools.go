// Package mcp implements the JSON-RPC method dispatcher and the memory
// tools exposed over MCP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/storage"
	"mcp-memory-gateway/pkg/mcp/protocol"
)

// toolHandler executes one tool call for an authenticated caller and
// returns the textual result.
type toolHandler func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error)

type toolDef struct {
	tool    protocol.Tool
	handler toolHandler
}

// newToolSet builds the fixed tool table over the storage collaborator.
// The order here is the order tools/list reports.
func newToolSet(store storage.Store) []toolDef {
	return []toolDef{
		{
			tool: protocol.Tool{
				Name:        "store_memory",
				Description: "Store a memory with optional namespace and labels",
				InputSchema: objectSchema(map[string]interface{}{
					"content":   map[string]interface{}{"type": "string", "description": "The content to remember"},
					"namespace": map[string]interface{}{"type": "string", "description": "Namespace to store the memory in"},
					"labels": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Labels to attach to the memory",
					},
				}, "content"),
			},
			handler: func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error) {
				content, err := requiredString(args, "content")
				if err != nil {
					return "", err
				}
				namespace, err := optionalString(args, "namespace")
				if err != nil {
					return "", err
				}
				labels, err := optionalStringSlice(args, "labels")
				if err != nil {
					return "", err
				}
				memory, err := store.StoreMemory(ctx, identity.ID, content, namespace, labels)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Stored memory %s in namespace %q", memory.ID, memory.Namespace), nil
			},
		},
		{
			tool: protocol.Tool{
				Name:        "search_memories",
				Description: "Search memories by semantic similarity",
				InputSchema: objectSchema(map[string]interface{}{
					"query":     map[string]interface{}{"type": "string", "description": "Search query"},
					"namespace": map[string]interface{}{"type": "string", "description": "Restrict search to a namespace"},
					"limit":     map[string]interface{}{"type": "number", "description": "Maximum number of results"},
					"min_score": map[string]interface{}{"type": "number", "description": "Minimum similarity score"},
				}, "query"),
			},
			handler: func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error) {
				query, err := requiredString(args, "query")
				if err != nil {
					return "", err
				}
				namespace, err := optionalString(args, "namespace")
				if err != nil {
					return "", err
				}
				limit, err := optionalNumber(args, "limit")
				if err != nil {
					return "", err
				}
				minScore, err := optionalNumber(args, "min_score")
				if err != nil {
					return "", err
				}
				results, err := store.SearchMemories(ctx, identity.ID, storage.SearchOptions{
					Query:     query,
					Namespace: namespace,
					Limit:     int(limit),
					MinScore:  minScore,
				})
				if err != nil {
					return "", err
				}
				if len(results) == 0 {
					return "No matching memories found", nil
				}
				var sb strings.Builder
				fmt.Fprintf(&sb, "Found %d memories:\n", len(results))
				for _, result := range results {
					fmt.Fprintf(&sb, "- [%.3f] %s (%s): %s\n",
						result.Score, result.Memory.ID, result.Memory.Namespace, result.Memory.Content)
				}
				return sb.String(), nil
			},
		},
		{
			tool: protocol.Tool{
				Name:        "list_memories",
				Description: "List stored memories, optionally filtered by namespace",
				InputSchema: objectSchema(map[string]interface{}{
					"namespace": map[string]interface{}{"type": "string", "description": "Namespace to list"},
				}),
			},
			handler: func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error) {
				namespace, err := optionalString(args, "namespace")
				if err != nil {
					return "", err
				}
				memories, err := store.ListMemories(ctx, identity.ID, namespace)
				if err != nil {
					return "", err
				}
				data, err := json.MarshalIndent(memories, "", "  ")
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
		},
		{
			tool: protocol.Tool{
				Name:        "delete_memory",
				Description: "Delete a memory by id",
				InputSchema: objectSchema(map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Memory id to delete"},
				}, "id"),
			},
			handler: func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error) {
				id, err := requiredString(args, "id")
				if err != nil {
					return "", err
				}
				if err := store.DeleteMemory(ctx, identity.ID, id); err != nil {
					return "", err
				}
				return fmt.Sprintf("Deleted memory %s", id), nil
			},
		},
		{
			tool: protocol.Tool{
				Name:        "create_namespace",
				Description: "Create a namespace for grouping memories",
				InputSchema: objectSchema(map[string]interface{}{
					"name":        map[string]interface{}{"type": "string", "description": "Namespace name"},
					"description": map[string]interface{}{"type": "string", "description": "Namespace description"},
				}, "name"),
			},
			handler: func(ctx context.Context, identity *auth.Identity, args map[string]interface{}) (string, error) {
				name, err := requiredString(args, "name")
				if err != nil {
					return "", err
				}
				description, err := optionalString(args, "description")
				if err != nil {
					return "", err
				}
				ns, err := store.CreateNamespace(ctx, identity.ID, name, description)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created namespace %q (%s)", ns.Name, ns.ID), nil
			},
		},
		{
			tool: protocol.Tool{
				Name:        "list_namespaces",
				Description: "List all namespaces",
				InputSchema: objectSchema(map[string]interface{}{}),
			},
			handler: func(ctx context.Context, _ *auth.Identity, _ map[string]interface{}) (string, error) {
				namespaces, err := store.ListNamespaces(ctx)
				if err != nil {
					return "", err
				}
				data, err := json.MarshalIndent(namespaces, "", "  ")
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
		},
	}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	value, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q cannot be empty", key)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, key string) (string, error) {
	value, ok := args[key]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalNumber(args map[string]interface{}, key string) (float64, error) {
	value, ok := args[key]
	if !ok || value == nil {
		return 0, nil
	}
	switch n := value.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}

func optionalStringSlice(args map[string]interface{}, key string) ([]string, error) {
	value, ok := args[key]
	if !ok || value == nil {
		return nil, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	items := make([]string, 0, len(list))
	for _, entry := range list {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		items = append(items, s)
	}
	return items, nil
}
