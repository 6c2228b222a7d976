// Package storage provides the per-user memory store behind the MCP tools
// and REST API, with an in-memory implementation for development and a
// Qdrant-backed implementation for vector search.
package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultNamespace receives memories stored without an explicit namespace.
const DefaultNamespace = "default"

// ErrNotFound is returned when a memory does not exist or is not owned by
// the requesting user. Ownership failures are indistinguishable from
// missing records so ids cannot be probed across tenants.
var ErrNotFound = errors.New("memory not found")

// ErrNamespaceExists is returned when creating a namespace whose name is
// already taken.
var ErrNamespaceExists = errors.New("namespace already exists")

// Memory is one stored memory record.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Namespace string    `json:"namespace"`
	Labels    []string  `json:"labels,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Namespace groups memories under a shared name.
type Namespace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchOptions narrows a semantic search.
type SearchOptions struct {
	Query     string  `json:"query"`
	Namespace string  `json:"namespace,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	MinScore  float64 `json:"min_score,omitempty"`
}

// SearchResult is a memory with its similarity score.
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// Store is the memory collaborator contract. Every data operation is keyed
// by the caller's user id; implementations must never return another user's
// memories.
type Store interface {
	StoreMemory(ctx context.Context, userID, content, namespace string, labels []string) (*Memory, error)
	SearchMemories(ctx context.Context, userID string, opts SearchOptions) ([]SearchResult, error)
	ListMemories(ctx context.Context, userID, namespace string) ([]*Memory, error)
	DeleteMemory(ctx context.Context, userID, id string) error
	CreateNamespace(ctx context.Context, userID, name, description string) (*Namespace, error)
	ListNamespaces(ctx context.Context) ([]*Namespace, error)
}
