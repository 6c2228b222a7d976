package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store used for development and tests.
// Memories are partitioned per user; namespaces are shared.
type MemoryStore struct {
	mu          sync.RWMutex
	memories    map[string]map[string]*Memory
	namespaces  map[string]*Namespace
	embedder    *Embedder
	searchLimit int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(embedder *Embedder, searchLimit int) *MemoryStore {
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &MemoryStore{
		memories:    make(map[string]map[string]*Memory),
		namespaces:  make(map[string]*Namespace),
		embedder:    embedder,
		searchLimit: searchLimit,
	}
}

// StoreMemory stores content for the user, embedding it for later search.
func (s *MemoryStore) StoreMemory(_ context.Context, userID, content, namespace string, labels []string) (*Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	memory := &Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Namespace: namespace,
		Labels:    append([]string(nil), labels...),
		Embedding: s.embedder.Embed(content),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memories[userID] == nil {
		s.memories[userID] = make(map[string]*Memory)
	}
	s.memories[userID][memory.ID] = memory
	return memory, nil
}

// SearchMemories ranks the user's memories by cosine similarity to the
// query embedding.
func (s *MemoryStore) SearchMemories(_ context.Context, userID string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.searchLimit
	}
	queryVec := s.embedder.Embed(opts.Query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for _, memory := range s.memories[userID] {
		if opts.Namespace != "" && memory.Namespace != opts.Namespace {
			continue
		}
		score := CosineSimilarity(queryVec, memory.Embedding)
		if score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{Memory: memory, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListMemories returns the user's memories, newest first, optionally
// filtered by namespace.
func (s *MemoryStore) ListMemories(_ context.Context, userID, namespace string) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memories := make([]*Memory, 0, len(s.memories[userID]))
	for _, memory := range s.memories[userID] {
		if namespace != "" && memory.Namespace != namespace {
			continue
		}
		memories = append(memories, memory)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	return memories, nil
}

// DeleteMemory removes one of the user's memories. Deleting a missing or
// foreign memory fails with ErrNotFound.
func (s *MemoryStore) DeleteMemory(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[userID][id]; !ok {
		return fmt.Errorf("deleting memory %s: %w", id, ErrNotFound)
	}
	delete(s.memories[userID], id)
	return nil
}

// CreateNamespace registers a new namespace name.
func (s *MemoryStore) CreateNamespace(_ context.Context, userID, name, description string) (*Namespace, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("namespace name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[name]; ok {
		return nil, fmt.Errorf("creating namespace %s: %w", name, ErrNamespaceExists)
	}
	ns := &Namespace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   userID,
		CreatedAt:   time.Now().UTC(),
	}
	s.namespaces[name] = ns
	return ns, nil
}

// ListNamespaces returns all namespaces sorted by name.
func (s *MemoryStore) ListNamespaces(_ context.Context) ([]*Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namespaces := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		namespaces = append(namespaces, ns)
	}
	sort.Slice(namespaces, func(i, j int) bool {
		return namespaces[i].Name < namespaces[j].Name
	})
	return namespaces, nil
}
