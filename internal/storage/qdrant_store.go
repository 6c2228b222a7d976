package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
)

// Payload kinds stored in the shared collection.
const (
	kindMemory    = "memory"
	kindNamespace = "namespace"
)

// QdrantStore implements Store on a Qdrant collection. Memories and
// namespace records share one collection, distinguished by a kind payload
// field; every data query filters on the caller's user id.
type QdrantStore struct {
	client      *qdrant.Client
	collection  string
	embedder    *Embedder
	searchLimit int
	logger      logging.Logger
}

// NewQdrantStore connects to Qdrant; call Initialize before use.
func NewQdrantStore(cfg *config.QdrantConfig, embedder *Embedder, searchLimit int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &QdrantStore{
		client:      client,
		collection:  cfg.Collection,
		embedder:    embedder,
		searchLimit: searchLimit,
		logger:      logging.WithComponent("qdrant_store"),
	}, nil
}

// Initialize creates the collection when it does not exist yet.
func (s *QdrantStore) Initialize(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.embedder.Dims()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.logger.Info("created qdrant collection", "collection", s.collection)
	return nil
}

// Close releases the underlying client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// StoreMemory embeds and upserts a memory point.
func (s *QdrantStore) StoreMemory(ctx context.Context, userID, content, namespace string, labels []string) (*Memory, error) {
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

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{s.memoryToPoint(memory)},
	})
	if err != nil {
		return nil, fmt.Errorf("upserting memory: %w", err)
	}
	return memory, nil
}

// SearchMemories performs a vector query over the user's memories.
func (s *QdrantStore) SearchMemories(ctx context.Context, userID string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.searchLimit
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(s.embedder.Embed(opts.Query)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
		Filter:         s.memoryFilter(userID, opts.Namespace),
		ScoreThreshold: qdrant.PtrOf(float32(opts.MinScore)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		memory := payloadToMemory(point.GetId(), point.GetPayload())
		if memory == nil {
			continue
		}
		results = append(results, SearchResult{Memory: memory, Score: float64(point.GetScore())})
	}
	return results, nil
}

// ListMemories scrolls the user's memories.
func (s *QdrantStore) ListMemories(ctx context.Context, userID, namespace string) ([]*Memory, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         s.memoryFilter(userID, namespace),
		Limit:          qdrant.PtrOf(uint32(1000)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}

	memories := make([]*Memory, 0, len(points))
	for _, point := range points {
		if memory := payloadToMemory(point.GetId(), point.GetPayload()); memory != nil {
			memories = append(memories, memory)
		}
	}
	return memories, nil
}

// DeleteMemory removes a memory after verifying ownership.
func (s *QdrantStore) DeleteMemory(ctx context.Context, userID, id string) error {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("fetching memory %s: %w", id, err)
	}
	if len(points) == 0 {
		return fmt.Errorf("deleting memory %s: %w", id, ErrNotFound)
	}
	payload := points[0].GetPayload()
	if payloadString(payload, "kind") != kindMemory || payloadString(payload, "user_id") != userID {
		return fmt.Errorf("deleting memory %s: %w", id, ErrNotFound)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return nil
}

// CreateNamespace upserts a namespace record, rejecting duplicate names.
func (s *QdrantStore) CreateNamespace(ctx context.Context, userID, name, description string) (*Namespace, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("namespace name cannot be empty")
	}

	existing, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			keywordCondition("kind", kindNamespace),
			keywordCondition("name", name),
		}},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("checking namespace %s: %w", name, err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("creating namespace %s: %w", name, ErrNamespaceExists)
	}

	ns := &Namespace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   userID,
		CreatedAt:   time.Now().UTC(),
	}
	point := &qdrant.PointStruct{
		Id:      pointID(ns.ID),
		Vectors: qdrant.NewVectors(s.embedder.Embed("namespace " + name)...),
		Payload: map[string]*qdrant.Value{
			"kind":        stringValue(kindNamespace),
			"name":        stringValue(ns.Name),
			"description": stringValue(ns.Description),
			"created_by":  stringValue(ns.CreatedBy),
			"created_at":  intValue(ns.CreatedAt.Unix()),
		},
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return nil, fmt.Errorf("upserting namespace %s: %w", name, err)
	}
	return ns, nil
}

// ListNamespaces scrolls all namespace records.
func (s *QdrantStore) ListNamespaces(ctx context.Context) ([]*Namespace, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			keywordCondition("kind", kindNamespace),
		}},
		Limit:       qdrant.PtrOf(uint32(1000)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}

	namespaces := make([]*Namespace, 0, len(points))
	for _, point := range points {
		payload := point.GetPayload()
		namespaces = append(namespaces, &Namespace{
			ID:          pointIDString(point.GetId()),
			Name:        payloadString(payload, "name"),
			Description: payloadString(payload, "description"),
			CreatedBy:   payloadString(payload, "created_by"),
			CreatedAt:   time.Unix(payloadInt(payload, "created_at"), 0).UTC(),
		})
	}
	return namespaces, nil
}

func (s *QdrantStore) memoryFilter(userID, namespace string) *qdrant.Filter {
	conditions := []*qdrant.Condition{
		keywordCondition("kind", kindMemory),
		keywordCondition("user_id", userID),
	}
	if namespace != "" {
		conditions = append(conditions, keywordCondition("namespace", namespace))
	}
	return &qdrant.Filter{Must: conditions}
}

func (s *QdrantStore) memoryToPoint(memory *Memory) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"kind":       stringValue(kindMemory),
		"user_id":    stringValue(memory.UserID),
		"content":    stringValue(memory.Content),
		"namespace":  stringValue(memory.Namespace),
		"created_at": intValue(memory.CreatedAt.Unix()),
	}
	if len(memory.Labels) > 0 {
		payload["labels"] = stringListValue(memory.Labels)
	}
	return &qdrant.PointStruct{
		Id:      pointID(memory.ID),
		Vectors: qdrant.NewVectors(memory.Embedding...),
		Payload: payload,
	}
}

func payloadToMemory(id *qdrant.PointId, payload map[string]*qdrant.Value) *Memory {
	if payloadString(payload, "kind") != kindMemory {
		return nil
	}
	return &Memory{
		ID:        pointIDString(id),
		UserID:    payloadString(payload, "user_id"),
		Content:   payloadString(payload, "content"),
		Namespace: payloadString(payload, "namespace"),
		Labels:    payloadStringSlice(payload, "labels"),
		CreatedAt: time.Unix(payloadInt(payload, "created_at"), 0).UTC(),
	}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func pointIDString(id *qdrant.PointId) string {
	return id.GetUuid()
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func stringListValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{
		ListValue: &qdrant.ListValue{Values: values},
	}}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if value, ok := payload[key]; ok {
		return value.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if value, ok := payload[key]; ok {
		return value.GetIntegerValue()
	}
	return 0
}

func payloadStringSlice(payload map[string]*qdrant.Value, key string) []string {
	value, ok := payload[key]
	if !ok {
		return nil
	}
	list := value.GetListValue()
	if list == nil {
		return nil
	}
	items := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		items = append(items, v.GetStringValue())
	}
	return items
}
