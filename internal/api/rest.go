package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mcp-memory-gateway/internal/auth"
	"mcp-memory-gateway/internal/storage"
)

// REST handlers mirror the MCP tools for plain HTTP clients. Every handler
// runs behind requireAuth and keys storage calls by the caller's identity.

func contextWithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func identityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

type storeMemoryRequest struct {
	Content   string   `json:"content"`
	Namespace string   `json:"namespace,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}

func (rt *Router) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRESTError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeRESTError(w, http.StatusBadRequest, "content is required")
		return
	}

	memory, err := rt.store.StoreMemory(r.Context(), identity.ID, req.Content, req.Namespace, req.Labels)
	if err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	writeRESTJSON(w, http.StatusCreated, memory)
}

func (rt *Router) handleListMemories(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	memories, err := rt.store.ListMemories(r.Context(), identity.ID, r.URL.Query().Get("namespace"))
	if err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	writeRESTJSON(w, http.StatusOK, map[string]interface{}{"memories": memories})
}

func (rt *Router) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if err := rt.store.DeleteMemory(r.Context(), identity.ID, id); err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query     string  `json:"query"`
	Namespace string  `json:"namespace,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	MinScore  float64 `json:"min_score,omitempty"`
}

func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req searchRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("q")
		req.Namespace = q.Get("namespace")
		req.Limit, _ = strconv.Atoi(q.Get("limit"))
		req.MinScore, _ = strconv.ParseFloat(q.Get("min_score"), 64)
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRESTError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeRESTError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := rt.store.SearchMemories(r.Context(), identity.ID, storage.SearchOptions{
		Query:     req.Query,
		Namespace: req.Namespace,
		Limit:     req.Limit,
		MinScore:  req.MinScore,
	})
	if err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	writeRESTJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type createNamespaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (rt *Router) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req createNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRESTError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeRESTError(w, http.StatusBadRequest, "name is required")
		return
	}

	ns, err := rt.store.CreateNamespace(r.Context(), identity.ID, req.Name, req.Description)
	if err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	writeRESTJSON(w, http.StatusCreated, ns)
}

func (rt *Router) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := rt.store.ListNamespaces(r.Context())
	if err != nil {
		rt.writeStorageError(w, r, err)
		return
	}
	writeRESTJSON(w, http.StatusOK, map[string]interface{}{"namespaces": namespaces})
}

func (rt *Router) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeRESTError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNamespaceExists):
		writeRESTError(w, http.StatusConflict, err.Error())
	default:
		rt.logger.ErrorContext(r.Context(), "storage operation failed", "error", err.Error())
		writeRESTError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeRESTJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRESTError(w http.ResponseWriter, status int, message string) {
	writeRESTJSON(w, status, map[string]string{"error": message})
}
