package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/celesledger/internal/ledger"
	"github.com/kalambet/celesledger/internal/memory"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Turner runs one conversation turn. Satisfied by assistant.Orchestrator.
type Turner interface {
	Turn(ctx context.Context, threadID, userID, userText string) (string, error)
}

// LedgerReader is the ledger surface the management endpoints need.
type LedgerReader interface {
	RecentRecords(ctx context.Context, limit int) ([]ledger.Record, error)
	CountRecords(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
}

// MemorySearcher exposes semantic recall to the management endpoints.
type MemorySearcher interface {
	Search(ctx context.Context, userID, query string, limit int) ([]memory.ScoredEntry, error)
}

// Deps holds the collaborators for the HTTP handler.
type Deps struct {
	Assistant Turner
	Ledger    LedgerReader
	Memory    MemorySearcher
	// Token guards the management routes. Empty keeps them closed.
	Token string
	// DefaultUserID fills requests that omit user_id.
	DefaultUserID string
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
}

// ChatResponse is the reply envelope for POST /chat.
type ChatResponse struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply"`
}

// NewHandler builds the full HTTP surface: the chat endpoint and widget are
// open, record and memory management sits behind bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/", handleWidget)
	r.Post("/chat", handleChat(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/records", handleListRecords(deps))
		r.Delete("/records", handleClearRecords(deps))
		r.Get("/memories", handleSearchMemories(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.ThreadID == "" {
			req.ThreadID = uuid.NewString()
		}
		if req.UserID == "" {
			req.UserID = deps.DefaultUserID
		}

		reply, err := deps.Assistant.Turn(r.Context(), req.ThreadID, req.UserID, req.Message)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "turn failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{ThreadID: req.ThreadID, Reply: reply})
	}
}

func handleListRecords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Ledger.RecentRecords(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list records: %v", err)
			return
		}
		if records == nil {
			records = []ledger.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleClearRecords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := deps.Ledger.CountRecords(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count records: %v", err)
			return
		}
		if err := deps.Ledger.ClearAll(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear records: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "cleared",
			"deleted": count,
		})
	}
}

func handleSearchMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = deps.DefaultUserID
		}
		limit := parseIntParam(r, "limit", 3, 50)

		entries, err := deps.Memory.Search(r.Context(), userID, query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to search memories: %v", err)
			return
		}
		if entries == nil {
			entries = []memory.ScoredEntry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
