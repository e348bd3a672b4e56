// Package api exposes the gateway over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/pipeline"
	"github.com/kalambet/aigw/internal/router"
)

const (
	maxDocumentSize = 10 << 20 // 10MB
	maxImageSize    = 10 << 20 // 10MB
)

// Routes holds the ordered backends for each endpoint group. The first
// backend is the primary.
type Routes struct {
	Default  []backend.Backend
	Generate []backend.Backend
	Agent    []backend.Backend
	Vision   []backend.Backend
	RAG      []backend.Backend
	Support  []backend.Backend
}

// Conversations serves chat, persona and vision completions.
type Conversations interface {
	Chat(ctx context.Context, conversationID, text string, backends []backend.Backend) (router.Outcome, error)
	Clear(ctx context.Context, conversationID string) error
	Ask(ctx context.Context, system, text string, backends []backend.Backend) (router.Outcome, error)
	Stream(ctx context.Context, system, text string, b backend.Backend) (backend.Stream, error)
	Describe(ctx context.Context, question string, img backend.Image, backends []backend.Backend) (router.Outcome, error)
}

// Agent answers questions with host tools available to the model.
type Agent interface {
	Ask(ctx context.Context, system, question string, backends []backend.Backend) (router.Outcome, error)
}

// KnowledgeBase ingests documents and builds retrieval-augmented prompts.
type KnowledgeBase interface {
	Ingest(ctx context.Context, doc pipeline.Document) (int, error)
	Prompt(ctx context.Context, question string) (backend.Request, pipeline.Retrieval, error)
	DeleteDocument(ctx context.Context, docID string) (int, error)
}

// HTTPMetrics records request metrics and serves the scrape endpoint.
type HTTPMetrics interface {
	RecordHTTPRequest(method, route string, status int, d time.Duration)
	Handler() http.Handler
}

// Deps holds the collaborators of the HTTP handler. Metrics and Logger are
// optional.
type Deps struct {
	Backends  *backend.Registry
	Routes    Routes
	Chat      Conversations
	Agent     Agent
	Knowledge KnowledgeBase
	Metrics   HTTPMetrics
	Logger    *slog.Logger
}

type handlers struct {
	Deps
}

// NewHandler returns the gateway's HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(instrument(deps.Metrics))
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", handleHealth)
	r.Get("/v1/models", h.handleModels)

	r.Route("/ai", func(r chi.Router) {
		r.Get("/generate", h.handleGenerate)
		r.Get("/chat", h.handleChat)
		r.Delete("/chat/{userId}", h.handleClearChat)
		r.Get("/v1/googleAi/generate", h.handleFallbackGenerate)
		r.Post("/v1/googleAi/vision", h.handleVision)
		r.Get("/v1/agent/ask", h.handleAgentAsk)
	})

	r.Route("/api/v1/kb", func(r chi.Router) {
		r.Post("/documents", h.handleUploadDocument)
		r.Delete("/documents/{id}", h.handleDeleteDocument)
		r.Get("/ask", h.handleKnowledgeAsk)
	})

	r.Route("/support", func(r chi.Router) {
		r.Get("/ask", h.handleSupportAsk)
		r.Get("/stream", h.handleSupportStream)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type modelInfo struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Streaming bool   `json:"streaming"`
	Tools     bool   `json:"tools"`
	Vision    bool   `json:"vision"`
}

func (h *handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	data := []modelInfo{}
	if h.Backends != nil {
		for _, id := range h.Backends.IDs() {
			b, err := h.Backends.Get(id)
			if err != nil {
				continue
			}
			caps := b.Capabilities()
			data = append(data, modelInfo{
				ID:        id,
				Object:    "model",
				Streaming: caps.Streaming,
				Tools:     caps.Tools,
				Vision:    caps.Vision,
			})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

// instrument records method, matched route pattern, status and latency.
func instrument(m HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, text)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeText(w, code, fmt.Sprintf(format, args...))
}

// displayName turns a backend id into the label used in reply annotations.
func displayName(id string) string {
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}
