package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aigw/internal/agent"
	"github.com/kalambet/aigw/internal/api"
	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/chat"
	"github.com/kalambet/aigw/internal/chunker"
	"github.com/kalambet/aigw/internal/composer"
	"github.com/kalambet/aigw/internal/config"
	"github.com/kalambet/aigw/internal/memory"
	"github.com/kalambet/aigw/internal/metrics"
	"github.com/kalambet/aigw/internal/ollama"
	"github.com/kalambet/aigw/internal/pipeline"
	"github.com/kalambet/aigw/internal/proxy"
	"github.com/kalambet/aigw/internal/retrieval"
	"github.com/kalambet/aigw/internal/router"
	"github.com/kalambet/aigw/internal/scheduler"
	"github.com/kalambet/aigw/internal/storage"
	"github.com/kalambet/aigw/internal/sysinfo"
	"github.com/kalambet/aigw/internal/tools"
)

// app holds every long-lived component. It is built once per process and
// shared by the HTTP server, the MCP server and the offline commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store     *storage.Store
	ollama    *ollama.Client
	metrics   *metrics.Manager
	backends  *backend.Registry
	routes    api.Routes
	memory    *memory.Store
	index     retrieval.VectorIndex
	retriever *retrieval.Retriever
	pipeline  *pipeline.Pipeline
	sampler   *sysinfo.Sampler
	tools     *tools.Registry
	agent     *agent.Loop
	chat      *chat.Service
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	versions, err := store.AppliedMigrations()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if len(versions) > 0 {
		logger.Info("storage opened", "dir", cfg.Storage.DataDir, "schema", versions[len(versions)-1])
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		ollama:  ollama.New(cfg.Ollama.BaseURL).WithTimeout(cfg.Ollama.Timeout),
		metrics: metrics.NewManager(cfg.Metrics.Enabled),
	}
	if err := a.wire(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	models := []backend.Backend{
		backend.NewOllama(config.BackendLocal, a.ollama, cfg.Ollama.ChatModel, false),
	}
	if cfg.CloudConfigured() {
		client := proxy.NewClient(cfg.Cloud.APIKey).
			WithBaseURL(cfg.Cloud.BaseURL).
			WithTimeout(cfg.Cloud.Timeout)
		models = append(models, backend.NewCloud(config.BackendCloud, client, cfg.Cloud.Model, cfg.Cloud.RequestsPerMinute))
	} else {
		a.logger.Warn("cloud backend disabled", "reason", config.MissingAPIKeyHint())
	}
	reg, err := backend.NewRegistry(models...)
	if err != nil {
		return err
	}
	a.backends = reg
	if a.routes, err = resolveRoutes(reg, cfg.Routing, a.logger); err != nil {
		return err
	}

	switch cfg.Retrieval.Index {
	case "memory":
		a.index = retrieval.NewMemoryIndex()
	default:
		a.index = retrieval.NewSQLiteIndex(a.store.DB())
	}
	a.retriever = retrieval.NewRetriever(retrieval.NewEmbedder(a.ollama, cfg.Ollama.EmbedModel), a.index)

	rt := router.New(a.logger, a.metrics)
	threshold := float32(cfg.Retrieval.Threshold)
	a.pipeline = pipeline.New(
		chunker.New(cfg.Retrieval.ChunkTokens),
		a.retriever,
		composer.New(cfg.Retrieval.MaxContextTokens),
		rt,
		pipeline.Config{
			TopK:      cfg.Retrieval.TopK,
			Threshold: &threshold,
			Logger:    a.logger,
			Metrics:   a.metrics,
		},
	)

	reader, err := sysinfo.NewReader()
	if err != nil {
		return fmt.Errorf("opening system metrics: %w", err)
	}
	a.sampler = sysinfo.NewSampler(reader, cfg.Agent.SampleInterval, a.logger)
	a.metrics.WatchSystem(a.sampler.Latest)

	a.tools, err = tools.NewRegistry(
		tools.SystemStatusTool(a.sampler),
		tools.KnowledgeBaseTool(a.pipeline),
	)
	if err != nil {
		return err
	}
	a.agent = agent.New(a.tools, rt, cfg.Agent.MaxIterations, a.logger)

	a.memory = memory.New(a.store, memory.Options{
		Window:     cfg.Memory.WindowSize,
		PurgeBatch: cfg.Memory.PurgeBatch,
	})
	a.chat = chat.New(a.memory, rt, a.logger)
	return nil
}

// resolveRoutes maps each configured route to registered backends. Ids of
// backends that are not registered are dropped; a route left empty is
// logged and answers every request with a failure.
func resolveRoutes(reg *backend.Registry, rc config.RoutingConfig, logger *slog.Logger) (api.Routes, error) {
	var routes api.Routes
	for _, r := range []struct {
		name string
		ids  []string
		dst  *[]backend.Backend
	}{
		{"default", rc.Default, &routes.Default},
		{"generate", rc.Generate, &routes.Generate},
		{"agent", rc.Agent, &routes.Agent},
		{"vision", rc.Vision, &routes.Vision},
		{"rag", rc.RAG, &routes.RAG},
		{"support", rc.Support, &routes.Support},
	} {
		ids := reg.Available(r.ids)
		if len(ids) == 0 {
			logger.Warn("route has no available backend", "route", r.name, "configured", r.ids)
			continue
		}
		bs, err := reg.Resolve(ids)
		if err != nil {
			return api.Routes{}, fmt.Errorf("route %s: %w", r.name, err)
		}
		*r.dst = bs
	}
	return routes, nil
}

func (a *app) handler() http.Handler {
	return api.NewHandler(api.Deps{
		Backends:  a.backends,
		Routes:    a.routes,
		Chat:      a.chat,
		Agent:     a.agent,
		Knowledge: a.pipeline,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
}

func (a *app) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Tools:     a.tools,
		Retriever: a.retriever,
		Knowledge: a.pipeline,
		Index:     a.index,
	})
}

// purgeJob removes messages older than the retention window.
func (a *app) purgeJob(ctx context.Context) error {
	n, err := a.memory.PurgeOlderThan(ctx, a.cfg.Memory.Retention)
	a.metrics.RecordPurge(n, err)
	if err != nil {
		return fmt.Errorf("purging messages: %w", err)
	}
	a.logger.Info("expired messages purged", "removed", n, "retention", a.cfg.Memory.Retention)
	return nil
}

func (a *app) purgeRunner() (*scheduler.Runner, error) {
	at, err := scheduler.ParseDaily(a.cfg.Memory.PurgeAt, time.Local)
	if err != nil {
		return nil, err
	}
	return scheduler.NewRunner("message-purge", at, a.purgeJob, a.logger), nil
}

func (a *app) Close() error {
	return a.store.Close()
}
