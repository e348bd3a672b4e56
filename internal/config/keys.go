package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AIGW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.shutdown_timeout", typ: kDuration, env: "AIGW_SERVER_SHUTDOWN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.ShutdownTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Server.ShutdownTimeout },
	},
	{
		key: "log.level", typ: kString, env: "AIGW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "AIGW_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AIGW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AIGW_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "AIGW_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "AIGW_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "AIGW_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "cloud.base_url", typ: kString, env: "AIGW_CLOUD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.BaseURL },
	},
	{
		key: "cloud.model", typ: kString, env: "AIGW_CLOUD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.Model },
	},
	{
		key: "cloud.api_key", typ: kString, env: "AIGW_CLOUD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Cloud.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.APIKey },
	},
	{
		key: "cloud.requests_per_minute", typ: kInt, env: "AIGW_CLOUD_REQUESTS_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Cloud.RequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Cloud.RequestsPerMinute },
	},
	{
		key: "cloud.timeout", typ: kDuration, env: "AIGW_CLOUD_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cloud.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cloud.Timeout },
	},
	{
		key: "routing.default", typ: kList, env: "AIGW_ROUTING_DEFAULT",
		apply:   func(cfg *Config, v any) { cfg.Routing.Default = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.Default },
	},
	{
		key: "routing.generate", typ: kList, env: "AIGW_ROUTING_GENERATE",
		apply:   func(cfg *Config, v any) { cfg.Routing.Generate = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.Generate },
	},
	{
		key: "routing.agent", typ: kList, env: "AIGW_ROUTING_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Routing.Agent = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.Agent },
	},
	{
		key: "routing.vision", typ: kList, env: "AIGW_ROUTING_VISION",
		apply:   func(cfg *Config, v any) { cfg.Routing.Vision = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.Vision },
	},
	{
		key: "routing.rag", typ: kList, env: "AIGW_ROUTING_RAG",
		apply:   func(cfg *Config, v any) { cfg.Routing.RAG = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.RAG },
	},
	{
		key: "routing.support", typ: kList, env: "AIGW_ROUTING_SUPPORT",
		apply:   func(cfg *Config, v any) { cfg.Routing.Support = v.([]string) },
		extract: func(cfg Config) any { return cfg.Routing.Support },
	},
	{
		key: "memory.window_size", typ: kInt, env: "AIGW_MEMORY_WINDOW_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Memory.WindowSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.WindowSize },
	},
	{
		key: "memory.retention", typ: kDuration, env: "AIGW_MEMORY_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Memory.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.Retention },
	},
	{
		key: "memory.purge_at", typ: kString, env: "AIGW_MEMORY_PURGE_AT",
		apply:   func(cfg *Config, v any) { cfg.Memory.PurgeAt = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.PurgeAt },
	},
	{
		key: "memory.purge_batch", typ: kInt, env: "AIGW_MEMORY_PURGE_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Memory.PurgeBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.PurgeBatch },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "AIGW_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "AIGW_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "retrieval.max_context_tokens", typ: kInt, env: "AIGW_RETRIEVAL_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextTokens },
	},
	{
		key: "retrieval.chunk_tokens", typ: kInt, env: "AIGW_RETRIEVAL_CHUNK_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkTokens },
	},
	{
		key: "retrieval.index", typ: kString, env: "AIGW_RETRIEVAL_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Index = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Index },
	},
	{
		key: "agent.max_iterations", typ: kInt, env: "AIGW_AGENT_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxIterations },
	},
	{
		key: "agent.sample_interval", typ: kDuration, env: "AIGW_AGENT_SAMPLE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Agent.SampleInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.SampleInterval },
	},
	{
		key: "metrics.enabled", typ: kBool, env: "AIGW_METRICS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Metrics.Enabled },
	},
}

// parseValue converts a raw string into the Go value expected by typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	case kList:
		return splitList(raw), nil
	}
	return nil, fmt.Errorf("unknown key type %d", typ)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// formatValue renders a config value the way parseValue accepts it.
func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case time.Duration:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
