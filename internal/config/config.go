package config

import (
	"fmt"
	"strings"
	"time"
)

// Backend identifiers used by the routing keys.
const (
	BackendLocal = "ollama"
	BackendCloud = "cloud"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Ollama    OllamaConfig
	Cloud     CloudConfig
	Routing   RoutingConfig
	Memory    MemoryConfig
	Retrieval RetrievalConfig
	Agent     AgentConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port            int           `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type OllamaConfig struct {
	BaseURL    string        `validate:"required,url"`
	ChatModel  string        `validate:"required"`
	EmbedModel string        `validate:"required"`
	Timeout    time.Duration `validate:"gt=0"`
}

type CloudConfig struct {
	BaseURL           string `validate:"required,url"`
	Model             string `validate:"required"`
	APIKey            string
	RequestsPerMinute int           `validate:"gte=0"`
	Timeout           time.Duration `validate:"gt=0"`
}

// RoutingConfig holds the ordered backend list for each endpoint. The first
// entry is the primary, the rest are fallbacks tried in order.
type RoutingConfig struct {
	Default  []string `validate:"min=1,dive,oneof=ollama cloud"`
	Generate []string `validate:"min=1,dive,oneof=ollama cloud"`
	Agent    []string `validate:"min=1,dive,oneof=ollama cloud"`
	Vision   []string `validate:"min=1,dive,oneof=ollama cloud"`
	RAG      []string `validate:"min=1,dive,oneof=ollama cloud"`
	Support  []string `validate:"min=1,dive,oneof=ollama cloud"`
}

type MemoryConfig struct {
	WindowSize int           `validate:"min=1"`
	Retention  time.Duration `validate:"gt=0"`
	PurgeAt    string        `validate:"required"`
	PurgeBatch int           `validate:"min=1"`
}

type RetrievalConfig struct {
	TopK             int     `validate:"min=1,max=100"`
	Threshold        float64 `validate:"gte=0,lte=1"`
	MaxContextTokens int     `validate:"min=1"`
	ChunkTokens      int     `validate:"min=1"`
	Index            string  `validate:"oneof=sqlite memory"`
}

type AgentConfig struct {
	MaxIterations  int           `validate:"min=1,max=50"`
	SampleInterval time.Duration `validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2:1b",
			EmbedModel: "nomic-embed-text",
			Timeout:    120 * time.Second,
		},
		Cloud: CloudConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "google/gemini-2.5-flash-lite",
			RequestsPerMinute: 15,
			Timeout:           60 * time.Second,
		},
		Routing: RoutingConfig{
			Default:  []string{BackendLocal},
			Generate: []string{BackendCloud, BackendLocal},
			Agent:    []string{BackendCloud, BackendLocal},
			Vision:   []string{BackendCloud},
			RAG:      []string{BackendLocal},
			Support:  []string{BackendLocal},
		},
		Memory: MemoryConfig{
			WindowSize: 10,
			Retention:  7 * 24 * time.Hour,
			PurgeAt:    "00:00",
			PurgeBatch: 500,
		},
		Retrieval: RetrievalConfig{
			TopK:             3,
			Threshold:        0.4,
			MaxContextTokens: 2000,
			ChunkTokens:      800,
			Index:            "sqlite",
		},
		Agent: AgentConfig{
			MaxIterations:  5,
			SampleInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store, then validates the result.
//
// On macOS the backend is UserDefaults (domain: com.aigw.app) and secrets
// fall back to macOS Keychain.
// Elsewhere the backend is a JSON or YAML file at
// $XDG_CONFIG_HOME/aigw/config.json and secrets are read from
// $XDG_DATA_HOME/aigw/secrets.json.
//
// Environment variables (AIGW_*) override backend values on all platforms.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path selects the
// platform backend.
func LoadFile(path string) (Config, error) {
	b, err := newPlatformBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const (
	keychainService = "aigw"
	keychainAccount = "cloud_api_key"
)

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Cloud.APIKey == "" {
		if key, err := kc.Get(keychainService, keychainAccount); err == nil && key != "" {
			cfg.Cloud.APIKey = key
		}
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CloudConfigured reports whether the cloud backend has credentials. Without
// them the cloud backend is not registered and routes fall back to the
// remaining entries.
func (c Config) CloudConfigured() bool {
	return c.Cloud.APIKey != ""
}

// MissingAPIKeyHint tells the operator where the cloud API key is looked up.
func MissingAPIKeyHint() string {
	return "cloud API key not set. Set it via environment variable AIGW_CLOUD_API_KEY" + apiKeyHint()
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", fmt.Errorf("reading secret %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}
