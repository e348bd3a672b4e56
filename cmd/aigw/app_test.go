package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/backend/backendtest"
	"github.com/kalambet/aigw/internal/config"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("AIGW_CLOUD_API_KEY", "")

	path := filepath.Join(dir, "config.yaml")
	yaml := "storage:\n  data_dir: " + filepath.Join(dir, "data") + "\nretrieval:\n  index: memory\n"
	if err := writeFile(path, yaml); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	return cfg
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		l := newLogger(&bytes.Buffer{}, config.LogConfig{Level: tt.level, Format: "text"})
		if !l.Enabled(context.Background(), tt.want) {
			t.Errorf("%s: level %v disabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
			t.Errorf("%s: level below %v enabled", tt.level, tt.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).Info("hello", "k", "v")
	if !bytes.HasPrefix(buf.Bytes(), []byte("{")) {
		t.Errorf("output = %q, want JSON", buf.String())
	}
}

func TestResolveRoutes_DropsUnregisteredBackends(t *testing.T) {
	local := backendtest.Answering(config.BackendLocal, "")
	reg, err := backend.NewRegistry(local)
	if err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	routes, err := resolveRoutes(reg, config.RoutingConfig{
		Default:  []string{config.BackendLocal},
		Generate: []string{config.BackendCloud, config.BackendLocal},
		Vision:   []string{config.BackendCloud},
	}, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(routes.Generate) != 1 || routes.Generate[0].ID() != config.BackendLocal {
		t.Errorf("generate route = %v", routes.Generate)
	}
	if len(routes.Vision) != 0 {
		t.Errorf("vision route = %v, want empty", routes.Vision)
	}
	if !bytes.Contains(logs.Bytes(), []byte("route=vision")) {
		t.Errorf("logs = %q, want a warning for the vision route", logs.String())
	}
}

func TestNewApp_WiresServer(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if got := a.backends.IDs(); len(got) != 1 || got[0] != config.BackendLocal {
		t.Errorf("backends = %v, want only the local backend without an API key", got)
	}
	if got := a.tools.Names(); len(got) != 2 {
		t.Errorf("tools = %v", got)
	}

	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := a.purgeJob(context.Background()); err != nil {
		t.Errorf("purge on empty store: %v", err)
	}
	if _, err := a.purgeRunner(); err != nil {
		t.Errorf("purge runner: %v", err)
	}
	if a.mcpServer() == nil {
		t.Error("mcp server not built")
	}
}

func TestNewApp_LogsSchemaVersion(t *testing.T) {
	cfg := testConfig(t)
	var logs bytes.Buffer
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if !strings.Contains(logs.String(), "storage opened") || !strings.Contains(logs.String(), "schema=1") {
		t.Errorf("logs = %q, want the applied schema version", logs.String())
	}
}
