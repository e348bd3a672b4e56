package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigBackend abstracts platform-specific config storage.
// macOS uses UserDefaults (via `defaults` CLI), other platforms use an
// XDG config file.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend stores config in a JSON or YAML file, picked by extension.
// Keys may be written nested ({"server": {"port": 8080}}) or dotted
// ({"server.port": 8080}).
type fileBackend struct {
	path   string
	parser koanf.Parser
	k      *koanf.Koanf
}

func newFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, parser: parserFor(path), k: koanf.New(".")}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return b, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := b.k.Load(file.Provider(path), b.parser); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return b, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return json.Parser()
	}
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	base := filepath.Join(dir, "aigw")
	for _, name := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(filepath.Join(base, name)); err == nil {
			return filepath.Join(base, name)
		}
	}
	return filepath.Join(base, "config.json")
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := b.k.Marshal(b.parser)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if !b.k.Exists(key) {
		return "", false, nil
	}
	switch v := b.k.Get(key).(type) {
	case string:
		return v, true, nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), true, nil
	case map[string]any:
		return "", true, fmt.Errorf("%s is a section, not a value", key)
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if !b.k.Exists(key) {
		return 0, false, nil
	}
	switch v := b.k.Get(key).(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v < math.MinInt || v > math.MaxInt || v != math.Trunc(v) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", v, key)
		}
		return int(v), true, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	b.k.Delete(key)
	return b.save()
}
