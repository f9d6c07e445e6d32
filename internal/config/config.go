package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/tether/internal/backend"
)

// Config captures everything tether reads from config.toml.
type Config struct {
	BackendURL   string
	PollInterval time.Duration
	CachePath    string
	TokenFile    string
	LogLevel     string
	LogFile      string
	Watches      []Watch
	Mutations    []Mutation
}

// Watch is a live or paginated query shown by the terminal client.
type Watch struct {
	Name     string
	Kind     backend.Kind
	Args     map[string]any
	Enabled  *Predicate // nil means always enabled
	PageSize int
}

// Mutation is a one-shot call the terminal client can run.
type Mutation struct {
	Name string
	Kind backend.Kind
	Args map[string]any
	// Key names the query to refresh after the call succeeds.
	Key string
}

const (
	defaultConfigPath   = "~/.config/tether/config.toml"
	defaultBackendURL   = "127.0.0.1:7488"
	defaultPollInterval = 2 * time.Second
	defaultCachePath    = "~/.local/share/tether/cache.db"
	defaultTokenFile    = "~/.config/tether/token"
	defaultLogLevel     = "info"
	defaultLogFile      = "~/.local/share/tether/tether.log"
)

type rawConfig struct {
	BackendURL   string        `toml:"backend_url"`
	PollInterval string        `toml:"poll_interval"`
	CachePath    string        `toml:"cache_path"`
	TokenFile    string        `toml:"token_file"`
	LogLevel     string        `toml:"log_level"`
	LogFile      string        `toml:"log_file"`
	Watches      []rawWatch    `toml:"watch"`
	Mutations    []rawMutation `toml:"mutation"`
}

type rawWatch struct {
	Name     string         `toml:"name"`
	Kind     string         `toml:"kind"`
	Args     map[string]any `toml:"args"`
	Enabled  string         `toml:"enabled"`
	PageSize int            `toml:"page_size"`
}

type rawMutation struct {
	Name string         `toml:"name"`
	Kind string         `toml:"kind"`
	Args map[string]any `toml:"args"`
	Key  string         `toml:"key"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BackendURL:   defaultBackendURL,
		PollInterval: defaultPollInterval,
		CachePath:    mustExpand(defaultCachePath),
		TokenFile:    mustExpand(defaultTokenFile),
		LogLevel:     defaultLogLevel,
		LogFile:      mustExpand(defaultLogFile),
	}
}

// Load locates and parses the tether config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return raw.resolve()
}

func (raw rawConfig) resolve() (Config, error) {
	cfg := Default()

	if v := strings.TrimSpace(raw.BackendURL); v != "" {
		cfg.BackendURL = v
	}
	if v := strings.TrimSpace(raw.PollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval %q: %w", v, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("poll_interval must be positive, got %s", d)
		}
		cfg.PollInterval = d
	}
	if v := strings.TrimSpace(raw.CachePath); v != "" {
		cfg.CachePath = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.TokenFile); v != "" {
		cfg.TokenFile = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = mustExpand(v)
	}

	for i, w := range raw.Watches {
		watch, err := w.resolve()
		if err != nil {
			return Config{}, fmt.Errorf("watch %d: %w", i+1, err)
		}
		cfg.Watches = append(cfg.Watches, watch)
	}
	for i, m := range raw.Mutations {
		mutation, err := m.resolve()
		if err != nil {
			return Config{}, fmt.Errorf("mutation %d: %w", i+1, err)
		}
		cfg.Mutations = append(cfg.Mutations, mutation)
	}
	return cfg, nil
}

func (w rawWatch) resolve() (Watch, error) {
	name := strings.TrimSpace(w.Name)
	if name == "" {
		return Watch{}, errors.New("name is required")
	}
	kind, err := backend.ParseKind(strings.TrimSpace(w.Kind))
	if err != nil {
		return Watch{}, err
	}
	if kind != backend.KindQuery && kind != backend.KindPaginatedQuery {
		return Watch{}, fmt.Errorf("%s: kind %s cannot be watched", name, kind)
	}
	watch := Watch{Name: name, Kind: kind, Args: w.Args, PageSize: w.PageSize}
	if watch.PageSize < 0 {
		return Watch{}, fmt.Errorf("%s: page_size must not be negative", name)
	}
	if src := strings.TrimSpace(w.Enabled); src != "" {
		pred, err := CompilePredicate(src)
		if err != nil {
			return Watch{}, fmt.Errorf("%s: %w", name, err)
		}
		watch.Enabled = pred
	}
	return watch, nil
}

func (m rawMutation) resolve() (Mutation, error) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return Mutation{}, errors.New("name is required")
	}
	raw := strings.TrimSpace(m.Kind)
	if raw == "" {
		raw = "mutation"
	}
	kind, err := backend.ParseKind(raw)
	if err != nil {
		return Mutation{}, err
	}
	if kind != backend.KindMutation && kind != backend.KindAction {
		return Mutation{}, fmt.Errorf("%s: kind %s is not callable", name, kind)
	}
	return Mutation{Name: name, Kind: kind, Args: m.Args, Key: strings.TrimSpace(m.Key)}, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
