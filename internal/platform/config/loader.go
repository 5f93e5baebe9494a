package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the variable that points at the yaml file.
	EnvConfigPath = "PROPMOCK_CONFIG"
	// DefaultPath is tried when neither an explicit path nor EnvConfigPath is set.
	DefaultPath = "propmock.yaml"
)

// Loader reads .env, then the yaml file, then PROPMOCK_* overrides.
type Loader struct {
	path      string
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for path. An empty path is resolved from the
// environment and falls back to DefaultPath.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	// Path is the file the configuration came from, or "" for defaults only.
	Path string
}

// Load builds the effective configuration. A missing file is not an error.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	path := l.resolvePath()
	cfg := DefaultConfig()
	origin := ""

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		origin = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: origin}, nil
}

// Path reports the file the loader reads.
func (l *Loader) Path() string {
	return l.resolvePath()
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	if v, ok := l.lookupEnv(EnvConfigPath); ok && v != "" {
		return v
	}
	return DefaultPath
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = b
		}
	}

	str("PROPMOCK_IP", &cfg.Server.IP)
	num("PROPMOCK_PORT", &cfg.Server.Port)
	str("PROPMOCK_LOG_LEVEL", &cfg.Log.Level)
	str("PROPMOCK_LOG_DIR", &cfg.Log.Dir)
	str("PROPMOCK_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("PROPMOCK_STORAGE_DIR", &cfg.Storage.File.Dir)
	str("PROPMOCK_SQLITE_DSN", &cfg.Storage.SQLite.DSN)
	str("PROPMOCK_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	str("PROPMOCK_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	str("PROPMOCK_AUTH_SECRET", &cfg.Auth.Secret)
	str("PROPMOCK_SEED_PATH", &cfg.Seed.Path)
	num("PROPMOCK_CHAOS_LATENCY_MS", &cfg.Chaos.LatencyMs)
	boolean("PROPMOCK_CHAOS_ERROR_MODE", &cfg.Chaos.ErrorMode)
	boolean("PROPMOCK_CHAOS_SLOW_NETWORK", &cfg.Chaos.SlowNetwork)
	boolean("PROPMOCK_REQUIRE_TOKEN", &cfg.Auth.RequireToken)

	if v, ok := l.lookupEnv("PROPMOCK_CHAOS_ERROR_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PROPMOCK_CHAOS_ERROR_RATE: %w", err)
		}
		cfg.Chaos.ErrorRate = rate
	}
	if v, ok := l.lookupEnv("PROPMOCK_RESOURCES"); ok && v != "" {
		var resources []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				resources = append(resources, r)
			}
		}
		cfg.Resources = resources
	}
	return firstErr
}
