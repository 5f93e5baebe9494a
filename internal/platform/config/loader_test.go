package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmock/internal/platform/logging"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "propmock.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9090
log:
  log_level: "debug"
storage:
  driver: memory
auth:
  access_ttl: 30s
chaos:
  latency_ms: 25
  error_rate: 0.25
resources: [users, properties]
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0o644))

	res, err := NewLoader(configFile).WithDotEnv(false).WithEnv(noEnv).Load()
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, configFile, res.Path)
	assert.Equal(t, "127.0.0.1", cfg.Server.IP)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Auth.AccessTTL)
	assert.Equal(t, 25, cfg.Chaos.LatencyMs)
	assert.InDelta(t, 0.25, cfg.Chaos.ErrorRate, 1e-9)
	assert.Equal(t, []string{"users", "properties"}, cfg.Resources)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultConfig().Auth.RefreshTTL, cfg.Auth.RefreshTTL)
	assert.Equal(t, "propmock:store", cfg.Storage.StoreKey)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	res, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).
		WithDotEnv(false).
		WithEnv(noEnv).
		Load()
	require.NoError(t, err)
	assert.Empty(t, res.Path)
	assert.Equal(t, DefaultConfig(), res.Config)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"PROPMOCK_PORT":               "7000",
		"PROPMOCK_STORAGE_DRIVER":     "redis",
		"PROPMOCK_REDIS_ADDR":         "10.0.0.1:6379",
		"PROPMOCK_CHAOS_ERROR_RATE":   "0.5",
		"PROPMOCK_CHAOS_ERROR_MODE":   "true",
		"PROPMOCK_CHAOS_SLOW_NETWORK": "1",
		"PROPMOCK_RESOURCES":          "users, leases ,",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	res, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).
		WithDotEnv(false).
		WithEnv(lookup).
		Load()
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "10.0.0.1:6379", cfg.Storage.Redis.Addr)
	assert.InDelta(t, 0.5, cfg.Chaos.ErrorRate, 1e-9)
	assert.True(t, cfg.Chaos.ErrorMode)
	assert.True(t, cfg.Chaos.SlowNetwork)
	assert.Equal(t, []string{"users", "leases"}, cfg.Resources)
}

func TestLoader_PathFromEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 6001\n"), 0o644))

	lookup := func(k string) (string, bool) {
		if k == EnvConfigPath {
			return file, true
		}
		return "", false
	}
	res, err := NewLoader("").WithDotEnv(false).WithEnv(lookup).Load()
	require.NoError(t, err)
	assert.Equal(t, 6001, res.Config.Server.Port)
}

func TestLoader_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"error rate above one", "chaos:\n  error_rate: 1.5\n"},
		{"error rate nan", "chaos:\n  error_rate: .nan\n"},
		{"negative event workers", "web:\n  event_workers: -1\n"},
		{"negative latency", "chaos:\n  latency_ms: -1\n"},
		{"unknown driver", "storage:\n  driver: floppy\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(file, []byte(tt.content), 0o644))
			_, err := NewLoader(file).WithDotEnv(false).WithEnv(noEnv).Load()
			assert.Error(t, err)
		})
	}
}

func TestLoader_BadEnvValue(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "PROPMOCK_PORT" {
			return "eighty", true
		}
		return "", false
	}
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).
		WithDotEnv(false).
		WithEnv(lookup).
		Load()
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	file := filepath.Join(t.TempDir(), "propmock.yaml")
	require.NoError(t, os.WriteFile(file, []byte("chaos:\n  latency_ms: 10\n"), 0o644))

	var (
		mu   sync.Mutex
		seen []int
	)
	loader := NewLoader(file).WithDotEnv(false).WithEnv(noEnv)
	w, err := NewWatcher(loader, func(cfg *Config) {
		mu.Lock()
		seen = append(seen, cfg.Chaos.LatencyMs)
		mu.Unlock()
	}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(file, []byte("chaos:\n  latency_ms: 42\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == 42
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
