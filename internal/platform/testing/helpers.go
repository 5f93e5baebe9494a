// Package testing holds helpers shared by package tests.
package testing

import (
	"io"
	"testing"

	"propmock/internal/platform/config"
	"propmock/internal/platform/logging"
)

// SetupTestConfig returns a configuration that needs no network, disk or
// wall-clock latency: memory storage, zero chaos latency, no live feed.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "debug"
	cfg.Log.Dir = ""
	cfg.Storage.Driver = "memory"
	cfg.Chaos.LatencyMs = 0
	cfg.Chaos.Seed = 42
	cfg.Web.Events = false
	return cfg
}

// SetupTestLogger returns a debug logger writing JSON records into a
// per-test directory and discarding console output.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	logger, err := logging.New(logging.Config{
		Level:    "debug",
		Dir:      t.TempDir(),
		Filename: "test.log",
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
