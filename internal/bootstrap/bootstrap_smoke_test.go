package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformerrors "propmock/internal/platform/errors"
	platformlogging "propmock/internal/platform/logging"
)

const baseConfig = `
log:
  log_level: info
  log_dir: %LOGDIR%
storage:
  driver: memory
web:
  events: false
chaos:
  latency_ms: 0
`

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "propmock.yaml")
	content := strings.ReplaceAll(baseConfig, "%LOGDIR%", filepath.Join(dir, "logs")) + extra
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init-provider",
		"backend:assemble",
		"backend:start",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitStepsChecksDependencies(t *testing.T) {
	steps := []initStep{
		{ID: "b", DependsOn: []string{"a"}, Execute: func(context.Context, *appState) error { return nil }},
	}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if !platformerrors.IsKind(err, platformerrors.KindBootstrap) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}

	if err := executeInitSteps(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil state")
	}
}

func TestExecuteInitStepsWrapsErrors(t *testing.T) {
	steps := []initStep{
		{ID: "store", Kind: platformerrors.KindStorage, Execute: func(context.Context, *appState) error {
			return errors.New("disk full")
		}},
	}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if !platformerrors.IsKind(err, platformerrors.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("cause missing: %v", err)
	}
}

func TestExecuteInitGraph(t *testing.T) {
	dir := t.TempDir()
	state := &appState{
		opts:    Options{ConfigPath: writeConfig(t, dir, ""), DisableDotEnv: true},
		baseCtx: context.Background(),
	}
	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	defer state.logger.Close()
	defer state.backend.Close(context.Background())

	if state.config == nil {
		t.Fatal("config is nil after init")
	}
	if state.backend == nil || !state.backend.Started() {
		t.Fatal("backend not started after init")
	}
	if got := len(state.backend.Store().Collection(context.Background(), "users")); got != 5 {
		t.Fatalf("seed not installed: %d users", got)
	}
}

func TestInitGraphRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	state := &appState{
		opts:    Options{ConfigPath: writeConfig(t, dir, "server:\n  port: -1\n"), DisableDotEnv: true},
		baseCtx: context.Background(),
	}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	if !platformerrors.IsKind(err, platformerrors.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    "info",
		Dir:      tmp,
		Filename: "graph.log",
		Console:  &strings.Builder{},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logBootstrapGraph(InitGraph(), logger)
	logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, "graph.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "init graph") {
		t.Fatalf("graph header missing in log output: %s", content)
	}
	for _, step := range InitGraph() {
		if !strings.Contains(content, step.ID) {
			t.Fatalf("expected graph output to contain %q, got: %s", step.ID, content)
		}
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestRunServesAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ready := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunWithOptions(ctx, Options{
			ConfigPath:    path,
			DisableDotEnv: true,
			Listener:      listener,
			Ready:         ready,
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	var status struct {
		Collections map[string]int `json:"collections"`
	}
	if code := getJSON(t, base+"/__mock/status", &status); code != http.StatusOK {
		t.Fatalf("status endpoint: %d", code)
	}
	if status.Collections["properties"] != 4 {
		t.Fatalf("unexpected collections: %v", status.Collections)
	}

	// flip error mode in the file and wait for the watcher
	writeConfig(t, dir, "  error_mode: true\n")
	deadline := time.Now().Add(5 * time.Second)
	for {
		var cfg struct {
			ErrorMode bool `json:"errorMode"`
		}
		getJSON(t, base+"/__mock/config", &cfg)
		if cfg.ErrorMode {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("config reload not applied")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("server did not shut down")
	}
}
