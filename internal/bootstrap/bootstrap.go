// Package bootstrap runs the standalone mock backend server: it loads
// configuration, builds the backend through an ordered init graph and
// serves it until the process is signalled.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"propmock/internal/backend"
	platformconfig "propmock/internal/platform/config"
	platformerrors "propmock/internal/platform/errors"
	platformlogging "propmock/internal/platform/logging"
)

const shutdownTimeout = 10 * time.Second

// Options tune Run. The zero value reads the config path from the
// environment and listens on the configured address.
type Options struct {
	ConfigPath string
	// DisableDotEnv skips loading .env before the config file.
	DisableDotEnv bool
	// Listener overrides the configured listen address.
	Listener net.Listener
	// Ready receives the listen address when the server starts serving.
	Ready chan<- string
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts       Options
	loader     *platformconfig.Loader
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	backend    *backend.Backend
	baseCtx    context.Context
}

// Run starts the server with default options.
func Run(ctx context.Context) error {
	return RunWithOptions(ctx, Options{})
}

// RunWithOptions executes the init graph, serves HTTP and watches the
// config file until ctx is cancelled or SIGINT/SIGTERM arrives.
func RunWithOptions(ctx context.Context, opts Options) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &appState{opts: opts, baseCtx: rootCtx}
	steps := InitGraph()
	if err := executeInitSteps(rootCtx, steps, state); err != nil {
		if state.backend != nil {
			_ = state.backend.Close(context.Background())
		}
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil || state.backend == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger/backend not initialised",
		)
	}
	defer logger.Close()
	defer func() {
		if err := state.backend.Close(context.Background()); err != nil {
			logger.WarnTag("Bootstrap", "backend did not close cleanly: %v", err)
		}
	}()

	logBootstrapGraph(steps, logger)

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	return waitForShutdown(groupCtx, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "init graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "  %s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "  %s: %s (after %v)", step.ID, step.Title, step.DependsOn)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "backend:assemble",
			Title:     "Assemble mock backend",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   assembleBackendStep,
		},
		{
			ID:        "backend:start",
			Title:     "Install seed dataset",
			DependsOn: []string{"backend:assemble"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   startBackendStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader(state.opts.ConfigPath).WithDotEnv(!state.opts.DisableDotEnv)
	res, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.loader = loader
	state.config = res.Config
	state.configPath = res.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger

	origin := state.configPath
	if origin == "" {
		origin = "defaults"
	}
	logger.InfoTag("Bootstrap", "logging ready [%s] config from %s", state.config.Log.Level, origin)
	return nil
}

func assembleBackendStep(_ context.Context, state *appState) error {
	b, err := backend.New(backend.Options{
		Config:      state.config,
		Logger:      state.logger,
		BaseContext: state.baseCtx,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "backend:assemble", "failed to assemble backend", err)
	}
	state.backend = b
	state.logger.InfoTag("Bootstrap", "storage driver %s, %d resources", state.config.Storage.Driver, len(state.config.Resources))
	return nil
}

func startBackendStep(ctx context.Context, state *appState) error {
	// the standalone server has no client to intercept; Start only installs
	// the seed dataset
	return state.backend.Start(ctx, nil)
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if err := startHTTPServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	startConfigWatcher(state, g, groupCtx)
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	logger := state.logger
	listener := state.opts.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", state.config.Addr())
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to listen", err)
		}
	}

	httpServer := &http.Server{
		Handler:           state.backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return state.baseCtx },
	}

	g.Go(func() error {
		addr := listener.Addr().String()
		logger.InfoTag("HTTP", "mock backend listening on http://%s", addr)
		logger.InfoTag("HTTP", "control surface at http://%s/__mock/status", addr)
		if state.opts.Ready != nil {
			select {
			case state.opts.Ready <- addr:
			case <-groupCtx.Done():
			}
		}

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server closed")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "serve failed: %v", err)
			return err
		}
		return nil
	})
	return nil
}

// startConfigWatcher pushes chaos settings from the config file into the
// running backend whenever the file changes.
func startConfigWatcher(state *appState, g *errgroup.Group, groupCtx context.Context) {
	logger := state.logger
	if state.configPath == "" {
		logger.DebugTag("Config", "no config file, watcher disabled")
		return
	}
	watcher, err := platformconfig.NewWatcher(state.loader, func(cfg *platformconfig.Config) {
		if err := state.backend.ApplyConfig(cfg); err != nil {
			logger.WarnTag("Config", "reload rejected: %v", err)
		}
	}, logger.Tagged("Config"))
	if err != nil {
		logger.WarnTag("Config", "watcher unavailable: %v", err)
		return
	}
	g.Go(func() error {
		return watcher.Run(groupCtx)
	})
}

func waitForShutdown(ctx context.Context, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(shutdownTimeout + 5*time.Second):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}
