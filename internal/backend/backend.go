// Package backend assembles one isolated mock backend instance: persistence
// slot, document store, auth, chaos, route table and interceptor. Tests and
// the standalone server each build their own instance.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"propmock/internal/domain/auth"
	authstore "propmock/internal/domain/auth/store"
	"propmock/internal/domain/chaos"
	"propmock/internal/domain/docstore"
	"propmock/internal/domain/eventbus"
	"propmock/internal/domain/session"
	"propmock/internal/interceptor"
	"propmock/internal/platform/config"
	"propmock/internal/platform/logging"
	"propmock/internal/platform/observability"
	"propmock/internal/platform/storage"
	httptransport "propmock/internal/transport/http"
	"propmock/internal/transport/ws"
)

// Options configures New. Only Config is required.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	// Slot overrides the slot selected by Config.Storage.
	Slot storage.Slot
	// Clock drives token issuance and validation.
	Clock func() time.Time
	// Rand overrides the chaos random source.
	Rand rand.Source
	// Sleep overrides the chaos delay.
	Sleep func(ctx context.Context, d time.Duration) error
	// BaseContext bounds live feed sessions.
	BaseContext context.Context
}

// Backend is one running mock backend.
type Backend struct {
	cfg      *config.Config
	logger   *logging.Logger
	slot     storage.Slot
	denylist authstore.Store
	bus      *eventbus.Bus
	recorder *observability.Recorder
	store    *docstore.Store
	auth     *auth.Service
	chaos    *chaos.Controller
	hub      *ws.Hub
	router   *httptransport.Router
	icpt     *interceptor.Interceptor
	clock    func() time.Time

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a backend from configuration. Nothing is intercepted until
// Start is called.
func New(opts Options) (*Backend, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("backend requires a configuration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	b := &Backend{
		cfg:      cfg,
		logger:   logger,
		bus:      newBus(cfg.Web),
		recorder: observability.NewRecorder(logger.Slog()),
		clock:    opts.Clock,
	}
	if err := b.build(opts); err != nil {
		b.Close(context.Background())
		return nil, err
	}
	return b, nil
}

func (b *Backend) build(opts Options) error {
	cfg := b.cfg

	b.slot = opts.Slot
	if b.slot == nil {
		slot, err := storage.New(SlotConfig(cfg.Storage), storage.Dependencies{})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		b.slot = slot
	}

	denylist, err := authstore.New(DenylistConfig(cfg.Storage))
	if err != nil {
		return fmt.Errorf("open token denylist: %w", err)
	}
	b.denylist = denylist

	seed := docstore.DefaultSeed()
	if cfg.Seed.Path != "" {
		if seed, err = docstore.LoadSeedFile(cfg.Seed.Path); err != nil {
			return err
		}
	}
	b.store = docstore.New(docstore.Options{
		Slot:   b.slot,
		Key:    cfg.Storage.StoreKey,
		Seed:   seed,
		Logger: b.logger.Tagged("Store"),
		Bus:    b.bus,
	})

	b.auth, err = auth.NewService(auth.Options{
		Directory:  b.store,
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Denylist:   b.denylist,
		Clock:      opts.Clock,
		Logger:     b.logger.Tagged("Auth"),
		Bus:        b.bus,
	})
	if err != nil {
		return err
	}

	initial := ChaosConfig(cfg.Chaos)
	rnd := opts.Rand
	if rnd == nil && cfg.Chaos.Seed != 0 {
		rnd = rand.NewPCG(cfg.Chaos.Seed, cfg.Chaos.Seed)
	}
	b.chaos, err = chaos.New(chaos.Options{
		Initial: &initial,
		Rand:    rnd,
		Sleep:   opts.Sleep,
		Logger:  b.logger.Tagged("Chaos"),
		Bus:     b.bus,
	})
	if err != nil {
		return err
	}

	if err := eventbus.LogEvents(b.bus, b.logger.Tagged("Event")); err != nil {
		return err
	}

	deps := httptransport.Deps{
		Store:         b.store,
		Auth:          b.auth,
		Chaos:         b.chaos,
		Resources:     cfg.Resources,
		RequireToken:  cfg.Auth.RequireToken,
		Recorder:      b.recorder,
		DroppedEvents: b.bus.Dropped,
	}
	if cfg.Web.Events {
		b.hub = ws.NewHub(b.logger.Tagged("Feed"))
		if err := b.hub.Attach(b.bus); err != nil {
			return err
		}
		feed := ws.NewRouter(b.hub, b.logger.Tagged("Feed"), ws.RouterOptions{
			Recorder:    b.recorder,
			BaseContext: opts.BaseContext,
		})
		deps.Events = feed.Handle
		deps.Listeners = b.hub.Count
	}

	b.router, err = httptransport.New(deps, httptransport.Options{
		Logger:       b.logger.Tagged("HTTP"),
		Recorder:     b.recorder,
		Mode:         cfg.Server.Mode,
		AllowOrigins: cfg.Web.AllowOrigins,
		StaticRoot:   cfg.Web.StaticDir,
	})
	if err != nil {
		return err
	}

	b.icpt = interceptor.New(interceptor.Options{
		Handler: b.router.Handler(),
		Hosts:   cfg.Intercept.Hosts,
		Logger:  b.logger.Tagged("Intercept"),
	})
	return nil
}

// Start installs interception into client and resets the store to the seed
// dataset. Calling Start on a started backend is a no-op.
func (b *Backend) Start(ctx context.Context, client *http.Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("backend is closed")
	}
	if b.started {
		return nil
	}
	if client != nil {
		b.icpt.Install(client)
	}
	b.store.Reset(ctx)
	b.started = true
	b.logger.InfoTag("Backend", "started with %d collections", len(b.store.Collections(ctx)))
	return nil
}

// Stop removes interception. The store keeps its contents.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.icpt.Uninstall()
	b.started = false
	b.logger.InfoTag("Backend", "stopped")
}

// Started reports whether Start has run without a matching Stop.
func (b *Backend) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Close stops the backend and releases the slot, denylist, feed and bus.
func (b *Backend) Close(ctx context.Context) error {
	b.Stop()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.hub != nil {
		b.hub.CloseAll(errors.New("backend closed"))
	}
	var errs []error
	if b.denylist != nil {
		errs = append(errs, b.denylist.Close(ctx))
	}
	if b.slot != nil {
		errs = append(errs, b.slot.Close(ctx))
	}
	b.bus.Close()
	return errors.Join(errs...)
}

// ApplyConfig pushes the reloadable part of cfg into the running backend.
func (b *Backend) ApplyConfig(cfg *config.Config) error {
	if _, err := b.chaos.Replace(ChaosConfig(cfg.Chaos)); err != nil {
		return err
	}
	b.bus.Publish(eventbus.TopicConfigReloaded, ChaosConfig(cfg.Chaos))
	return nil
}

// NewSession builds a client session that keeps its tokens in the backend's
// storage slot under storage.session_key. client should be the one passed to
// Start, or use Transport.
func (b *Backend) NewSession(client *http.Client, baseURL string, nav session.Navigator) (*session.Session, error) {
	return session.New(session.Options{
		Client:    client,
		BaseURL:   baseURL,
		Slot:      b.slot,
		Key:       b.cfg.Storage.SessionKey,
		Navigator: nav,
		Clock:     b.clock,
		Logger:    b.logger.Tagged("Session"),
	})
}

// Handler serves the mock backend over plain HTTP.
func (b *Backend) Handler() http.Handler { return b.router.Handler() }

// Transport returns the interceptor for use as a client transport without
// Start.
func (b *Backend) Transport() http.RoundTripper { return b.icpt }

func (b *Backend) Store() *docstore.Store            { return b.store }
func (b *Backend) Auth() *auth.Service               { return b.auth }
func (b *Backend) Chaos() *chaos.Controller          { return b.chaos }
func (b *Backend) Bus() *eventbus.Bus                { return b.bus }
func (b *Backend) Recorder() *observability.Recorder { return b.recorder }

// newBus delivers events inline unless web.event_workers asks for a queue.
func newBus(web config.WebConfig) *eventbus.Bus {
	if web.EventWorkers > 0 {
		return eventbus.NewAsync(web.EventWorkers, web.EventQueue)
	}
	return eventbus.New()
}

// SlotConfig maps the storage section onto slot driver options.
func SlotConfig(s config.StorageConfig) storage.Config {
	return storage.Config{
		Driver: s.Driver,
		File:   &storage.FileConfig{Dir: s.File.Dir},
		SQLite: &storage.SQLiteConfig{DSN: s.SQLite.DSN},
		Redis: &storage.RedisConfig{
			Addr:     s.Redis.Addr,
			Username: s.Redis.Username,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
	}
}

// DenylistConfig keeps revoked token ids in redis when the slot lives
// there, and in memory otherwise.
func DenylistConfig(s config.StorageConfig) authstore.Config {
	if s.Driver != storage.DriverRedis {
		return authstore.Config{Driver: authstore.DriverMemory, Memory: &authstore.MemoryConfig{GCInterval: time.Minute}}
	}
	return authstore.Config{
		Driver: authstore.DriverRedis,
		Redis: &authstore.RedisConfig{
			Addr:     s.Redis.Addr,
			Username: s.Redis.Username,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix + "revoked:",
		},
	}
}

// ChaosConfig converts the yaml section into the controller's config.
func ChaosConfig(c config.ChaosConfig) chaos.Config {
	return chaos.Config{
		LatencyMs:   c.LatencyMs,
		ErrorRate:   c.ErrorRate,
		ErrorMode:   c.ErrorMode,
		SlowNetwork: c.SlowNetwork,
	}
}
