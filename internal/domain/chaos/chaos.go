// Package chaos simulates an unreliable network: every gated request is
// delayed and may be answered with a synthetic error.
package chaos

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"propmock/internal/domain/eventbus"
	"propmock/internal/platform/errors"
	"propmock/internal/platform/logging"
)

// SlowNetworkFactor multiplies latency when SlowNetwork is set.
const SlowNetworkFactor = 3

// DefaultLatencyMs is the latency installed when no configuration is given.
const DefaultLatencyMs = 150

// FailureStatuses are the candidate status codes for injected failures.
var FailureStatuses = []int{400, 401, 403, 404, 500}

var failureMessages = map[int]string{
	400: "Bad request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not found",
	500: "Internal server error",
}

// Config is the runtime chaos configuration.
type Config struct {
	LatencyMs   int     `json:"latencyMs"`
	ErrorRate   float64 `json:"errorRate"`
	ErrorMode   bool    `json:"errorMode"`
	SlowNetwork bool    `json:"slowNetwork"`
}

// DefaultConfig returns the conservative startup configuration.
func DefaultConfig() Config {
	return Config{LatencyMs: DefaultLatencyMs}
}

// Delay is the effective wait applied before each request.
func (c Config) Delay() time.Duration {
	d := time.Duration(c.LatencyMs) * time.Millisecond
	if c.SlowNetwork {
		d *= SlowNetworkFactor
	}
	return d
}

func (c Config) validate() error {
	if c.LatencyMs < 0 {
		return errors.New(errors.KindChaos, "chaos.validate", fmt.Sprintf("latencyMs must be >= 0, got %d", c.LatencyMs))
	}
	if !(c.ErrorRate >= 0 && c.ErrorRate <= 1) {
		return errors.New(errors.KindChaos, "chaos.validate", fmt.Sprintf("errorRate must be within [0,1], got %v", c.ErrorRate))
	}
	return nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	LatencyMs   *int     `json:"latencyMs,omitempty"`
	ErrorRate   *float64 `json:"errorRate,omitempty"`
	ErrorMode   *bool    `json:"errorMode,omitempty"`
	SlowNetwork *bool    `json:"slowNetwork,omitempty"`
}

func (p Patch) apply(c Config) Config {
	if p.LatencyMs != nil {
		c.LatencyMs = *p.LatencyMs
	}
	if p.ErrorRate != nil {
		c.ErrorRate = *p.ErrorRate
	}
	if p.ErrorMode != nil {
		c.ErrorMode = *p.ErrorMode
	}
	if p.SlowNetwork != nil {
		c.SlowNetwork = *p.SlowNetwork
	}
	return c
}

// Failure is a synthetic error response.
type Failure struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("chaos: injected %d %s", f.Status, f.Message)
}

// Options configures a Controller.
type Options struct {
	Initial *Config
	// Rand is the random source for failure draws. Nil seeds a PCG source
	// from the clock.
	Rand rand.Source
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logging.Interface
	Bus    *eventbus.Bus
}

// Controller holds the chaos configuration and gates requests.
type Controller struct {
	mu     sync.RWMutex
	cfg    Config
	rnd    *rand.Rand
	rndMu  sync.Mutex
	sleep  func(ctx context.Context, d time.Duration) error
	logger logging.Interface
	bus    *eventbus.Bus
}

// New constructs a Controller. An invalid initial configuration is an error.
func New(opts Options) (*Controller, error) {
	cfg := DefaultConfig()
	if opts.Initial != nil {
		cfg = *opts.Initial
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	src := opts.Rand
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>17)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		cfg:    cfg,
		rnd:    rand.New(src),
		sleep:  sleep,
		logger: logger,
		bus:    opts.Bus,
	}, nil
}

// Config returns the current configuration.
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig merges patch into the configuration. The update is rejected
// as a whole when the merged result is invalid.
func (c *Controller) UpdateConfig(patch Patch) (Config, error) {
	c.mu.Lock()
	next := patch.apply(c.cfg)
	if err := next.validate(); err != nil {
		c.mu.Unlock()
		return Config{}, err
	}
	c.cfg = next
	c.mu.Unlock()

	c.logger.Info("config updated: latency=%dms errorRate=%.2f errorMode=%v slowNetwork=%v",
		next.LatencyMs, next.ErrorRate, next.ErrorMode, next.SlowNetwork)
	c.bus.Publish(eventbus.TopicChaosUpdated, next)
	return next, nil
}

// Replace installs cfg wholesale, used when the config file is reloaded.
func (c *Controller) Replace(cfg Config) (Config, error) {
	return c.UpdateConfig(Patch{
		LatencyMs:   &cfg.LatencyMs,
		ErrorRate:   &cfg.ErrorRate,
		ErrorMode:   &cfg.ErrorMode,
		SlowNetwork: &cfg.SlowNetwork,
	})
}

// Gate delays the caller by the configured latency, then decides whether the
// request fails. It returns a non-nil Failure to short-circuit the request,
// or ctx's error when the caller gave up while waiting.
func (c *Controller) Gate(ctx context.Context) (*Failure, error) {
	cfg := c.Config()
	if d := cfg.Delay(); d > 0 {
		if err := c.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	if !cfg.ErrorMode && cfg.ErrorRate <= 0 {
		return nil, nil
	}

	c.rndMu.Lock()
	draw := c.rnd.Float64()
	status := FailureStatuses[c.rnd.IntN(len(FailureStatuses))]
	c.rndMu.Unlock()

	if !cfg.ErrorMode && draw >= cfg.ErrorRate {
		return nil, nil
	}
	return &Failure{Status: status, Message: failureMessages[status]}, nil
}

// Injected records that a failure was returned for method and path.
func (c *Controller) Injected(method, path string, f *Failure) {
	c.logger.Debug("injected %d for %s %s", f.Status, method, path)
	c.bus.Publish(eventbus.TopicChaosInjected, eventbus.ChaosEventData{Method: method, Path: path, Status: f.Status})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
