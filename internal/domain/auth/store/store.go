// Package store keeps the token denylist: ids of tokens revoked by logout or
// refresh rotation, remembered until the token would have expired anyway.
package store

import (
	"context"
	"fmt"
	"time"
)

// Store defines the behaviour required by the auth service.
type Store interface {
	// Revoke denylists id for ttl.
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	Revoked(ctx context.Context, id string) (bool, error)
	// Claim denylists id for ttl unless it is already denylisted. It reports
	// whether this call did the revocation, so exactly one of several
	// concurrent callers wins.
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// CleanupExpired drops entries whose ttl has elapsed.
	CleanupExpired(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// Driver identifiers supported by the auth domain.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// MinTTL is the shortest retention for a revoked id.
const MinTTL = time.Second

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Memory *MemoryConfig
	Redis  *RedisConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
	// Clock replaces time.Now, for tests.
	Clock func() time.Time
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// New creates a denylist based on the provided configuration.
func New(cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported auth store driver: %s", driver)
	}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}
