// Package storage provides the persistence slot: a small named key/value area
// that holds the serialized document store and the client session fields.
package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("storage: key not found")

// Driver identifiers supported by New.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Slot is a durable key/value area. Values are opaque bytes; callers own the
// encoding.
type Slot interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// Config describes the slot driver selection.
type Config struct {
	Driver string
	File   *FileConfig
	SQLite *SQLiteConfig
	Redis  *RedisConfig
}

// FileConfig places one file per key inside Dir.
type FileConfig struct {
	Dir string
}

// SQLiteConfig is used when no database handle is injected.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a slot based on the provided configuration.
func New(cfg Config, deps Dependencies) (Slot, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if cfg.File == nil || cfg.File.Dir == "" {
			return nil, fmt.Errorf("file driver requires a directory")
		}
		return NewFile(cfg.File.Dir)
	case DriverSQLite:
		db := deps.SQLiteDB
		if db == nil {
			if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
				return nil, fmt.Errorf("sqlite driver requires a database handle or dsn")
			}
			opened, err := OpenSQLite(cfg.SQLite.DSN)
			if err != nil {
				return nil, err
			}
			return NewSQLite(opened, true)
		}
		return NewSQLite(db, false)
	case DriverRedis:
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
