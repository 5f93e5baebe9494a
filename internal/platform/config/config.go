package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Chaos     ChaosConfig     `yaml:"chaos"`
	Web       WebConfig       `yaml:"web"`
	Intercept InterceptConfig `yaml:"intercept"`
	Seed      SeedConfig      `yaml:"seed"`
	// Resources lists the collections exposed as REST resources under /api.
	Resources []string `yaml:"resources"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	// Mode is the gin mode: debug or release.
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type StorageConfig struct {
	Driver     string            `yaml:"driver"`
	StoreKey   string            `yaml:"store_key"`
	SessionKey string            `yaml:"session_key"`
	File       FileStorageConfig `yaml:"file"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Redis      RedisConfig       `yaml:"redis"`
}

type FileStorageConfig struct {
	Dir string `yaml:"dir"`
}

type SQLiteConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// RequireToken guards resource routes with the bearer middleware.
	RequireToken bool `yaml:"require_token"`
}

type ChaosConfig struct {
	LatencyMs   int     `yaml:"latency_ms"`
	ErrorRate   float64 `yaml:"error_rate"`
	ErrorMode   bool    `yaml:"error_mode"`
	SlowNetwork bool    `yaml:"slow_network"`
	// Seed fixes the random source; zero picks a time-based seed.
	Seed uint64 `yaml:"seed"`
}

type WebConfig struct {
	StaticDir    string   `yaml:"static_dir"`
	Events       bool     `yaml:"events"`
	AllowOrigins []string `yaml:"allow_origins"`
	// EventWorkers above zero delivers domain events through a queue drained
	// by that many goroutines. Zero delivers inline.
	EventWorkers int `yaml:"event_workers"`
	EventQueue   int `yaml:"event_queue"`
}

type InterceptConfig struct {
	// Hosts restricts interception to these hosts; empty intercepts every host.
	Hosts []string `yaml:"hosts"`
}

type SeedConfig struct {
	Path string `yaml:"path"`
}

// Addr returns the listen address of the standalone server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.IP, c.Server.Port)
}

// Validate rejects configurations the backend cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "memory", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.StoreKey == "" || c.Storage.SessionKey == "" {
		return fmt.Errorf("storage keys must not be empty")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("auth ttl values must be positive")
	}
	if c.Chaos.LatencyMs < 0 {
		return fmt.Errorf("chaos.latency_ms must not be negative")
	}
	if c.Web.EventWorkers < 0 || c.Web.EventQueue < 0 {
		return fmt.Errorf("web.event_workers and web.event_queue must not be negative")
	}
	if !(c.Chaos.ErrorRate >= 0 && c.Chaos.ErrorRate <= 1) {
		return fmt.Errorf("chaos.error_rate must be within [0,1], got %v", c.Chaos.ErrorRate)
	}
	return nil
}
