package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8787,
			Mode: "release",
		},
		Log: LogConfig{
			Level: "info",
			File:  "propmock.log",
		},
		Storage: StorageConfig{
			Driver:     "file",
			StoreKey:   "propmock:store",
			SessionKey: "propmock:session",
			File:       FileStorageConfig{Dir: "data"},
			SQLite:     SQLiteConfig{DSN: "data/propmock.db"},
			Redis:      RedisConfig{Addr: "127.0.0.1:6379", Prefix: "propmock:"},
		},
		Auth: AuthConfig{
			Secret:       "propmock-demo-secret",
			Issuer:       "propmock",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			RequireToken: true,
		},
		Chaos: ChaosConfig{
			LatencyMs: 150,
		},
		Web: WebConfig{
			Events:       true,
			AllowOrigins: []string{"*"},
		},
		Resources: []string{
			"users",
			"properties",
			"leases",
			"payments",
			"maintenance",
			"messages",
			"notifications",
		},
	}
}
