package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const devDSN = "root:password@tcp(127.0.0.1:3306)/stocksync?parseTime=true"

type Config struct {
	Port        string
	Env         string
	DBDriver    string
	DatabaseDSN string

	// Batch caps enforced by the validator.
	MaxTables          int
	MaxRecordsPerTable int

	// Sync-endpoint rate limit: quota requests per window, per caller.
	SyncRateQuota  int
	SyncRateWindow time.Duration

	// PullWindow bounds the default watermark when a client supplies
	// none (or has never synced).
	PullWindow time.Duration

	// SyncInterval enables periodic background cycles; zero means
	// trigger-only.
	SyncInterval time.Duration

	// Remote server reached by the orchestrator; empty means the node
	// reconciles against its own store.
	RemoteURL   string
	RemoteToken string
}

func Load() Config {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DBDriver:           getEnv("DB_DRIVER", "mysql"),
		DatabaseDSN:        getEnv("DATABASE_DSN", devDSN),
		MaxTables:          getEnvInt("SYNC_MAX_TABLES", 100),
		MaxRecordsPerTable: getEnvInt("SYNC_MAX_RECORDS", 500),
		SyncRateQuota:      getEnvInt("SYNC_RATE_QUOTA", 100),
		SyncRateWindow:     getEnvDuration("SYNC_RATE_WINDOW", time.Hour),
		PullWindow:         getEnvDuration("SYNC_PULL_WINDOW", 30*24*time.Hour),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 0),
		RemoteURL:          getEnv("SYNC_REMOTE_URL", ""),
		RemoteToken:        getEnv("SYNC_REMOTE_TOKEN", ""),
	}

	if cfg.Env == "production" && cfg.DatabaseDSN == devDSN {
		slog.Error("DATABASE_DSN must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("ignoring invalid duration environment variable", "key", key, "value", v)
		return fallback
	}
	return d
}
