package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	MaxBatchOps   int           // maximum operations per sync batch (default: 1000)
	PendingExpiry time.Duration // unacknowledged create expiry (default: 24h)
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/tabsync.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",
		MaxBatchOps:     1000,
		PendingExpiry:   24 * time.Hour,
	}

	if v := os.Getenv("TABSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TABSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TABSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("TABSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TABSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TABSYNC_MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBatchOps = n
		}
	}
	if v := os.Getenv("TABSYNC_PENDING_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PendingExpiry = d
		}
	}

	return cfg
}
