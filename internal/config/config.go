// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the engine configuration loaded from environment variables.
type Config struct {
	DBPath   string `env:"PAGEKEEP_DB_PATH" envDefault:"./data/pagekeep.db"`
	Env      string `env:"PAGEKEEP_ENV" envDefault:"development"`
	LogLevel string `env:"PAGEKEEP_LOG_LEVEL" envDefault:"info"`

	// Structural operation settings
	FailurePolicy      string `env:"PAGEKEEP_FAILURE_POLICY" envDefault:"bestEffort"`
	OperationBatchSize int    `env:"PAGEKEEP_OPERATION_BATCH_SIZE" envDefault:"100"`
	BulkDeleteLimit    int    `env:"PAGEKEEP_BULK_DELETE_LIMIT" envDefault:"20"`
	OperationExpiryMin int    `env:"PAGEKEEP_OPERATION_EXPIRY_MINUTES" envDefault:"10"`

	// Migration settings
	MigrationBatchSize  int     `env:"PAGEKEEP_MIGRATION_BATCH_SIZE" envDefault:"100"`
	ThrottleThreshold   int64   `env:"PAGEKEEP_THROTTLE_THRESHOLD" envDefault:"10000"`
	ThrottleFraction    float64 `env:"PAGEKEEP_THROTTLE_FRACTION" envDefault:"0.3"`
	MigrationRatePerSec float64 `env:"PAGEKEEP_MIGRATION_RATE" envDefault:"10"`
	MigrationTickSpec   string  `env:"PAGEKEEP_MIGRATION_TICK" envDefault:""`

	// Cache settings
	CacheBackend    string `env:"PAGEKEEP_CACHE_BACKEND" envDefault:"memory"`
	RedisURL        string `env:"PAGEKEEP_REDIS_URL"`
	CachePrefix     string `env:"PAGEKEEP_CACHE_PREFIX" envDefault:"pagekeep:"`
	CacheTTLSec     int    `env:"PAGEKEEP_CACHE_TTL" envDefault:"3600"`
	CacheMaxEntries int    `env:"PAGEKEEP_CACHE_MAX_ENTRIES" envDefault:"10000"`

	// Housekeeping
	EventRetentionDays int `env:"PAGEKEEP_EVENT_RETENTION_DAYS" envDefault:"90"`
}

// IsDevelopment returns true if the engine runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UseRedisCache returns true if the Redis cache backend is selected.
func (c Config) UseRedisCache() bool {
	return c.CacheBackend == "redis"
}

// OperationExpiry returns the stale-operation deadline as a duration.
func (c Config) OperationExpiry() time.Duration {
	return time.Duration(c.OperationExpiryMin) * time.Minute
}

// CacheTTL returns the cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// EventRetention returns the event log retention as a duration. Zero disables
// pruning.
func (c Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// Load parses environment variables and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	switch cfg.FailurePolicy {
	case "bestEffort", "failFast":
	default:
		return nil, fmt.Errorf("PAGEKEEP_FAILURE_POLICY must be bestEffort or failFast, got %q", cfg.FailurePolicy)
	}

	switch cfg.CacheBackend {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("PAGEKEEP_REDIS_URL is required for the redis cache backend")
		}
	default:
		return nil, fmt.Errorf("PAGEKEEP_CACHE_BACKEND must be memory or redis, got %q", cfg.CacheBackend)
	}

	if cfg.OperationBatchSize <= 0 {
		return nil, fmt.Errorf("PAGEKEEP_OPERATION_BATCH_SIZE must be positive, got %d", cfg.OperationBatchSize)
	}
	if cfg.BulkDeleteLimit <= 0 {
		return nil, fmt.Errorf("PAGEKEEP_BULK_DELETE_LIMIT must be positive, got %d", cfg.BulkDeleteLimit)
	}
	if cfg.ThrottleFraction <= 0 || cfg.ThrottleFraction > 1 {
		return nil, fmt.Errorf("PAGEKEEP_THROTTLE_FRACTION must be in (0, 1], got %g", cfg.ThrottleFraction)
	}

	return cfg, nil
}
