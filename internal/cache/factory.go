// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"fmt"
	"time"
)

// Config selects and configures a cache backend.
type Config struct {
	// Backend is "memory" or "redis".
	Backend string

	// RedisURL is the Redis connection URL (redis backend only).
	RedisURL string

	// Prefix is the key prefix (redis backend only).
	Prefix string

	// DefaultTTL is the default TTL for cache entries.
	DefaultTTL time.Duration

	// MaxEntries caps the memory backend (0 = unlimited).
	MaxEntries int

	// CleanupInterval is the expired-entry sweep interval for the memory
	// backend.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default memory-backed configuration.
func DefaultConfig() Config {
	return Config{
		Backend:         "memory",
		DefaultTTL:      time.Hour,
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
	}
}

// New creates a cache backend from the configuration.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(MemoryOptions{
			DefaultTTL:      cfg.DefaultTTL,
			MaxEntries:      cfg.MaxEntries,
			CleanupInterval: cfg.CleanupInterval,
		}), nil
	case "redis":
		opts := DefaultRedisOptions()
		opts.URL = cfg.RedisURL
		if cfg.Prefix != "" {
			opts.Prefix = cfg.Prefix
		}
		if cfg.DefaultTTL > 0 {
			opts.DefaultTTL = cfg.DefaultTTL
		}
		return NewRedis(opts)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
