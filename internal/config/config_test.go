// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/pagekeep.db", cfg.DBPath)
	assert.Equal(t, "bestEffort", cfg.FailurePolicy)
	assert.Equal(t, 100, cfg.OperationBatchSize)
	assert.Equal(t, 20, cfg.BulkDeleteLimit)
	assert.Equal(t, 10*time.Minute, cfg.OperationExpiry())
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 90*24*time.Hour, cfg.EventRetention())
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.UseRedisCache())
}

func TestLoadRejectsBadFailurePolicy(t *testing.T) {
	t.Setenv("PAGEKEEP_FAILURE_POLICY", "retry")
	_, err := Load()
	assert.ErrorContains(t, err, "PAGEKEEP_FAILURE_POLICY")
}

func TestLoadAcceptsFailFast(t *testing.T) {
	t.Setenv("PAGEKEEP_FAILURE_POLICY", "failFast")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "failFast", cfg.FailurePolicy)
}

func TestLoadRedisRequiresURL(t *testing.T) {
	t.Setenv("PAGEKEEP_CACHE_BACKEND", "redis")
	_, err := Load()
	assert.ErrorContains(t, err, "PAGEKEEP_REDIS_URL")

	t.Setenv("PAGEKEEP_REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseRedisCache())
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("PAGEKEEP_OPERATION_BATCH_SIZE", "0")
	_, err := Load()
	assert.ErrorContains(t, err, "PAGEKEEP_OPERATION_BATCH_SIZE")
}

func TestLoadRejectsBadThrottleFraction(t *testing.T) {
	t.Setenv("PAGEKEEP_THROTTLE_FRACTION", "1.5")
	_, err := Load()
	assert.ErrorContains(t, err, "PAGEKEEP_THROTTLE_FRACTION")
}
