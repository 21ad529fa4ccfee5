// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// The returned slice is a copy.
	got[0] = 'x'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)
}

func TestMemoryMiss(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	has, err := c.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryDeleteByPrefix(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"page:/a", "page:/a/b", "page:/ax", "page:/b"} {
		require.NoError(t, c.Set(ctx, k, []byte("v"), 0))
	}

	require.NoError(t, c.DeleteByPrefix(ctx, "page:/a"))

	for _, k := range []string{"page:/a", "page:/a/b", "page:/ax"} {
		_, err := c.Get(ctx, k)
		assert.ErrorIs(t, err, ErrCacheMiss, k)
	}
	_, err := c.Get(ctx, "page:/b")
	assert.NoError(t, err)
}

func TestMemoryClearAndStats(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.Items)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Stats().Items)
}

func TestMemoryClosed(t *testing.T) {
	c := NewSimpleMemory(time.Minute)
	require.NoError(t, c.Close())

	err := c.Set(context.Background(), "k", []byte("v"), 0)
	assert.ErrorIs(t, err, ErrCacheClosed)

	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.(*Memory)
	assert.True(t, ok)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "memcached"})
	assert.Error(t, err)
}
