// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testutil"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) ProcessStaleOperations(context.Context, time.Time) error {
	c.calls.Add(1)
	return nil
}

func TestSweepNow(t *testing.T) {
	sweeper := &countingSweeper{}
	s := New(sweeper, nil, testutil.TestLogger(), Options{})

	require.NoError(t, s.SweepNow(context.Background()))
	assert.Equal(t, int64(1), sweeper.calls.Load())
}

func TestStartRegistersJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	st := testutil.TestStore(t)
	s := New(sweeper, st, testutil.TestLogger(), Options{
		EventRetention: 30 * 24 * time.Hour,
	})

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 2)
}

type countingMigrator struct {
	calls atomic.Int64
}

func (c *countingMigrator) Run(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestStartRegistersMigrationTick(t *testing.T) {
	sweeper := &countingSweeper{}
	migrator := &countingMigrator{}
	s := New(sweeper, nil, testutil.TestLogger(), Options{
		MigrationSpec: "0 2 * * *",
	})
	s.SetMigrator(migrator)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 2)

	s.runMigration()
	assert.Equal(t, int64(1), migrator.calls.Load())
}

func TestMigrationTickDisabledWithoutSpec(t *testing.T) {
	s := New(&countingSweeper{}, nil, testutil.TestLogger(), Options{})
	s.SetMigrator(&countingMigrator{})

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 1)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&countingSweeper{}, nil, testutil.TestLogger(), Options{
		StaleOperationSpec: "not a cron spec",
	})
	assert.Error(t, s.Start())
}

func TestPruneEventsRemovesOldEntries(t *testing.T) {
	st := testutil.TestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateEvent(ctx, store.CreateEventParams{
		Level:     "info",
		Category:  "system",
		Message:   "old entry",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, st.CreateEvent(ctx, store.CreateEventParams{
		Level:     "info",
		Category:  "system",
		Message:   "fresh entry",
		CreatedAt: time.Now(),
	}))

	s := New(&countingSweeper{}, st, testutil.TestLogger(), Options{
		EventRetention: 24 * time.Hour,
	})
	s.pruneEvents()

	events, err := st.ListRecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh entry", events[0].Message)
}
