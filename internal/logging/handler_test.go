// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testutil"
)

// discardHandler drops every record; the event log side is what the tests
// observe.
type discardHandler struct{}

func (h discardHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h discardHandler) WithGroup(string) slog.Handler             { return h }

func TestWarnIsForwardedToEventLog(t *testing.T) {
	db := testutil.TestDB(t)
	st := store.New(db)
	logger := slog.New(NewEventLogHandler(discardHandler{}, db))

	logger.Warn("rename batch failed", "path", "/a", "user", "u1")

	events, err := st.ListRecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, model.EventLevelWarning, e.Level)
	assert.Equal(t, model.EventCategoryOperation, e.Category)
	assert.Equal(t, "rename batch failed", e.Message)
	assert.Equal(t, "u1", e.UserID.String)
	assert.Contains(t, e.Metadata, `"path":"/a"`)
}

func TestInfoIsNotForwarded(t *testing.T) {
	db := testutil.TestDB(t)
	st := store.New(db)
	logger := slog.New(NewEventLogHandler(discardHandler{}, db))

	logger.Info("ancestors filled", "path", "/a/b")

	events, err := st.ListRecentEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExplicitCategoryWins(t *testing.T) {
	db := testutil.TestDB(t)
	st := store.New(db)
	logger := slog.New(NewEventLogHandler(discardHandler{}, db))

	logger.Error("something broke", "category", model.EventCategoryCache)

	events, err := st.ListRecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCategoryCache, events[0].Category)
	assert.Equal(t, model.EventLevelError, events[0].Level)
}

func TestCustomThreshold(t *testing.T) {
	db := testutil.TestDB(t)
	st := store.New(db)
	logger := slog.New(NewEventLogHandlerWithLevel(discardHandler{}, db, slog.LevelInfo))

	logger.Info("migration pass finished")

	events, err := st.ListRecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventLevelInfo, events[0].Level)
	assert.Equal(t, model.EventCategoryMigration, events[0].Category)
}
