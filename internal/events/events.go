// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package events carries the engine's outbound domain events. The engine
// publishes typed payloads into a Sink; delivery to sockets, push channels or
// other transports lives entirely outside this codebase.
package events

import (
	"context"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
)

// Page event types.
const (
	TypePageCreate            = "page.create"
	TypePageUpdate            = "page.update"
	TypePageRename            = "page.rename"
	TypePageDelete            = "page.delete"
	TypePageDeleteCompletely  = "page.deleteCompletely"
	TypePageRevert            = "page.revert"
	TypePageDuplicate         = "page.duplicate"
	TypeSyncDescendantsUpdate = "page.syncDescendantsUpdate"
	TypeSyncDescendantsDelete = "page.syncDescendantsDelete"
)

// Migration and maintenance event types.
const (
	TypeMigrationStarted    = "migration.started"
	TypeMigrationMigrating  = "migration.migrating"
	TypeMigrationErrorCount = "migration.errorCount"
	TypeMigrationEnded      = "migration.ended"
	TypeDescendantCount     = "descendantCount.updated"
)

// Event is a single domain event payload.
type Event struct {
	Type      string
	Page      *model.Page
	PageIDs   []string
	UserID    string
	FromPath  string
	ToPath    string
	Count     int64
	Succeeded bool
	At        time.Time
}

// Sink receives domain events. Publish must not block the structural
// operation that emits the event.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }
