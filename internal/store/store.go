// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store provides SQLite-backed persistence for pages, operation-log
// records, redirects, revisions and the event log. All writes are single
// statements or bounded batches; the engine never relies on cross-document
// transactions, so every method is independently atomic and safe to re-run.
package store

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store provides access to all engine tables.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that manage their own
// tables (e.g. the event-log slog handler).
func (s *Store) DB() *sql.DB {
	return s.db
}
