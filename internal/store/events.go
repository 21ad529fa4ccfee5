// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
)

// CreateEventParams holds the fields for a new event log entry.
type CreateEventParams struct {
	Level     string
	Category  string
	Message   string
	UserID    string
	Metadata  string
	CreatedAt time.Time
}

// CreateEvent appends an entry to the event log.
func (s *Store) CreateEvent(ctx context.Context, params CreateEventParams) error {
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now()
	}
	if params.Metadata == "" {
		params.Metadata = "{}"
	}
	var userID any
	if params.UserID != "" {
		userID = params.UserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (level, category, message, user_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		params.Level, params.Category, params.Message, userID, params.Metadata, params.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListRecentEvents returns the newest event log entries.
func (s *Store) ListRecentEvents(ctx context.Context, limit int64) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, category, message, user_id, metadata, created_at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message,
			&e.UserID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteOldEvents removes events older than the cutoff.
func (s *Store) DeleteOldEvents(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("deleting old events: %w", err)
	}
	return nil
}
