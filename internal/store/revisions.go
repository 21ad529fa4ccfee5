// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
)

// CreateRevision inserts a content snapshot.
func (s *Store) CreateRevision(ctx context.Context, r *model.Revision) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (id, page_id, body, author_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.PageID, r.Body, r.AuthorID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting revision for page %s: %w", r.PageID, err)
	}
	return nil
}

// GetRevision fetches a revision by id.
func (s *Store) GetRevision(ctx context.Context, id string) (*model.Revision, error) {
	var r model.Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT id, page_id, body, author_id, created_at FROM revisions
		WHERE id = ?`, id).
		Scan(&r.ID, &r.PageID, &r.Body, &r.AuthorID, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching revision %s: %w", id, err)
	}
	return &r, nil
}

// DeleteRevisionsByPageIDs removes every revision of the listed pages.
func (s *Store) DeleteRevisionsByPageIDs(ctx context.Context, pageIDs []string) error {
	if len(pageIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(pageIDs)-1) + "?"
	args := make([]any, len(pageIDs))
	for i, id := range pageIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM revisions WHERE page_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting revisions: %w", err)
	}
	return nil
}
