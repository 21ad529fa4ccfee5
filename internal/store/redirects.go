// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/query"
)

// CreateRedirect records a fromPath -> toPath mapping. An existing redirect
// for the same fromPath is replaced, keeping at most one active redirect per
// source path.
func (s *Store) CreateRedirect(ctx context.Context, r *model.PageRedirect) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_redirects (id, from_path, to_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_path) DO UPDATE SET to_path = excluded.to_path`,
		r.ID, r.FromPath, r.ToPath, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting redirect %s: %w", r.FromPath, err)
	}
	return nil
}

// GetRedirect fetches the active redirect for fromPath.
func (s *Store) GetRedirect(ctx context.Context, fromPath string) (*model.PageRedirect, error) {
	var r model.PageRedirect
	err := s.db.QueryRowContext(ctx, `
		SELECT id, from_path, to_path, created_at FROM page_redirects
		WHERE from_path = ?`, fromPath).
		Scan(&r.ID, &r.FromPath, &r.ToPath, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching redirect %s: %w", fromPath, err)
	}
	return &r, nil
}

// DeleteRedirect removes the redirect for fromPath, if any.
func (s *Store) DeleteRedirect(ctx context.Context, fromPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM page_redirects WHERE from_path = ?`, fromPath)
	if err != nil {
		return fmt.Errorf("deleting redirect %s: %w", fromPath, err)
	}
	return nil
}

// DeleteRedirectsUnder removes all redirects whose source is path or lives
// beneath it. Used when a subtree is hard-deleted.
func (s *Store) DeleteRedirectsUnder(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM page_redirects WHERE from_path = ? OR from_path LIKE ? ESCAPE '\'`,
		path, query.EscapeLike(path)+"/%")
	if err != nil {
		return fmt.Errorf("deleting redirects under %s: %w", path, err)
	}
	return nil
}
