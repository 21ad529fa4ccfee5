// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/query"
)

const pageColumns = `id, path, parent_id, is_empty, grant_type, granted_users,
	granted_group_id, descendant_count, status, revision_id, creator_id,
	last_update_user_id, delete_user_id, deleted_at, created_at, updated_at`

// scanPage scans a single pages row.
func scanPage(row interface{ Scan(...any) error }) (*model.Page, error) {
	var p model.Page
	var grantedUsers string
	err := row.Scan(
		&p.ID, &p.Path, &p.ParentID, &p.IsEmpty, &p.Grant, &grantedUsers,
		&p.GrantedGroupID, &p.DescendantCount, &p.Status, &p.RevisionID,
		&p.CreatorID, &p.LastUpdateUserID, &p.DeleteUserID, &p.DeletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if grantedUsers != "" && grantedUsers != "[]" {
		if err := json.Unmarshal([]byte(grantedUsers), &p.GrantedUsers); err != nil {
			return nil, fmt.Errorf("decoding granted_users for page %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeGrantedUsers(users []string) (string, error) {
	if len(users) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(users)
	if err != nil {
		return "", fmt.Errorf("encoding granted_users: %w", err)
	}
	return string(b), nil
}

// CreatePage inserts a page row. Timestamps are filled in when zero.
func (s *Store) CreatePage(ctx context.Context, p *model.Page) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	grantedUsers, err := encodeGrantedUsers(p.GrantedUsers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Path, p.ParentID, p.IsEmpty, p.Grant, grantedUsers,
		p.GrantedGroupID, p.DescendantCount, p.Status, p.RevisionID,
		p.CreatorID, p.LastUpdateUserID, p.DeleteUserID, p.DeletedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting page %s: %w", p.Path, err)
	}
	return nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id string) (*model.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", id, err)
	}
	return p, nil
}

// FindPages executes a built page query and returns all matching rows.
func (s *Store) FindPages(ctx context.Context, q *query.Builder) ([]*model.Page, error) {
	where, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// FindOnePage executes a built page query expecting at most one row.
func (s *Store) FindOnePage(ctx context.Context, q *query.Builder) (*model.Page, error) {
	pages, err := s.FindPages(ctx, q.Paginate(-1, 1))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNotFound
	}
	return pages[0], nil
}

// CountPages executes a built page query as a COUNT.
func (s *Store) CountPages(ctx context.Context, q *query.Builder) (int64, error) {
	where, args, err := q.Build()
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return count, nil
}

// PageBatches streams matching pages in bounded batches using keyset
// pagination over the id column, so batches remain stable while rows are
// being rewritten. newQuery must return a fresh builder each call and must
// not set ordering or pagination.
func (s *Store) PageBatches(ctx context.Context, newQuery func() *query.Builder, size int) iter.Seq2[[]*model.Page, error] {
	return func(yield func([]*model.Page, error) bool) {
		lastID := ""
		for {
			where, args, err := newQuery().Build()
			if err != nil {
				yield(nil, err)
				return
			}
			clause := where
			if clause == "" {
				clause = "WHERE id > ?"
			} else {
				clause += " AND id > ?"
			}
			args = append(args, lastID)

			rows, err := s.db.QueryContext(ctx,
				`SELECT `+pageColumns+` FROM pages `+clause+` ORDER BY id LIMIT ?`,
				append(args, size)...)
			if err != nil {
				yield(nil, fmt.Errorf("querying page batch: %w", err))
				return
			}
			var batch []*model.Page
			for rows.Next() {
				p, err := scanPage(rows)
				if err != nil {
					_ = rows.Close()
					yield(nil, fmt.Errorf("scanning page batch: %w", err))
					return
				}
				batch = append(batch, p)
			}
			err = rows.Err()
			_ = rows.Close()
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			lastID = batch[len(batch)-1].ID
			if !yield(batch, nil) {
				return
			}
			if len(batch) < size {
				return
			}
		}
	}
}

// UpdatePage rewrites all mutable columns of a page row.
func (s *Store) UpdatePage(ctx context.Context, p *model.Page) error {
	p.UpdatedAt = time.Now()
	grantedUsers, err := encodeGrantedUsers(p.GrantedUsers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pages SET path = ?, parent_id = ?, is_empty = ?, grant_type = ?,
			granted_users = ?, granted_group_id = ?, descendant_count = ?,
			status = ?, revision_id = ?, last_update_user_id = ?,
			delete_user_id = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?`,
		p.Path, p.ParentID, p.IsEmpty, p.Grant, grantedUsers, p.GrantedGroupID,
		p.DescendantCount, p.Status, p.RevisionID, p.LastUpdateUserID,
		p.DeleteUserID, p.DeletedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating page %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePagePath rewrites only the path of a page.
func (s *Store) UpdatePagePath(ctx context.Context, id, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating path of page %s: %w", id, err)
	}
	return nil
}

// UpdatePageParent re-points a page's parent reference.
func (s *Store) UpdatePageParent(ctx context.Context, id string, parentID sql.NullString) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET parent_id = ?, updated_at = ? WHERE id = ?`,
		parentID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating parent of page %s: %w", id, err)
	}
	return nil
}

// BulkUpdateParentWhereUnlinked attaches every listed page that is still
// unattached. A page attached by a concurrent operation between candidate
// selection and this write keeps its parent.
func (s *Store) BulkUpdateParentWhereUnlinked(ctx context.Context, ids []string, parentID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+2)
	args = append(args, parentID, time.Now())
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET parent_id = ?, updated_at = ?
		 WHERE id IN (`+placeholders+`) AND parent_id IS NULL`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk updating parents: %w", err)
	}
	return res.RowsAffected()
}

// ReparentChildren moves every child of fromParentID under toParent.
// A NULL toParent detaches the children.
func (s *Store) ReparentChildren(ctx context.Context, fromParentID string, toParent sql.NullString) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET parent_id = ?, updated_at = ? WHERE parent_id = ?`,
		toParent, time.Now(), fromParentID)
	if err != nil {
		return 0, fmt.Errorf("reparenting children of %s: %w", fromParentID, err)
	}
	return res.RowsAffected()
}

// UpdateDescendantCount overwrites the cached descendant counter of a page.
func (s *Store) UpdateDescendantCount(ctx context.Context, id string, count int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET descendant_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("updating descendant count of %s: %w", id, err)
	}
	return nil
}

// IncrementDescendantCounts applies delta to the cached counters of the
// listed pages in one statement.
func (s *Store) IncrementDescendantCounts(ctx context.Context, ids []string, delta int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, delta)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET descendant_count = descendant_count + ?
		 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("incrementing descendant counts: %w", err)
	}
	return nil
}

// Children returns every page whose parent is parentID, placeholders included.
func (s *Store) Children(ctx context.Context, parentID string) ([]*model.Page, error) {
	return s.FindPages(ctx, pagesByParent(parentID))
}

// CountChildren counts pages whose parent is parentID, placeholders included.
func (s *Store) CountChildren(ctx context.Context, parentID string) (int64, error) {
	return s.CountPages(ctx, pagesByParent(parentID))
}

func pagesByParent(parentID string) *query.Builder {
	return query.NewPageQuery().IncludeEmpty().
		Where(query.Cond{SQL: "parent_id = ?", Args: []any{parentID}})
}

// AggregateChildDescendants computes the descendant count of a page from its
// immediate children: each child contributes its own cached counter plus one
// if it is a real (non-empty) page.
func (s *Store) AggregateChildDescendants(ctx context.Context, parentID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(descendant_count + (CASE WHEN is_empty = 0 THEN 1 ELSE 0 END)), 0)
		FROM pages WHERE parent_id = ?`, parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("aggregating child descendants of %s: %w", parentID, err)
	}
	return count, nil
}

// DeletePage removes a single page row.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting page %s: %w", id, err)
	}
	return nil
}

// DeletePages removes a bounded batch of page rows.
func (s *Store) DeletePages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting pages: %w", err)
	}
	return nil
}

// pathDepth is the SQL expression for a page's tree depth: the number of
// path segments, with the root at zero.
const pathDepth = `CASE WHEN path = '/' THEN 0
	ELSE LENGTH(path) - LENGTH(REPLACE(path, '/', '')) END`

// MaxPathDepth returns the deepest tree depth among all pages, or -1 when
// the table is empty.
func (s *Store) MaxPathDepth(ctx context.Context) (int, error) {
	var depth sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(`+pathDepth+`) FROM pages`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("finding max path depth: %w", err)
	}
	if !depth.Valid {
		return -1, nil
	}
	return int(depth.Int64), nil
}

// PageIDsAtDepth returns the ids of every page at exactly the given tree
// depth. Used by the bottom-up descendant-count recount.
func (s *Store) PageIDsAtDepth(ctx context.Context, depth int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM pages WHERE `+pathDepth+` = ? ORDER BY id`, depth)
	if err != nil {
		return nil, fmt.Errorf("listing pages at depth %d: %w", depth, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning page id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasUniquePathIndex reports whether the legacy unique index on path is
// still present. The flat-to-tree migration requires the non-unique index
// since placeholders may transiently share a path with a real page.
func (s *Store) HasUniquePathIndex(ctx context.Context) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'uq_pages_path'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking path index: %w", err)
	}
	return n > 0, nil
}
