// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
)

const operationColumns = `id, action_type, action_stage, page_id, user_id,
	from_path, to_path, options, unprocessable_after, created_at, updated_at`

func scanOperation(row interface{ Scan(...any) error }) (*model.PageOperation, error) {
	var op model.PageOperation
	var options string
	err := row.Scan(
		&op.ID, &op.ActionType, &op.ActionStage, &op.PageID, &op.UserID,
		&op.FromPath, &op.ToPath, &options, &op.UnprocessableAfter,
		&op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if options != "" && options != "{}" {
		if err := json.Unmarshal([]byte(options), &op.Options); err != nil {
			return nil, fmt.Errorf("decoding options for operation %s: %w", op.ID, err)
		}
	}
	return &op, nil
}

// CreateOperation inserts an operation-log record.
func (s *Store) CreateOperation(ctx context.Context, op *model.PageOperation) error {
	now := time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	options, err := json.Marshal(op.Options)
	if err != nil {
		return fmt.Errorf("encoding operation options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO page_operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.ActionType, op.ActionStage, op.PageID, op.UserID,
		op.FromPath, op.ToPath, string(options), op.UnprocessableAfter,
		op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting operation %s: %w", op.ActionType, err)
	}
	return nil
}

// GetOperation fetches an operation-log record by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*model.PageOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM page_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching operation %s: %w", id, err)
	}
	return op, nil
}

// ListOperations returns every in-flight operation-log record.
func (s *Store) ListOperations(ctx context.Context) ([]*model.PageOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM page_operations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []*model.PageOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListStaleOperations returns operations whose unprocessable deadline has
// passed; these were abandoned by a crashed or stuck process.
func (s *Store) ListStaleOperations(ctx context.Context, now time.Time) ([]*model.PageOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+` FROM page_operations
		WHERE unprocessable_after IS NOT NULL AND unprocessable_after < ?
		ORDER BY created_at`, now)
	if err != nil {
		return nil, fmt.Errorf("listing stale operations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []*model.PageOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// UpdateOperationStage moves an operation to a new stage and refreshes its
// unprocessable deadline.
func (s *Store) UpdateOperationStage(ctx context.Context, id, stage string, unprocessableAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE page_operations SET action_stage = ?, unprocessable_after = ?, updated_at = ?
		WHERE id = ?`,
		stage, unprocessableAfter, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating operation %s stage: %w", id, err)
	}
	return nil
}

// DeleteOperation removes an operation-log record, marking the structural
// change as settled.
func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM page_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting operation %s: %w", id, err)
	}
	return nil
}
