// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

// Revert restores a trashed page to its original path: the trash prefix is
// stripped, the status flips back to published and the page is re-attached
// to a re-derived parent chain. With recursive set, the Sub stage restores
// the trashed subtree the same way.
func (s *Service) Revert(ctx context.Context, page *model.Page, userID string, recursive bool) (*model.Page, error) {
	trashPath := page.Path
	if !page.IsDeleted() || !pagepath.IsTrashPath(trashPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotRevertible, trashPath)
	}
	destPath := pagepath.FromTrashPath(trashPath)

	occupied, err := s.store.FindOnePage(ctx,
		query.NewPageQuery().PathIs(destPath).StatusIs(model.PageStatusPublished))
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if occupied != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, destPath)
	}

	if !s.grants.IsNormalized(ctx, grant.Proposed{
		Path:           destPath,
		Grant:          page.Grant,
		GrantedUsers:   page.GrantedUsers,
		GrantedGroupID: groupIDOf(page),
	}, false) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotNormalized, destPath)
	}

	op, err := s.beginOperation(ctx, model.ActionRevert, page, userID, trashPath, destPath,
		model.OperationOptions{Recursive: recursive})
	if err != nil {
		return nil, err
	}

	if page.Grant == model.GrantRestricted {
		// Restricted pages are standalone roots; the restore keeps them
		// detached and touches nothing around them.
		page.Path = destPath
		page.Status = model.PageStatusPublished
		page.DeleteUserID = sql.NullString{}
		page.DeletedAt = sql.NullTime{}
		page.LastUpdateUserID = userID
		if err := s.store.UpdatePage(ctx, page); err != nil {
			s.settle(ctx, op)
			return nil, err
		}
		if err := s.store.DeleteRedirect(ctx, destPath); err != nil {
			s.logger.Warn("failed to delete stale redirect", "path", destPath, "error", err)
		}
		s.invalidate(ctx, trashPath, destPath)
		s.publish(ctx, events.Event{
			Type:     events.TypePageRevert,
			Page:     page,
			UserID:   userID,
			FromPath: trashPath,
			ToPath:   destPath,
		})
		s.settle(ctx, op)
		return page, nil
	}

	empty, err := s.findEmptyAt(ctx, destPath)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}
	parent, err := s.tree.GetParentAndFillAncestors(ctx, destPath, userID)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	page.Path = destPath
	page.Status = model.PageStatusPublished
	page.ParentID = sql.NullString{String: parent.ID, Valid: true}
	page.DeleteUserID = sql.NullString{}
	page.DeletedAt = sql.NullTime{}
	page.LastUpdateUserID = userID
	if empty != nil {
		page.DescendantCount = empty.DescendantCount
	}
	if err := s.store.UpdatePage(ctx, page); err != nil {
		s.settle(ctx, op)
		return nil, err
	}
	if empty != nil {
		if _, err := s.tree.ReplaceTargetWithPage(ctx, empty, page, userID, true); err != nil {
			s.settle(ctx, op)
			return nil, err
		}
	}

	// The delete left a redirect pointing into the trash; it is stale now.
	if err := s.store.DeleteRedirect(ctx, destPath); err != nil {
		s.logger.Warn("failed to delete stale redirect", "path", destPath, "error", err)
	}

	if err := s.tree.UpdateDescendantCountOfAncestors(ctx, page.ID, 1, false); err != nil {
		s.logger.Error("failed to increment ancestor counts", "path", destPath, "error", err)
	}

	s.invalidate(ctx, trashPath, destPath)
	s.publish(ctx, events.Event{
		Type:     events.TypePageRevert,
		Page:     page,
		UserID:   userID,
		FromPath: trashPath,
		ToPath:   destPath,
	})

	if recursive {
		s.runSub(ctx, op)
	} else {
		s.settle(ctx, op)
	}
	return page, nil
}

// revertSub restores every trashed descendant of the operation's source
// prefix: prefix stripped, status published, then a normalize pass
// re-attaches the restored pages. Idempotent under re-drive since restored
// rows stop matching the trash filter.
func (s *Service) revertSub(ctx context.Context, op *model.PageOperation) error {
	var restored int64
	newQuery := func() *query.Builder {
		return query.NewPageQuery().IncludeEmpty().
			OnlyDescendantsOf(op.FromPath).
			StatusIs(model.PageStatusDeleted)
	}
	for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		n, err := s.restoreBatch(ctx, op, batch)
		restored += n
		if err != nil {
			if err := s.batchFailed(err, op.ActionType, op.FromPath); err != nil {
				return err
			}
		}
	}

	if err := s.normalizeSubtree(ctx, op.ToPath, op.UserID); err != nil {
		return err
	}

	s.invalidate(ctx, op.FromPath, op.ToPath)
	s.publish(ctx, events.Event{
		Type:     events.TypeSyncDescendantsUpdate,
		UserID:   op.UserID,
		FromPath: op.FromPath,
		ToPath:   op.ToPath,
		Count:    restored,
	})
	return nil
}

func (s *Service) restoreBatch(ctx context.Context, op *model.PageOperation, batch []*model.Page) (int64, error) {
	var restored int64
	for _, p := range batch {
		oldPath := p.Path
		p.Path = pagepath.ChangePrefix(p.Path, op.FromPath, op.ToPath)
		p.Status = model.PageStatusPublished
		p.ParentID = sql.NullString{}
		p.DeleteUserID = sql.NullString{}
		p.DeletedAt = sql.NullTime{}
		if err := s.store.UpdatePage(ctx, p); err != nil {
			return restored, err
		}
		if err := s.store.DeleteRedirect(ctx, p.Path); err != nil {
			return restored, err
		}
		if err := s.store.DeleteRedirect(ctx, oldPath); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}
