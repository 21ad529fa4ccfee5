// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
)

// Delete soft-deletes a page: its path is rewritten into the trash
// namespace, its status flips to deleted and it is detached from the tree. A
// redirect from the old path keeps stale links resolving. Without recursive,
// a page with children is first substituted by an empty placeholder so the
// children stay connected; with recursive, the Sub stage trashes the whole
// subtree.
func (s *Service) Delete(ctx context.Context, page *model.Page, userID string, recursive bool) (*model.Page, error) {
	oldPath := page.Path
	if page.IsEmpty || !page.IsPublished() || !pagepath.IsDeletable(oldPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotDeletable, oldPath)
	}

	trashPath := pagepath.ToTrashPath(oldPath)
	op, err := s.beginOperation(ctx, model.ActionDelete, page, userID, oldPath, trashPath,
		model.OperationOptions{Recursive: recursive})
	if err != nil {
		return nil, err
	}

	ancestors, err := s.tree.AncestorIDs(ctx, page.ID, false)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}
	children, err := s.store.CountChildren(ctx, page.ID)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}
	formerParent := page.ParentID

	// How many non-empty pages the old chain loses.
	delta := int64(1)
	if recursive {
		delta = page.DescendantCount + 1
	} else if children > 0 {
		if _, err := s.tree.ReplaceTargetWithPage(ctx, page, nil, userID, false); err != nil {
			s.settle(ctx, op)
			return nil, err
		}
	}

	now := time.Now()
	page.Path = trashPath
	page.Status = model.PageStatusDeleted
	page.ParentID = sql.NullString{}
	page.DescendantCount = 0
	page.DeleteUserID = sql.NullString{String: userID, Valid: true}
	page.DeletedAt = sql.NullTime{Time: now, Valid: true}
	if err := s.store.UpdatePage(ctx, page); err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	if err := s.store.CreateRedirect(ctx, &model.PageRedirect{
		ID:       uuid.NewString(),
		FromPath: oldPath,
		ToPath:   trashPath,
	}); err != nil {
		s.logger.Warn("failed to create redirect", "from", oldPath, "error", err)
	}

	if err := s.tree.IncrementDescendantCountOfPageIDs(ctx, ancestors, -delta); err != nil {
		s.logger.Error("failed to decrement ancestor counts", "path", oldPath, "error", err)
	}
	if children == 0 && formerParent.Valid {
		if err := s.tree.RemoveLeafEmptyPagesRecursively(ctx, formerParent.String); err != nil {
			s.logger.Warn("failed to prune old chain", "path", oldPath, "error", err)
		}
	}

	s.invalidate(ctx, oldPath)
	s.publish(ctx, events.Event{
		Type:     events.TypePageDelete,
		Page:     page,
		UserID:   userID,
		FromPath: oldPath,
		ToPath:   trashPath,
	})

	if recursive && children > 0 {
		s.runSub(ctx, op)
	} else {
		s.settle(ctx, op)
	}
	return page, nil
}

// deleteSub trashes every descendant of the operation's source prefix.
// Placeholders are dropped outright; real pages get the trash-path rewrite,
// a deleted status and a redirect. The prefix substitution is idempotent.
func (s *Service) deleteSub(ctx context.Context, op *model.PageOperation) error {
	var trashed int64
	newQuery := func() *query.Builder {
		return query.NewPageQuery().IncludeEmpty().OnlyDescendantsOf(op.FromPath)
	}
	for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		n, err := s.trashBatch(ctx, op, batch)
		trashed += n
		if err != nil {
			if err := s.batchFailed(err, op.ActionType, op.FromPath); err != nil {
				return err
			}
		}
	}

	if parentPath := pagepath.ParentPath(op.FromPath); parentPath != "" {
		if err := s.pruneEmptyAt(ctx, parentPath); err != nil {
			s.logger.Warn("failed to prune old chain", "path", parentPath, "error", err)
		}
	}

	s.invalidate(ctx, op.FromPath)
	s.publish(ctx, events.Event{
		Type:     events.TypeSyncDescendantsDelete,
		UserID:   op.UserID,
		FromPath: op.FromPath,
		ToPath:   op.ToPath,
		Count:    trashed,
	})
	return nil
}

func (s *Service) trashBatch(ctx context.Context, op *model.PageOperation, batch []*model.Page) (int64, error) {
	var trashed int64
	now := time.Now()
	for _, p := range batch {
		if p.IsEmpty {
			if err := s.store.DeletePage(ctx, p.ID); err != nil {
				return trashed, err
			}
			continue
		}
		oldPath := p.Path
		p.Path = pagepath.ChangePrefix(p.Path, op.FromPath, op.ToPath)
		p.Status = model.PageStatusDeleted
		p.ParentID = sql.NullString{}
		p.DescendantCount = 0
		p.DeleteUserID = sql.NullString{String: op.UserID, Valid: true}
		p.DeletedAt = sql.NullTime{Time: now, Valid: true}
		if err := s.store.UpdatePage(ctx, p); err != nil {
			return trashed, err
		}
		if err := s.store.CreateRedirect(ctx, &model.PageRedirect{
			ID:       uuid.NewString(),
			FromPath: oldPath,
			ToPath:   p.Path,
		}); err != nil {
			return trashed, err
		}
		trashed++
	}
	return trashed, nil
}

// DeleteCompletely hard-deletes the given pages and cascades removal of
// their dependent records. Irreversible; no redirect survives. The page
// count is capped to bound the blast radius of a single call.
func (s *Service) DeleteCompletely(ctx context.Context, pages []*model.Page, userID string, recursive bool) error {
	if len(pages) == 0 {
		return nil
	}
	if len(pages) > s.cfg.BulkLimit {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPages, len(pages), s.cfg.BulkLimit)
	}
	for _, p := range pages {
		if pagepath.IsTopPage(p.Path) || pagepath.IsUserHomepage(p.Path) {
			return fmt.Errorf("%w: %s", ErrNotDeletable, p.Path)
		}
	}

	for _, p := range pages {
		if err := s.deleteCompletelyOne(ctx, p, userID, recursive); err != nil {
			if s.cfg.FailurePolicy == FailFast {
				return err
			}
			s.logger.Warn("hard delete failed, continuing",
				"path", p.Path, "error", err)
		}
	}
	return nil
}

func (s *Service) deleteCompletelyOne(ctx context.Context, page *model.Page, userID string, recursive bool) error {
	op, err := s.beginOperation(ctx, model.ActionDeleteCompletely, page, userID, page.Path, "",
		model.OperationOptions{Recursive: recursive})
	if err != nil {
		return err
	}

	var ancestors []string
	formerParent := page.ParentID
	attached := page.ParentID.Valid && page.IsPublished()
	if attached {
		ancestors, err = s.tree.AncestorIDs(ctx, page.ID, false)
		if err != nil {
			s.settle(ctx, op)
			return err
		}
	}
	children, err := s.store.CountChildren(ctx, page.ID)
	if err != nil {
		s.settle(ctx, op)
		return err
	}

	delta := int64(0)
	if attached && !page.IsEmpty {
		delta = 1
	}
	if recursive && attached {
		delta += page.DescendantCount
	}
	if !recursive && children > 0 {
		// Children must outlive their parent; an empty placeholder takes
		// its place on the tree.
		if _, err := s.tree.ReplaceTargetWithPage(ctx, page, nil, userID, false); err != nil {
			s.settle(ctx, op)
			return err
		}
	}

	if err := s.collab.cascadeDelete(ctx, []string{page.ID}); err != nil {
		s.settle(ctx, op)
		return err
	}
	if err := s.store.DeleteRedirect(ctx, page.Path); err != nil {
		s.logger.Warn("failed to delete redirect", "path", page.Path, "error", err)
	}
	if err := s.store.DeleteRedirectsUnder(ctx, page.Path); err != nil {
		s.logger.Warn("failed to delete redirects", "path", page.Path, "error", err)
	}
	if err := s.store.DeletePage(ctx, page.ID); err != nil {
		s.settle(ctx, op)
		return err
	}

	if delta > 0 {
		if err := s.tree.IncrementDescendantCountOfPageIDs(ctx, ancestors, -delta); err != nil {
			s.logger.Error("failed to decrement ancestor counts", "path", page.Path, "error", err)
		}
	}
	if children == 0 && formerParent.Valid {
		if err := s.tree.RemoveLeafEmptyPagesRecursively(ctx, formerParent.String); err != nil {
			s.logger.Warn("failed to prune old chain", "path", page.Path, "error", err)
		}
	}

	s.invalidate(ctx, page.Path)
	s.publish(ctx, events.Event{
		Type:    events.TypePageDeleteCompletely,
		PageIDs: []string{page.ID},
		UserID:  userID,
		FromPath: page.Path,
	})

	if recursive && children > 0 {
		s.runSub(ctx, op)
	} else {
		s.settle(ctx, op)
	}
	return nil
}

// deleteCompletelySub hard-deletes every remaining descendant of the
// operation's prefix, cascading per batch. Already-deleted rows simply stop
// matching, so a re-drive is idempotent.
func (s *Service) deleteCompletelySub(ctx context.Context, op *model.PageOperation) error {
	var removed int64
	newQuery := func() *query.Builder {
		return query.NewPageQuery().IncludeEmpty().OnlyDescendantsOf(op.FromPath)
	}
	for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		if err := s.collab.cascadeDelete(ctx, ids); err != nil {
			if err := s.batchFailed(err, op.ActionType, op.FromPath); err != nil {
				return err
			}
			continue
		}
		if err := s.store.DeletePages(ctx, ids); err != nil {
			if err := s.batchFailed(err, op.ActionType, op.FromPath); err != nil {
				return err
			}
			continue
		}
		removed += int64(len(batch))
	}

	s.invalidate(ctx, op.FromPath)
	s.publish(ctx, events.Event{
		Type:     events.TypeSyncDescendantsDelete,
		UserID:   op.UserID,
		FromPath: op.FromPath,
		Count:    removed,
	})
	return nil
}
