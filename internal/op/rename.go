// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

// RenameOptions tunes a rename operation.
type RenameOptions struct {
	// CreateRedirect writes a redirect from each old path to its new path.
	CreateRedirect bool
	// UpdateMetadata refreshes the last-update user and timestamp on the
	// moved pages.
	UpdateMetadata bool
}

// Rename moves a page and its whole subtree to newPath. The caller-visible
// Main stage moves the target itself; descendants are re-pathed by a
// streamed Sub stage, so readers may briefly observe descendants under the
// old prefix.
func (s *Service) Rename(ctx context.Context, page *model.Page, newPath, userID string, opts RenameOptions) (*model.Page, error) {
	oldPath := page.Path
	newPath = pagepath.Normalize(newPath)

	if page.IsEmpty || !page.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotMovable, oldPath)
	}
	if !pagepath.IsMovable(oldPath) || !pagepath.IsMovable(newPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotMovable, oldPath)
	}
	if newPath == oldPath {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, newPath)
	}

	occupied, err := s.store.FindOnePage(ctx,
		query.NewPageQuery().PathIs(newPath).StatusIs(model.PageStatusPublished))
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if occupied != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, newPath)
	}

	if !s.grants.IsNormalized(ctx, grant.Proposed{
		Path:           newPath,
		Grant:          page.Grant,
		GrantedUsers:   page.GrantedUsers,
		GrantedGroupID: groupIDOf(page),
	}, false) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotNormalized, newPath)
	}

	op, err := s.beginOperation(ctx, model.ActionRename, page, userID, oldPath, newPath,
		model.OperationOptions{
			CreateRedirect: opts.CreateRedirect,
			UpdateMetadata: opts.UpdateMetadata,
		})
	if err != nil {
		return nil, err
	}

	if page.Grant == model.GrantRestricted {
		// Restricted pages are standalone roots with no attached subtree;
		// only the page itself moves and it stays detached.
		page.Path = newPath
		if opts.UpdateMetadata {
			touch(page, userID)
		}
		if err := s.store.UpdatePage(ctx, page); err != nil {
			s.settle(ctx, op)
			return nil, err
		}
		s.refreshRedirects(ctx, oldPath, newPath, opts.CreateRedirect)
		s.invalidate(ctx, oldPath, newPath)
		s.publish(ctx, events.Event{
			Type:     events.TypePageRename,
			Page:     page,
			UserID:   userID,
			FromPath: oldPath,
			ToPath:   newPath,
		})
		s.settle(ctx, op)
		return page, nil
	}

	subtreeSize := page.DescendantCount + 1
	oldAncestors, err := s.tree.AncestorIDs(ctx, page.ID, false)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	if err := s.tree.TakeOffFromTree(ctx, page.ID); err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	var parent *model.Page
	if pagepath.IsAncestorOf(oldPath, newPath) {
		// The destination sits inside the subtree being moved. Existing
		// pages on the chain between oldPath and newPath are themselves
		// about to be re-pathed, so reusing them as ancestors would close a
		// cycle. A fresh empty chain is synthesized instead.
		parent, err = s.synthesizeChain(ctx, page, oldPath, newPath, userID)
	} else {
		var empty *model.Page
		empty, err = s.findEmptyAt(ctx, newPath)
		if err == nil && empty != nil {
			// The empty's descendants are already counted on the new chain;
			// only the page itself takes them over.
			page.DescendantCount += empty.DescendantCount
			if _, err := s.tree.ReplaceTargetWithPage(ctx, empty, page, userID, true); err != nil {
				s.settle(ctx, op)
				return nil, err
			}
		}
		if err == nil {
			parent, err = s.tree.GetParentAndFillAncestors(ctx, newPath, userID)
		}
	}
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	page.Path = newPath
	page.ParentID = sql.NullString{String: parent.ID, Valid: true}
	if opts.UpdateMetadata {
		touch(page, userID)
	}
	if err := s.store.UpdatePage(ctx, page); err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	s.refreshRedirects(ctx, oldPath, newPath, opts.CreateRedirect)

	if err := s.tree.IncrementDescendantCountOfPageIDs(ctx, oldAncestors, -subtreeSize); err != nil {
		s.logger.Error("failed to decrement old ancestor counts", "path", oldPath, "error", err)
	}
	if err := s.tree.UpdateDescendantCountOfAncestors(ctx, page.ID, subtreeSize, false); err != nil {
		s.logger.Error("failed to increment new ancestor counts", "path", newPath, "error", err)
	}

	s.invalidate(ctx, oldPath, newPath)
	s.publish(ctx, events.Event{
		Type:     events.TypePageRename,
		Page:     page,
		UserID:   userID,
		FromPath: oldPath,
		ToPath:   newPath,
	})

	s.runSub(ctx, op)
	return page, nil
}

// refreshRedirects records the move and clears any redirect that would
// shadow the destination.
func (s *Service) refreshRedirects(ctx context.Context, oldPath, newPath string, create bool) {
	if create {
		if err := s.store.CreateRedirect(ctx, &model.PageRedirect{
			ID:       uuid.NewString(),
			FromPath: oldPath,
			ToPath:   newPath,
		}); err != nil {
			s.logger.Warn("failed to create redirect", "from", oldPath, "error", err)
		}
	}
	if err := s.store.DeleteRedirect(ctx, newPath); err != nil {
		s.logger.Warn("failed to delete stale redirect", "path", newPath, "error", err)
	}
}

// synthesizeChain builds a fresh empty-page chain from oldPath down to the
// parent of newPath, anchored on oldPath's original parent. Called with the
// target already detached.
func (s *Service) synthesizeChain(ctx context.Context, page *model.Page, oldPath, newPath, userID string) (*model.Page, error) {
	anchor, err := s.tree.GetParentAndFillAncestors(ctx, oldPath, userID)
	if err != nil {
		return nil, err
	}

	oldDepth := pagepath.Depth(oldPath)
	prev := anchor
	for _, ancestorPath := range pagepath.AncestorPaths(newPath) {
		if pagepath.Depth(ancestorPath) < oldDepth {
			continue
		}
		prev, err = s.tree.CreateEmptyPage(ctx, ancestorPath, prev.ID, userID)
		if err != nil {
			return nil, err
		}
	}
	return prev, nil
}

// renameSub re-paths every descendant of the operation's source prefix. The
// stream is derived from the operation record alone so a stale record can be
// re-driven; re-pathing is an idempotent prefix substitution.
func (s *Service) renameSub(ctx context.Context, op *model.PageOperation) error {
	// When the destination sits inside the old subtree, the moved page and
	// its fresh ancestor chain also match the old prefix and must not be
	// re-pathed again.
	skip := map[string]bool{op.PageID: true}
	if ancestors, err := s.tree.AncestorIDs(ctx, op.PageID, false); err == nil {
		for _, id := range ancestors {
			skip[id] = true
		}
	}

	var moved int64
	newQuery := func() *query.Builder {
		return query.NewPageQuery().IncludeEmpty().OnlyDescendantsOf(op.FromPath)
	}
	for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		n, err := s.renameBatch(ctx, op, batch, skip)
		moved += n
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

	s.invalidate(ctx, op.FromPath, op.ToPath)
	s.publish(ctx, events.Event{
		Type:     events.TypeSyncDescendantsUpdate,
		FromPath: op.FromPath,
		ToPath:   op.ToPath,
		Count:    moved,
	})
	return nil
}

func (s *Service) renameBatch(ctx context.Context, op *model.PageOperation, batch []*model.Page, skip map[string]bool) (int64, error) {
	var moved int64
	for _, p := range batch {
		if skip[p.ID] {
			continue
		}
		// When the destination sits under the old prefix, a re-driven pass
		// sees rows already rewritten to their final paths; substituting the
		// prefix again would nest it once more.
		if p.Path == op.ToPath || pagepath.IsAncestorOf(op.ToPath, p.Path) {
			continue
		}
		rewritten := pagepath.ChangePrefix(p.Path, op.FromPath, op.ToPath)
		if err := s.store.UpdatePagePath(ctx, p.ID, rewritten); err != nil {
			return moved, err
		}
		if op.Options.CreateRedirect && !p.IsEmpty {
			if err := s.store.CreateRedirect(ctx, &model.PageRedirect{
				ID:       uuid.NewString(),
				FromPath: p.Path,
				ToPath:   rewritten,
			}); err != nil {
				return moved, err
			}
		}
		moved++
	}
	return moved, nil
}

// pruneEmptyAt removes a now-childless empty chain starting at path.
func (s *Service) pruneEmptyAt(ctx context.Context, path string) error {
	p, err := s.findEmptyAt(ctx, path)
	if err != nil || p == nil {
		return err
	}
	return s.tree.RemoveLeafEmptyPagesRecursively(ctx, p.ID)
}
