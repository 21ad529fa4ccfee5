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

// Duplicate copies page to newPath, cloning its latest revision and tag
// associations. With recursive set, the Sub stage copies every real
// descendant under the new prefix and re-links the copied subtree.
func (s *Service) Duplicate(ctx context.Context, page *model.Page, newPath, userID string, recursive bool) (*model.Page, error) {
	newPath = pagepath.Normalize(newPath)
	if page.IsEmpty || !page.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotMovable, page.Path)
	}
	if pagepath.IsTopPage(newPath) || newPath == page.Path {
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

	op, err := s.beginOperation(ctx, model.ActionDuplicate, page, userID, page.Path, newPath,
		model.OperationOptions{Recursive: recursive})
	if err != nil {
		return nil, err
	}

	copied, err := s.copyPage(ctx, page, newPath, userID, true)
	if err != nil {
		s.settle(ctx, op)
		return nil, err
	}

	s.invalidate(ctx, newPath)
	s.publish(ctx, events.Event{
		Type:     events.TypePageDuplicate,
		Page:     copied,
		UserID:   userID,
		FromPath: page.Path,
		ToPath:   newPath,
	})

	if recursive {
		s.runSub(ctx, op)
	} else {
		s.settle(ctx, op)
	}
	return copied, nil
}

// copyPage clones src at dstPath. With attach set, the copy is placed on the
// tree (ancestors filled, counts bumped); otherwise it is created detached
// for a later normalize pass.
func (s *Service) copyPage(ctx context.Context, src *model.Page, dstPath, userID string, attach bool) (*model.Page, error) {
	copied := &model.Page{
		ID:               uuid.NewString(),
		Path:             dstPath,
		Grant:            src.Grant,
		GrantedUsers:     src.GrantedUsers,
		GrantedGroupID:   src.GrantedGroupID,
		Status:           model.PageStatusPublished,
		CreatorID:        userID,
		LastUpdateUserID: userID,
	}

	if attach && src.Grant != model.GrantRestricted {
		parent, err := s.tree.GetParentAndFillAncestors(ctx, dstPath, userID)
		if err != nil {
			return nil, err
		}
		copied.ParentID = sql.NullString{String: parent.ID, Valid: true}
	}

	revID, err := s.collab.Revisions.Copy(ctx, src.ID, copied.ID, userID)
	if err != nil {
		return nil, err
	}
	copied.RevisionID = sql.NullString{String: revID, Valid: true}

	if err := s.store.CreatePage(ctx, copied); err != nil {
		return nil, err
	}
	if err := s.collab.Tags.CopyByPageID(ctx, src.ID, copied.ID); err != nil {
		return nil, err
	}

	if copied.ParentID.Valid {
		if err := s.tree.UpdateDescendantCountOfAncestors(ctx, copied.ID, 1, false); err != nil {
			return nil, err
		}
	}
	return copied, nil
}

// duplicateSub copies every real descendant of the source prefix. Copies are
// created detached and a normalize pass re-links them, so batch order does
// not have to follow the hierarchy. A page already present at a destination
// path is skipped, making a re-drive idempotent.
func (s *Service) duplicateSub(ctx context.Context, op *model.PageOperation) error {
	var copied int64
	newQuery := func() *query.Builder {
		return query.NewPageQuery().
			OnlyDescendantsOf(op.FromPath).
			StatusIs(model.PageStatusPublished)
	}
	for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		n, err := s.duplicateBatch(ctx, op, batch)
		copied += n
		if err != nil {
			if err := s.batchFailed(err, op.ActionType, op.FromPath); err != nil {
				return err
			}
		}
	}

	if err := s.normalizeSubtree(ctx, op.ToPath, op.UserID); err != nil {
		return err
	}

	s.invalidate(ctx, op.ToPath)
	s.publish(ctx, events.Event{
		Type:     events.TypeSyncDescendantsUpdate,
		FromPath: op.FromPath,
		ToPath:   op.ToPath,
		Count:    copied,
	})
	return nil
}

func (s *Service) duplicateBatch(ctx context.Context, op *model.PageOperation, batch []*model.Page) (int64, error) {
	var copied int64
	for _, src := range batch {
		if src.Grant == model.GrantRestricted {
			continue
		}
		// When the destination sits under the source prefix, copies made by
		// earlier batches match the stream too; copying a copy must not
		// cascade.
		if src.Path == op.ToPath || pagepath.IsAncestorOf(op.ToPath, src.Path) {
			continue
		}
		dstPath := pagepath.ChangePrefix(src.Path, op.FromPath, op.ToPath)
		existing, err := s.store.FindOnePage(ctx,
			query.NewPageQuery().PathIs(dstPath).StatusIs(model.PageStatusPublished))
		if err != nil && err != store.ErrNotFound {
			return copied, err
		}
		if existing != nil {
			continue
		}
		if _, err := s.copyPage(ctx, src, dstPath, op.UserID, false); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
