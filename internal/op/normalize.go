// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
)

// maxNormalizePasses caps the convergence loop of a subtree normalize.
// Displacing a placeholder unlinks its other children, which are then
// re-attached in a later pass.
const maxNormalizePasses = 32

// NormalizeParentByPageIDs attaches each listed legacy page to the tree,
// displacing any empty placeholder occupying its path and filling missing
// ancestors. With recursive set, each page's subtree is normalized in the
// Sub stage. Per-page failures follow the configured failure policy.
func (s *Service) NormalizeParentByPageIDs(ctx context.Context, pageIDs []string, userID string, recursive bool) error {
	for _, id := range pageIDs {
		if err := s.normalizeOne(ctx, id, userID, recursive); err != nil {
			if s.cfg.FailurePolicy == FailFast {
				return err
			}
			s.logger.Warn("normalize failed, continuing", "page", id, "error", err)
		}
	}
	return nil
}

func (s *Service) normalizeOne(ctx context.Context, pageID, userID string, recursive bool) error {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	if pagepath.IsTopPage(page.Path) || pagepath.IsTrashPath(page.Path) ||
		page.Grant == model.GrantRestricted || !page.IsPublished() {
		return nil
	}

	op, err := s.beginOperation(ctx, model.ActionNormalizeParent, page, userID, page.Path, "",
		model.OperationOptions{Recursive: recursive})
	if err != nil {
		return err
	}

	if _, err := s.attachPage(ctx, page, userID); err != nil {
		s.settle(ctx, op)
		return err
	}

	s.invalidate(ctx, page.Path)
	if recursive {
		s.runSub(ctx, op)
	} else {
		s.settle(ctx, op)
	}
	return nil
}

// normalizeSub normalizes the whole subtree under the operation's path.
func (s *Service) normalizeSub(ctx context.Context, op *model.PageOperation) error {
	if err := s.normalizeSubtree(ctx, op.FromPath, op.UserID); err != nil {
		return err
	}
	s.invalidate(ctx, op.FromPath)
	return nil
}

// normalizeSubtree attaches every unattached published page under rootPath,
// looping until the candidate set is exhausted or stops shrinking.
func (s *Service) normalizeSubtree(ctx context.Context, rootPath, userID string) error {
	for pass := 0; pass < maxNormalizePasses; pass++ {
		var attached, candidates int64
		newQuery := func() *query.Builder {
			return query.NewPageQuery().
				OnlyDescendantsOf(rootPath).
				StatusIs(model.PageStatusPublished).
				NotMigratedOnly()
		}
		for batch, err := range s.store.PageBatches(ctx, newQuery, s.cfg.BatchSize) {
			if err != nil {
				return err
			}
			candidates += int64(len(batch))
			for _, p := range batch {
				if p.Grant == model.GrantRestricted {
					candidates--
					continue
				}
				ok, err := s.attachPage(ctx, p, userID)
				if err != nil {
					if err := s.batchFailed(err, model.ActionNormalizeParent, p.Path); err != nil {
						return err
					}
					continue
				}
				if ok {
					attached++
				}
			}
		}
		if candidates == 0 || attached == 0 {
			return nil
		}
	}
	return fmt.Errorf("op: subtree normalize did not converge under %s", rootPath)
}

// attachPage links one unattached page into the tree. An empty placeholder
// at the same path is displaced first: its other children are unlinked (to
// be re-resolved by a later pass) and the placeholder is removed. The
// parent write is guarded so a page attached concurrently is left alone.
func (s *Service) attachPage(ctx context.Context, p *model.Page, userID string) (bool, error) {
	if p.IsMigrated() {
		return false, nil
	}

	empty, err := s.findEmptyAt(ctx, p.Path)
	if err != nil {
		return false, err
	}
	if empty != nil && empty.ID != p.ID {
		ancestors, err := s.tree.AncestorIDs(ctx, empty.ID, false)
		if err != nil {
			return false, err
		}
		if empty.DescendantCount > 0 {
			if err := s.tree.IncrementDescendantCountOfPageIDs(ctx, ancestors, -empty.DescendantCount); err != nil {
				return false, err
			}
		}
		if _, err := s.store.ReparentChildren(ctx, empty.ID, sql.NullString{}); err != nil {
			return false, err
		}
		if err := s.store.DeletePage(ctx, empty.ID); err != nil {
			return false, err
		}
	}

	parent, err := s.tree.GetParentAndFillAncestors(ctx, p.Path, userID)
	if err != nil {
		return false, err
	}
	n, err := s.store.BulkUpdateParentWhereUnlinked(ctx, []string{p.ID}, parent.ID)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	p.ParentID = sql.NullString{String: parent.ID, Valid: true}

	delta := p.DescendantCount
	if !p.IsEmpty {
		delta++
	}
	if delta > 0 {
		if err := s.tree.UpdateDescendantCountOfAncestors(ctx, p.ID, delta, false); err != nil {
			return false, err
		}
	}
	s.publish(ctx, events.Event{Type: events.TypePageUpdate, Page: p, UserID: userID})
	return true, nil
}
