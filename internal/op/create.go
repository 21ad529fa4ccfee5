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
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

// CreateOptions carries the grant assignment of a new page. A zero Grant
// defaults to public.
type CreateOptions struct {
	Grant          int
	GrantedUsers   []string
	GrantedGroupID string
}

// Create inserts a new published page at path, filling missing ancestors,
// absorbing an empty placeholder already occupying the path, and writing the
// initial revision.
//
// Restricted pages are created detached: no parent, no placeholder takeover,
// no ancestor counting.
func (s *Service) Create(ctx context.Context, path, body, userID string, opts CreateOptions) (*model.Page, error) {
	path = pagepath.Normalize(path)
	if pagepath.IsTopPage(path) {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
	}
	if opts.Grant == 0 {
		opts.Grant = model.GrantPublic
	}

	existing, err := s.store.FindOnePage(ctx,
		query.NewPageQuery().PathIs(path).StatusIs(model.PageStatusPublished))
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
	}

	if !s.grants.IsNormalized(ctx, grant.Proposed{
		Path:           path,
		Grant:          opts.Grant,
		GrantedUsers:   opts.GrantedUsers,
		GrantedGroupID: opts.GrantedGroupID,
	}, false) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotNormalized, path)
	}

	page := &model.Page{
		ID:               uuid.NewString(),
		Path:             path,
		Grant:            opts.Grant,
		GrantedUsers:     opts.GrantedUsers,
		Status:           model.PageStatusPublished,
		CreatorID:        userID,
		LastUpdateUserID: userID,
	}
	if opts.GrantedGroupID != "" {
		page.GrantedGroupID = sql.NullString{String: opts.GrantedGroupID, Valid: true}
	}

	var empty *model.Page
	if opts.Grant != model.GrantRestricted {
		empty, err = s.findEmptyAt(ctx, path)
		if err != nil {
			return nil, err
		}
		parent, err := s.tree.GetParentAndFillAncestors(ctx, path, userID)
		if err != nil {
			return nil, err
		}
		page.ParentID = sql.NullString{String: parent.ID, Valid: true}
		if empty != nil {
			page.DescendantCount = empty.DescendantCount
		}
	}

	revID, err := s.collab.Revisions.Create(ctx, page.ID, body, userID)
	if err != nil {
		return nil, err
	}
	page.RevisionID = sql.NullString{String: revID, Valid: true}

	if err := s.store.CreatePage(ctx, page); err != nil {
		return nil, err
	}
	if empty != nil {
		if _, err := s.tree.ReplaceTargetWithPage(ctx, empty, page, userID, true); err != nil {
			return nil, err
		}
	}
	if page.ParentID.Valid {
		if err := s.tree.UpdateDescendantCountOfAncestors(ctx, page.ID, 1, false); err != nil {
			return nil, err
		}
	}

	s.invalidate(ctx, path)
	s.publish(ctx, events.Event{Type: events.TypePageCreate, Page: page, UserID: userID})
	return page, nil
}

// UpdateOptions carries the changes an update can apply. A zero Grant keeps
// the page's current grant.
type UpdateOptions struct {
	Grant          int
	GrantedUsers   []string
	GrantedGroupID string
}

// Update writes a new revision and applies a grant change. A grant change
// that makes the page restricted detaches it from the tree, substituting an
// empty placeholder when children must stay connected; the reverse change
// re-attaches it.
func (s *Service) Update(ctx context.Context, page *model.Page, newBody, userID string, opts UpdateOptions) (*model.Page, error) {
	newGrant := opts.Grant
	if newGrant == 0 {
		newGrant = page.Grant
		opts.GrantedUsers = page.GrantedUsers
		if page.GrantedGroupID.Valid {
			opts.GrantedGroupID = page.GrantedGroupID.String
		}
	}

	grantChanged := newGrant != page.Grant ||
		opts.GrantedGroupID != groupIDOf(page) ||
		!sameStrings(opts.GrantedUsers, page.GrantedUsers)
	if grantChanged {
		if !s.grants.IsNormalized(ctx, grant.Proposed{
			Path:           page.Path,
			Grant:          newGrant,
			GrantedUsers:   opts.GrantedUsers,
			GrantedGroupID: opts.GrantedGroupID,
		}, true) {
			return nil, fmt.Errorf("%w: %s", ErrGrantNotNormalized, page.Path)
		}
	}

	revID, err := s.collab.Revisions.Create(ctx, page.ID, newBody, userID)
	if err != nil {
		return nil, err
	}
	page.RevisionID = sql.NullString{String: revID, Valid: true}
	page.LastUpdateUserID = userID

	wasAttached := page.ParentID.Valid
	becomesRestricted := grantChanged && newGrant == model.GrantRestricted && wasAttached
	leavesRestricted := grantChanged && page.Grant == model.GrantRestricted &&
		newGrant != model.GrantRestricted && !wasAttached

	if becomesRestricted {
		if err := s.detachForRestriction(ctx, page, userID); err != nil {
			return nil, err
		}
	}

	page.Grant = newGrant
	page.GrantedUsers = opts.GrantedUsers
	page.GrantedGroupID = sql.NullString{}
	if opts.GrantedGroupID != "" {
		page.GrantedGroupID = sql.NullString{String: opts.GrantedGroupID, Valid: true}
	}

	if leavesRestricted {
		if err := s.attachAfterRestriction(ctx, page, userID); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdatePage(ctx, page); err != nil {
		return nil, err
	}

	s.invalidate(ctx, page.Path)
	s.publish(ctx, events.Event{Type: events.TypePageUpdate, Page: page, UserID: userID})
	return page, nil
}

// detachForRestriction takes a page off the tree ahead of a restricting
// grant change, leaving an empty placeholder when children must stay
// connected.
func (s *Service) detachForRestriction(ctx context.Context, page *model.Page, userID string) error {
	ancestors, err := s.tree.AncestorIDs(ctx, page.ID, false)
	if err != nil {
		return err
	}
	children, err := s.store.CountChildren(ctx, page.ID)
	if err != nil {
		return err
	}
	formerParent := page.ParentID

	if children > 0 {
		if _, err := s.tree.ReplaceTargetWithPage(ctx, page, nil, userID, false); err != nil {
			return err
		}
		page.DescendantCount = 0
	}
	if err := s.tree.TakeOffFromTree(ctx, page.ID); err != nil {
		return err
	}
	page.ParentID = sql.NullString{}

	if err := s.tree.IncrementDescendantCountOfPageIDs(ctx, ancestors, -1); err != nil {
		return err
	}
	if children == 0 && formerParent.Valid {
		return s.tree.RemoveLeafEmptyPagesRecursively(ctx, formerParent.String)
	}
	return nil
}

// attachAfterRestriction puts a formerly restricted page back on the tree,
// absorbing an empty placeholder at its path when one exists.
func (s *Service) attachAfterRestriction(ctx context.Context, page *model.Page, userID string) error {
	empty, err := s.findEmptyAt(ctx, page.Path)
	if err != nil {
		return err
	}
	parent, err := s.tree.GetParentAndFillAncestors(ctx, page.Path, userID)
	if err != nil {
		return err
	}
	page.ParentID = sql.NullString{String: parent.ID, Valid: true}
	if empty != nil {
		page.DescendantCount = empty.DescendantCount
		if _, err := s.tree.ReplaceTargetWithPage(ctx, empty, page, userID, true); err != nil {
			return err
		}
	}
	// Persist the parent before counting so the walk sees the new chain.
	if err := s.store.UpdatePageParent(ctx, page.ID, page.ParentID); err != nil {
		return err
	}
	return s.tree.UpdateDescendantCountOfAncestors(ctx, page.ID, 1, false)
}

// findEmptyAt returns the empty placeholder at path, or nil.
func (s *Service) findEmptyAt(ctx context.Context, path string) (*model.Page, error) {
	p, err := s.store.FindOnePage(ctx,
		query.NewPageQuery().IncludeEmpty().
			PathIs(path).
			Where(query.Cond{SQL: "is_empty = 1"}))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func groupIDOf(p *model.Page) string {
	if p.GrantedGroupID.Valid {
		return p.GrantedGroupID.String
	}
	return ""
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}

// touch refreshes a page's update metadata when an operation asks for it.
func touch(p *model.Page, userID string) {
	p.LastUpdateUserID = userID
	p.UpdatedAt = time.Now()
}
