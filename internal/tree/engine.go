// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tree implements the page-tree maintenance engine: the primitive,
// per-call-atomic operations the structural orchestrator and the migration
// driver compose into rename, duplicate, delete and attach flows.
package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

// maxDepth caps every upward walk. Paths this deep do not occur in practice;
// hitting the cap indicates a corrupted parent chain.
const maxDepth = 512

var (
	// ErrParentRequired is returned when an empty page is created without a parent.
	ErrParentRequired = errors.New("tree: empty page requires a parent")
	// ErrDepthExceeded is returned when an ancestor walk exceeds maxDepth.
	ErrDepthExceeded = errors.New("tree: ancestor chain exceeds depth limit")
)

// Engine exposes the tree maintenance primitives. Every method targets a
// single row or a bounded batch; none partially applies.
type Engine struct {
	store  *store.Store
	sink   events.Sink
	logger *slog.Logger
}

// NewEngine creates a tree maintenance engine.
func NewEngine(st *store.Store, sink events.Sink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, sink: sink, logger: logger}
}

// Store returns the underlying store, for callers composing primitives with
// their own queries.
func (e *Engine) Store() *store.Store {
	return e.store
}

// CreateEmptyPage inserts a placeholder node at path under the given parent.
// Placeholders are always public and carry no content.
func (e *Engine) CreateEmptyPage(ctx context.Context, path, parentID, creatorID string) (*model.Page, error) {
	if parentID == "" {
		return nil, ErrParentRequired
	}
	p := &model.Page{
		ID:               uuid.NewString(),
		Path:             pagepath.Normalize(path),
		ParentID:         sql.NullString{String: parentID, Valid: true},
		IsEmpty:          true,
		Grant:            model.GrantPublic,
		Status:           model.PageStatusPublished,
		CreatorID:        creatorID,
		LastUpdateUserID: creatorID,
	}
	if err := e.store.CreatePage(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateEmptyPagesByPaths inserts an empty placeholder for every listed path
// that has no usable page yet. Paths are processed shallow-first so a created
// placeholder can parent the next one. Concurrent callers over disjoint path
// sets may race on the same ancestor; the duplicate placeholder that can
// result is benign and removed by leaf pruning.
func (e *Engine) CreateEmptyPagesByPaths(ctx context.Context, paths []string, creatorID string, treatNonMigratedAsExisting bool) error {
	normalized := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = pagepath.Normalize(p)
		if p == pagepath.Root || seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	sort.Slice(normalized, func(i, j int) bool {
		return pagepath.Depth(normalized[i]) < pagepath.Depth(normalized[j])
	})

	for _, path := range normalized {
		q := query.NewPageQuery().IncludeEmpty().
			PathIs(path).
			StatusIs(model.PageStatusPublished)
		if !treatNonMigratedAsExisting {
			q = q.MigratedOnly()
		}
		count, err := e.store.CountPages(ctx, q)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		parent, err := e.GetParentAndFillAncestors(ctx, path, creatorID)
		if err != nil {
			return err
		}
		if _, err := e.CreateEmptyPage(ctx, path, parent.ID, creatorID); err != nil {
			return err
		}
	}
	return nil
}

// GetParentAndFillAncestors returns the page that should parent a page at
// path, creating any missing ancestor placeholders and linking the chain on
// the way down.
//
// When duplicate pages exist at an ancestor path, the one sorted first by
// creation time (then path descending) is taken as the true ancestor. This
// tie-break is deterministic but best-effort: two racing placeholder
// creations can still leave a duplicate that later pruning removes.
func (e *Engine) GetParentAndFillAncestors(ctx context.Context, path, creatorID string) (*model.Page, error) {
	path = pagepath.Normalize(path)
	ancestorPaths := pagepath.AncestorPaths(path)
	if len(ancestorPaths) == 0 {
		// path is the root; it has no parent to fill.
		return nil, fmt.Errorf("tree: page at %q has no parent", path)
	}

	existing, err := e.store.FindPages(ctx,
		query.NewPageQuery().IncludeEmpty().
			PathIn(ancestorPaths).
			StatusIs(model.PageStatusPublished).
			MigratedOnly().
			SortBy("created_at", query.SortAsc).
			SortBy("path", query.SortDesc))
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*model.Page, len(existing))
	for _, p := range existing {
		if _, ok := byPath[p.Path]; !ok {
			byPath[p.Path] = p
		}
	}

	root, ok := byPath[pagepath.Root]
	if !ok {
		root = &model.Page{
			ID:               uuid.NewString(),
			Path:             pagepath.Root,
			IsEmpty:          true,
			Grant:            model.GrantPublic,
			Status:           model.PageStatusPublished,
			CreatorID:        creatorID,
			LastUpdateUserID: creatorID,
		}
		if err := e.store.CreatePage(ctx, root); err != nil {
			return nil, err
		}
	}

	prev := root
	for _, ancestorPath := range ancestorPaths[1:] {
		cur, ok := byPath[ancestorPath]
		if !ok {
			cur, err = e.CreateEmptyPage(ctx, ancestorPath, prev.ID, creatorID)
			if err != nil {
				return nil, err
			}
		} else if !cur.ParentID.Valid || cur.ParentID.String != prev.ID {
			// Re-link an ancestor that points at a stale or missing parent.
			if err := e.store.UpdatePageParent(ctx, cur.ID,
				sql.NullString{String: prev.ID, Valid: true}); err != nil {
				return nil, err
			}
			cur.ParentID = sql.NullString{String: prev.ID, Valid: true}
		}
		prev = cur
	}
	return prev, nil
}

// ReplaceTargetWithPage re-parents every child of target onto replacement,
// creating a fresh empty page at target's path when replacement is nil, and
// finally deletes target when it is an empty page and deleteIfEmpty is set.
// Used when a page's grant change forces it off the tree but its children
// must stay connected.
func (e *Engine) ReplaceTargetWithPage(ctx context.Context, target *model.Page, replacement *model.Page, creatorID string, deleteIfEmpty bool) (*model.Page, error) {
	if replacement == nil {
		parentID := target.ParentID
		if !parentID.Valid && target.Path != pagepath.Root {
			parent, err := e.GetParentAndFillAncestors(ctx, target.Path, creatorID)
			if err != nil {
				return nil, err
			}
			parentID = sql.NullString{String: parent.ID, Valid: true}
		}
		replacement = &model.Page{
			ID:               uuid.NewString(),
			Path:             target.Path,
			ParentID:         parentID,
			IsEmpty:          true,
			Grant:            model.GrantPublic,
			DescendantCount:  target.DescendantCount,
			Status:           model.PageStatusPublished,
			CreatorID:        creatorID,
			LastUpdateUserID: creatorID,
		}
		if err := e.store.CreatePage(ctx, replacement); err != nil {
			return nil, err
		}
	}

	if _, err := e.store.ReparentChildren(ctx, target.ID,
		sql.NullString{String: replacement.ID, Valid: true}); err != nil {
		return nil, err
	}

	if deleteIfEmpty && target.IsEmpty {
		if err := e.store.DeletePage(ctx, target.ID); err != nil {
			return nil, err
		}
	}
	return replacement, nil
}

// RecountDescendantCount recomputes a page's cached counter from its
// immediate children and persists it. Not recursive: callers recounting a
// subtree must proceed bottom-up or accept a staged consistency window.
func (e *Engine) RecountDescendantCount(ctx context.Context, pageID string) (int64, error) {
	count, err := e.store.AggregateChildDescendants(ctx, pageID)
	if err != nil {
		return 0, err
	}
	if err := e.store.UpdateDescendantCount(ctx, pageID, count); err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveLeafEmptyPagesRecursively walks upward from pageID deleting empty
// pages that have no remaining children, stopping at the first real page,
// the first page with other children, or a detached root.
func (e *Engine) RemoveLeafEmptyPagesRecursively(ctx context.Context, pageID string) error {
	cur := pageID
	for i := 0; i < maxDepth; i++ {
		page, err := e.store.GetPage(ctx, cur)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !page.IsEmpty || pagepath.IsTopPage(page.Path) {
			return nil
		}
		children, err := e.store.CountChildren(ctx, page.ID)
		if err != nil {
			return err
		}
		if children > 0 {
			return nil
		}
		if err := e.store.DeletePage(ctx, page.ID); err != nil {
			return err
		}
		if !page.ParentID.Valid {
			return nil
		}
		cur = page.ParentID.String
	}
	return ErrDepthExceeded
}

// TakeOffFromTree detaches a page from its parent. First step of a move.
func (e *Engine) TakeOffFromTree(ctx context.Context, pageID string) error {
	return e.store.UpdatePageParent(ctx, pageID, sql.NullString{})
}

// IncrementDescendantCountOfPageIDs applies delta to the cached counters of
// the listed pages and emits a progress event for the update batch.
func (e *Engine) IncrementDescendantCountOfPageIDs(ctx context.Context, pageIDs []string, delta int64) error {
	if len(pageIDs) == 0 {
		return nil
	}
	if err := e.store.IncrementDescendantCounts(ctx, pageIDs, delta); err != nil {
		return err
	}
	e.sink.Publish(ctx, events.Event{
		Type:    events.TypeDescendantCount,
		PageIDs: pageIDs,
		Count:   delta,
		At:      time.Now(),
	})
	return nil
}

// AncestorIDs walks the parent chain upward from pageID, optionally
// including the page itself, and returns the visited ids in order.
func (e *Engine) AncestorIDs(ctx context.Context, pageID string, includeTarget bool) ([]string, error) {
	var ids []string
	cur := pageID
	if includeTarget {
		ids = append(ids, pageID)
	}
	for i := 0; i < maxDepth; i++ {
		page, err := e.store.GetPage(ctx, cur)
		if err == store.ErrNotFound {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		if !page.ParentID.Valid {
			return ids, nil
		}
		ids = append(ids, page.ParentID.String)
		cur = page.ParentID.String
	}
	return nil, ErrDepthExceeded
}

// UpdateDescendantCountOfAncestors applies delta to every ancestor of
// pageID, walking the parent chain iteratively.
func (e *Engine) UpdateDescendantCountOfAncestors(ctx context.Context, pageID string, delta int64, includeTarget bool) error {
	ids, err := e.AncestorIDs(ctx, pageID, includeTarget)
	if err != nil {
		return err
	}
	return e.IncrementDescendantCountOfPageIDs(ctx, ids, delta)
}
