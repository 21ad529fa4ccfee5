// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package migration implements the flat-to-tree convergence driver: the
// background process that attaches legacy pages (parent unset) to the
// materialized tree in bounded, resumable batches.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/tree"
)

var (
	// ErrUniquePathIndex is returned when the legacy unique index on path is
	// still in place. The tree representation needs duplicate paths to
	// coexist transiently, so the index migration must run first.
	ErrUniquePathIndex = errors.New("migration: unique path index still present")
	// ErrNotConverging is returned when an iteration attaches no candidate
	// at all, which would otherwise loop forever.
	ErrNotConverging = errors.New("migration: candidate set stopped shrinking")
)

// Config tunes the convergence loop.
type Config struct {
	// BatchSize bounds each candidate batch.
	BatchSize int
	// ThrottleThreshold is the candidate count above which only a fraction
	// is processed per outer iteration.
	ThrottleThreshold int64
	// ThrottleFraction is that fraction.
	ThrottleFraction float64
	// MaxIterations caps the outer loop.
	MaxIterations int
	// IterationsPerSecond paces outer iterations.
	IterationsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ThrottleThreshold <= 0 {
		c.ThrottleThreshold = 10000
	}
	if c.ThrottleFraction <= 0 || c.ThrottleFraction > 1 {
		c.ThrottleFraction = 0.3
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10000
	}
	if c.IterationsPerSecond <= 0 {
		c.IterationsPerSecond = 10
	}
	return c
}

// Driver converges the page forest toward full attachment.
type Driver struct {
	store   *store.Store
	tree    *tree.Engine
	sink    events.Sink
	logger  *slog.Logger
	limiter *rate.Limiter
	cfg     Config
}

// New creates a migration driver.
func New(st *store.Store, eng *tree.Engine, sink events.Sink, logger *slog.Logger, cfg Config) *Driver {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Driver{
		store:   st,
		tree:    eng,
		sink:    sink,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.IterationsPerSecond), 1),
		cfg:     cfg,
	}
}

// Run migrates every public page under the root, then recounts all cached
// descendant counters bottom-up.
func (d *Driver) Run(ctx context.Context) error {
	return d.RunUnder(ctx, pagepath.Root, nil)
}

// RunUnder migrates pages under prefix. With a viewer, only pages that
// viewer can see are considered; without one, only public pages are.
func (d *Driver) RunUnder(ctx context.Context, prefix string, viewer *grant.Viewer) error {
	unique, err := d.store.HasUniquePathIndex(ctx)
	if err != nil {
		return err
	}
	if unique {
		return ErrUniquePathIndex
	}

	d.sink.Publish(ctx, events.Event{Type: events.TypeMigrationStarted, At: time.Now()})
	err = d.converge(ctx, prefix, viewer)
	if err == nil {
		err = d.RecountAll(ctx)
	}
	d.sink.Publish(ctx, events.Event{
		Type:      events.TypeMigrationEnded,
		Succeeded: err == nil,
		At:        time.Now(),
	})
	if err != nil {
		d.logger.Error("migration failed", "prefix", prefix, "error", err)
	}
	return err
}

// candidateQuery matches published, unattached, non-root pages under the
// prefix, filtered to what the run is allowed to touch. The same predicate
// guards the bulk parent write, so re-running after a partial batch finds
// the same or a smaller set.
func (d *Driver) candidateQuery(prefix string, viewer *grant.Viewer) *query.Builder {
	q := query.NewPageQuery().
		DescendantsOf(prefix).
		StatusIs(model.PageStatusPublished).
		NotMigratedOnly().
		ExcludeTrashed()
	if viewer != nil {
		return q.Viewable(grant.VisibilityCondition(viewer, grant.VisibilityOptions{}))
	}
	return q.Where(query.Cond{SQL: "grant_type = ?", Args: []any{model.GrantPublic}})
}

func (d *Driver) converge(ctx context.Context, prefix string, viewer *grant.Viewer) error {
	for i := 0; i < d.cfg.MaxIterations; i++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		total, err := d.store.CountPages(ctx, d.candidateQuery(prefix, viewer))
		if err != nil {
			return err
		}
		if total == 0 {
			return nil
		}

		// Above the threshold, only a fraction per iteration: a deliberate
		// throttle bounding per-iteration write volume.
		limit := total
		if total > d.cfg.ThrottleThreshold {
			limit = int64(float64(total) * d.cfg.ThrottleFraction)
			if limit < 1 {
				limit = 1
			}
		}

		attached, errored, err := d.processIteration(ctx, prefix, viewer, limit)
		if err != nil {
			return err
		}
		if errored > 0 {
			d.sink.Publish(ctx, events.Event{
				Type:  events.TypeMigrationErrorCount,
				Count: errored,
				At:    time.Now(),
			})
		}
		if attached == 0 {
			return fmt.Errorf("%w: %d candidates remain under %s",
				ErrNotConverging, total, prefix)
		}
		d.sink.Publish(ctx, events.Event{
			Type:  events.TypeMigrationMigrating,
			Count: attached,
			At:    time.Now(),
		})
	}
	return fmt.Errorf("migration: iteration cap reached under %s", prefix)
}

// processIteration attaches up to limit candidates in batches.
func (d *Driver) processIteration(ctx context.Context, prefix string, viewer *grant.Viewer, limit int64) (attached, errored int64, err error) {
	for limit > 0 {
		size := int64(d.cfg.BatchSize)
		if size > limit {
			size = limit
		}
		batch, err := d.store.FindPages(ctx,
			d.candidateQuery(prefix, viewer).
				SortBy("path", query.SortAsc).
				Paginate(errored, size))
		if err != nil {
			return attached, errored, err
		}
		if len(batch) == 0 {
			return attached, errored, nil
		}

		n, failed, err := d.attachBatch(ctx, batch)
		attached += n
		errored += failed
		if err != nil {
			return attached, errored, err
		}
		limit -= int64(len(batch))
	}
	return attached, errored, nil
}

// attachBatch resolves each candidate's parent, displacing placeholders the
// candidate itself supersedes, filling missing ancestors, and bulk-writing
// the guarded parent update grouped by parent path.
func (d *Driver) attachBatch(ctx context.Context, batch []*model.Page) (attached, errored int64, err error) {
	type group struct {
		ids    []string
		sample string
	}
	byParent := make(map[string]*group)
	for _, p := range batch {
		if err := d.displacePlaceholder(ctx, p); err != nil {
			d.logger.Warn("failed to displace placeholder", "path", p.Path, "error", err)
			errored++
			continue
		}
		parentPath := pagepath.ParentPath(p.Path)
		g, ok := byParent[parentPath]
		if !ok {
			g = &group{sample: p.Path}
			byParent[parentPath] = g
		}
		g.ids = append(g.ids, p.ID)
	}

	// Shallow parents first: a candidate that is itself the parent of a
	// deeper group must attach before that group resolves, or a spurious
	// placeholder would take its place.
	parentPaths := make([]string, 0, len(byParent))
	for parentPath := range byParent {
		parentPaths = append(parentPaths, parentPath)
	}
	sort.Slice(parentPaths, func(i, j int) bool {
		return pagepath.Depth(parentPaths[i]) < pagepath.Depth(parentPaths[j])
	})

	for _, parentPath := range parentPaths {
		g := byParent[parentPath]
		ids := g.ids
		parent, err := d.resolveParent(ctx, parentPath, g.sample)
		if err != nil {
			d.logger.Warn("failed to resolve parent", "path", parentPath, "error", err)
			errored += int64(len(ids))
			continue
		}
		// The parent_id IS NULL guard defends against candidates attached
		// by a concurrent operation since selection.
		n, err := d.store.BulkUpdateParentWhereUnlinked(ctx, ids, parent.ID)
		if err != nil {
			d.logger.Warn("bulk parent update failed", "path", parentPath, "error", err)
			errored += int64(len(ids))
			continue
		}
		attached += n
	}
	return attached, errored, nil
}

// displacePlaceholder removes an empty page at the candidate's own path:
// the real page takes over its role, and the placeholder's other children
// are unlinked to be re-resolved in a later iteration.
func (d *Driver) displacePlaceholder(ctx context.Context, p *model.Page) error {
	empty, err := d.store.FindOnePage(ctx,
		query.NewPageQuery().IncludeEmpty().
			PathIs(p.Path).
			Where(query.Cond{SQL: "is_empty = 1"}))
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if empty.ID == p.ID {
		return nil
	}
	if _, err := d.store.ReparentChildren(ctx, empty.ID, sql.NullString{}); err != nil {
		return err
	}
	return d.store.DeletePage(ctx, empty.ID)
}

// resolveParent finds the attached page at parentPath, creating the missing
// ancestor chain when there is none. samplePath is one candidate path under
// it, used to drive the ancestor fill. Duplicates at the path resolve by
// the oldest-first tie-break.
func (d *Driver) resolveParent(ctx context.Context, parentPath, samplePath string) (*model.Page, error) {
	parent, err := d.store.FindOnePage(ctx,
		query.NewPageQuery().IncludeEmpty().
			PathIs(parentPath).
			StatusIs(model.PageStatusPublished).
			MigratedOnly().
			SortBy("created_at", query.SortAsc).
			SortBy("path", query.SortDesc))
	if err == nil {
		return parent, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	return d.tree.GetParentAndFillAncestors(ctx, samplePath, "")
}

// RecountAll recomputes every page's cached descendant count bottom-up by
// depth-sorted streaming. Run after convergence; also safe standalone.
func (d *Driver) RecountAll(ctx context.Context) error {
	maxDepth, err := d.store.MaxPathDepth(ctx)
	if err != nil {
		return err
	}
	var updated int64
	for depth := maxDepth; depth >= 0; depth-- {
		ids, err := d.store.PageIDsAtDepth(ctx, depth)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := d.tree.RecountDescendantCount(ctx, id); err != nil {
				return err
			}
			updated++
		}
	}
	if updated > 0 {
		d.sink.Publish(ctx, events.Event{
			Type:  events.TypeDescendantCount,
			Count: updated,
			At:    time.Now(),
		})
	}
	return nil
}
