// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package op implements the structural operation orchestrator: the
// multi-step, resumable page operations (rename, duplicate, delete, revert,
// normalize) that compose tree maintenance primitives under a cooperative
// path-prefix lock backed by the page_operations table.
package op

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/tree"
)

var (
	// ErrPathBusy is returned when another structural operation is in flight
	// over an overlapping path prefix.
	ErrPathBusy = errors.New("op: path is locked by an in-flight operation")
	// ErrPathExists is returned when the destination path is already occupied
	// by a published page.
	ErrPathExists = errors.New("op: page already exists at path")
	// ErrGrantNotNormalized is returned when a proposed grant would be wider
	// than an ancestor allows or narrower than a descendant requires.
	ErrGrantNotNormalized = errors.New("op: grant is not normalized")
	// ErrNotMovable is returned when a page cannot be renamed or moved.
	ErrNotMovable = errors.New("op: page is not movable")
	// ErrNotDeletable is returned when a page cannot be deleted.
	ErrNotDeletable = errors.New("op: page is not deletable")
	// ErrNotRevertible is returned when a page is not a trashed page.
	ErrNotRevertible = errors.New("op: page is not revertible")
	// ErrTooManyPages is returned when a bulk operation exceeds its cap.
	ErrTooManyPages = errors.New("op: too many pages for a bulk operation")
	// ErrNoMigrator is returned by NormalizeAllPublicPages when no migration
	// driver has been wired in.
	ErrNoMigrator = errors.New("op: no migration driver configured")
)

// FailurePolicy selects how a streamed Sub stage reacts to a failed batch.
type FailurePolicy string

const (
	// BestEffort logs the failed batch and continues streaming. Eventual
	// correctness relies on re-driving normalize or migration later.
	BestEffort FailurePolicy = "bestEffort"
	// FailFast aborts the Sub stage on the first failed batch, leaving the
	// operation record in place for a re-drive.
	FailFast FailurePolicy = "failFast"
)

// Config tunes the orchestrator.
type Config struct {
	FailurePolicy FailurePolicy
	// BatchSize bounds each descendant streaming batch.
	BatchSize int
	// BulkLimit caps the page count of a single bulk operation.
	BulkLimit int
	// OperationExpiry is how long an operation stage may run before the
	// scheduler considers it stale.
	OperationExpiry time.Duration
	// SynchronousSub runs Sub stages inline instead of in a goroutine.
	// Intended for tests and one-shot command invocations.
	SynchronousSub bool
}

func (c Config) withDefaults() Config {
	if c.FailurePolicy == "" {
		c.FailurePolicy = BestEffort
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BulkLimit <= 0 {
		c.BulkLimit = 20
	}
	if c.OperationExpiry <= 0 {
		c.OperationExpiry = 10 * time.Minute
	}
	return c
}

// CacheInvalidator drops cached page lookups under a path prefix after a
// structural change. The cache is advisory; a nil invalidator is valid.
type CacheInvalidator interface {
	InvalidatePrefix(ctx context.Context, path string)
}

// Migrator runs the legacy flat-to-tree convergence loop.
type Migrator interface {
	Run(ctx context.Context) error
}

// Service orchestrates structural page operations.
type Service struct {
	store    *store.Store
	tree     *tree.Engine
	grants   *grant.Evaluator
	collab   Collaborators
	sink     events.Sink
	cache    CacheInvalidator
	migrator Migrator
	logger   *slog.Logger
	cfg      Config

	subWG sync.WaitGroup
}

// New creates the orchestrator.
func New(st *store.Store, eng *tree.Engine, grants *grant.Evaluator, collab Collaborators, sink events.Sink, logger *slog.Logger, cfg Config) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	collab = collab.withDefaults(st)
	return &Service{
		store:  st,
		tree:   eng,
		grants: grants,
		collab: collab,
		sink:   sink,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// SetCache wires an advisory page cache invalidator.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// SetMigrator wires the migration driver used by NormalizeAllPublicPages.
func (s *Service) SetMigrator(m Migrator) { s.migrator = m }

// Wait blocks until all background Sub stages have finished. Used during
// shutdown and in tests.
func (s *Service) Wait() { s.subWG.Wait() }

// NormalizeAllPublicPages runs the full flat-to-tree migration over every
// public page, delegating to the wired migration driver.
func (s *Service) NormalizeAllPublicPages(ctx context.Context) error {
	if s.migrator == nil {
		return ErrNoMigrator
	}
	return s.migrator.Run(ctx)
}

// checkBusy rejects when any in-flight operation overlaps one of the paths.
func (s *Service) checkBusy(ctx context.Context, paths ...string) error {
	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		for _, path := range paths {
			if pagepath.Overlaps(op.FromPath, path) {
				return fmt.Errorf("%w: %s overlaps %s", ErrPathBusy, path, op.FromPath)
			}
			if op.ToPath != "" && pagepath.Overlaps(op.ToPath, path) {
				return fmt.Errorf("%w: %s overlaps %s", ErrPathBusy, path, op.ToPath)
			}
		}
	}
	return nil
}

// beginOperation acquires the cooperative path lock by writing the
// operation-log record in its Main stage.
func (s *Service) beginOperation(ctx context.Context, action string, page *model.Page, userID, fromPath, toPath string, opts model.OperationOptions) (*model.PageOperation, error) {
	paths := []string{fromPath}
	if toPath != "" {
		paths = append(paths, toPath)
	}
	if err := s.checkBusy(ctx, paths...); err != nil {
		return nil, err
	}
	op := &model.PageOperation{
		ID:          uuid.NewString(),
		ActionType:  action,
		ActionStage: model.StageMain,
		PageID:      page.ID,
		UserID:      userID,
		FromPath:    fromPath,
		ToPath:      toPath,
		Options:     opts,
		UnprocessableAfter: sql.NullTime{
			Time:  time.Now().Add(s.cfg.OperationExpiry),
			Valid: true,
		},
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// settle deletes the operation-log record, marking the operation finished.
func (s *Service) settle(ctx context.Context, op *model.PageOperation) {
	if err := s.store.DeleteOperation(ctx, op.ID); err != nil {
		s.logger.Error("failed to settle operation",
			"action", op.ActionType, "from", op.FromPath, "error", err)
	}
}

// runSub advances the operation to its Sub stage and executes it, inline or
// detached depending on configuration. A failed Sub stage leaves the record
// in place so the scheduler can re-drive it after the expiry passes.
func (s *Service) runSub(ctx context.Context, op *model.PageOperation) {
	if err := s.store.UpdateOperationStage(ctx, op.ID, model.StageSub,
		time.Now().Add(s.cfg.OperationExpiry)); err != nil {
		s.logger.Error("failed to advance operation to sub stage",
			"action", op.ActionType, "from", op.FromPath, "error", err)
		return
	}
	op.ActionStage = model.StageSub

	exec := func(ctx context.Context) {
		if err := s.processSub(ctx, op); err != nil {
			s.logger.Error("sub stage failed, operation left for re-drive",
				"action", op.ActionType, "from", op.FromPath, "error", err)
			return
		}
		s.settle(ctx, op)
	}
	if s.cfg.SynchronousSub {
		exec(ctx)
		return
	}
	s.subWG.Add(1)
	go func() {
		defer s.subWG.Done()
		exec(context.WithoutCancel(ctx))
	}()
}

// processSub dispatches an operation's Sub stage by action type. Every Sub
// implementation derives its full state from the operation record alone so a
// stale record can be re-driven verbatim.
func (s *Service) processSub(ctx context.Context, op *model.PageOperation) error {
	switch op.ActionType {
	case model.ActionRename:
		return s.renameSub(ctx, op)
	case model.ActionDuplicate:
		return s.duplicateSub(ctx, op)
	case model.ActionDelete:
		return s.deleteSub(ctx, op)
	case model.ActionDeleteCompletely:
		return s.deleteCompletelySub(ctx, op)
	case model.ActionRevert:
		return s.revertSub(ctx, op)
	case model.ActionNormalizeParent:
		return s.normalizeSub(ctx, op)
	default:
		return fmt.Errorf("op: unknown action type %q", op.ActionType)
	}
}

// ProcessStaleOperations re-drives or discards operations whose
// unprocessable deadline has passed. A stale Main-stage record means the
// process died before the caller-visible mutation settled; it is discarded
// since the Main error already surfaced to its caller. A stale Sub-stage
// record is re-driven from the record alone.
func (s *Service) ProcessStaleOperations(ctx context.Context, now time.Time) error {
	ops, err := s.store.ListStaleOperations(ctx, now)
	if err != nil {
		return err
	}
	for _, op := range ops {
		switch op.ActionStage {
		case model.StageMain:
			s.logger.Warn("discarding stale main-stage operation",
				"action", op.ActionType, "from", op.FromPath)
			s.settle(ctx, op)
		case model.StageSub:
			s.logger.Info("re-driving stale sub-stage operation",
				"action", op.ActionType, "from", op.FromPath)
			if err := s.processSub(ctx, op); err != nil {
				s.logger.Error("re-driven sub stage failed",
					"action", op.ActionType, "from", op.FromPath, "error", err)
				if uerr := s.store.UpdateOperationStage(ctx, op.ID, model.StageSub,
					now.Add(s.cfg.OperationExpiry)); uerr != nil {
					s.logger.Error("failed to refresh stale operation deadline",
						"action", op.ActionType, "error", uerr)
				}
				continue
			}
			s.settle(ctx, op)
		}
	}
	return nil
}

// batchFailed applies the configured failure policy to a failed Sub batch.
// It returns nil when streaming should continue.
func (s *Service) batchFailed(err error, action, path string) error {
	if s.cfg.FailurePolicy == FailFast {
		return err
	}
	s.logger.Warn("batch failed, continuing",
		"action", action, "path", path, "error", err)
	return nil
}

// invalidate drops cached lookups under the given path prefixes.
func (s *Service) invalidate(ctx context.Context, paths ...string) {
	if s.cache == nil {
		return
	}
	for _, p := range paths {
		s.cache.InvalidatePrefix(ctx, p)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	e.At = time.Now()
	s.sink.Publish(ctx, e)
}
