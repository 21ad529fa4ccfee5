// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the engine's periodic housekeeping: re-driving or
// discarding stale structural operations and pruning old event log entries.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pagekeep/pagekeep/internal/store"
)

// OperationSweeper settles operation records whose deadline has passed.
type OperationSweeper interface {
	ProcessStaleOperations(ctx context.Context, now time.Time) error
}

// MigrationRunner drives one convergence pass over unattached pages.
type MigrationRunner interface {
	Run(ctx context.Context) error
}

// Options configures the scheduler's jobs.
type Options struct {
	// StaleOperationSpec is the cron spec for the stale-operation sweep.
	// Defaults to every minute.
	StaleOperationSpec string

	// EventRetention is how long event log entries are kept. Zero disables
	// pruning.
	EventRetention time.Duration

	// EventPruneSpec is the cron spec for event log pruning. Defaults to
	// daily at 03:00.
	EventPruneSpec string

	// MigrationSpec is the cron spec for the migration convergence pass.
	// Empty disables the job; it also needs a migrator, see SetMigrator.
	MigrationSpec string
}

func (o Options) withDefaults() Options {
	if o.StaleOperationSpec == "" {
		o.StaleOperationSpec = "* * * * *"
	}
	if o.EventPruneSpec == "" {
		o.EventPruneSpec = "0 3 * * *"
	}
	return o
}

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  OperationSweeper
	migrator MigrationRunner
	store    *store.Store
	logger   *slog.Logger
	opts     Options
}

// New creates a scheduler. The store may be nil when event pruning is
// disabled.
func New(sweeper OperationSweeper, st *store.Store, logger *slog.Logger, opts Options) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		sweeper: sweeper,
		store:   st,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// SetMigrator enables the periodic migration convergence pass. Must be
// called before Start.
func (s *Scheduler) SetMigrator(m MigrationRunner) {
	s.migrator = m
}

// Start registers the jobs and begins the cron runner.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.opts.StaleOperationSpec, s.sweepStaleOperations)
	if err != nil {
		return err
	}

	if s.opts.EventRetention > 0 && s.store != nil {
		_, err = s.cron.AddFunc(s.opts.EventPruneSpec, s.pruneEvents)
		if err != nil {
			return err
		}
	}

	if s.migrator != nil && s.opts.MigrationSpec != "" {
		_, err = s.cron.AddFunc(s.opts.MigrationSpec, s.runMigration)
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// SweepNow runs the stale-operation sweep immediately.
func (s *Scheduler) SweepNow(ctx context.Context) error {
	return s.sweeper.ProcessStaleOperations(ctx, time.Now())
}

func (s *Scheduler) sweepStaleOperations() {
	if err := s.sweeper.ProcessStaleOperations(context.Background(), time.Now()); err != nil {
		s.logger.Error("stale operation sweep failed", "error", err)
	}
}

func (s *Scheduler) runMigration() {
	if err := s.migrator.Run(context.Background()); err != nil {
		s.logger.Error("migration convergence pass failed", "error", err)
	}
}

func (s *Scheduler) pruneEvents() {
	cutoff := time.Now().Add(-s.opts.EventRetention)
	if err := s.store.DeleteOldEvents(context.Background(), cutoff); err != nil {
		s.logger.Error("event log pruning failed", "error", err)
	}
}
