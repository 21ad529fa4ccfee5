// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pagekeep/pagekeep/internal/cache"
	"github.com/pagekeep/pagekeep/internal/config"
	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/logging"
	"github.com/pagekeep/pagekeep/internal/migration"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/op"
	"github.com/pagekeep/pagekeep/internal/scheduler"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/tree"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations, then exit")
	normalizeAll := flag.Bool("normalize-all", false, "Run the flat-to-tree migration over all public pages, then exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "pagekeep - page tree consistency engine\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PAGEKEEP_DB_PATH          SQLite database path (default: ./data/pagekeep.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PAGEKEEP_FAILURE_POLICY   bestEffort|failFast (default: bestEffort)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PAGEKEEP_CACHE_BACKEND    memory|redis (default: memory)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PAGEKEEP_REDIS_URL        Redis URL for the redis cache backend\n")
		_, _ = fmt.Fprintf(os.Stderr, "  PAGEKEEP_LOG_LEVEL        debug|info|warn|error (default: info)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		_, _ = fmt.Printf("pagekeep %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(*migrateOnly, *normalizeAll); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(migrateOnly, normalizeAll bool) error {
	// Load .env if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if migrateOnly {
		slog.Info("database ready")
		return nil
	}

	// Upgrade the logger to also write WARN and ERROR records to the event
	// log table.
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger = slog.New(logging.NewEventLogHandler(textHandler, db))
	slog.SetDefault(logger)

	st := store.New(db)

	dispatcher := events.NewDispatcher(logger, events.DefaultConfig())
	dispatcher.Register(events.HandlerFunc(recordEvent(st, logger)))

	eng := tree.NewEngine(st, dispatcher, logger)
	grants := grant.NewEvaluator(st, grant.StaticGroupResolver{}, logger)

	svc := op.New(st, eng, grants, op.Collaborators{}, dispatcher, logger, op.Config{
		FailurePolicy:   op.FailurePolicy(cfg.FailurePolicy),
		BatchSize:       cfg.OperationBatchSize,
		BulkLimit:       cfg.BulkDeleteLimit,
		OperationExpiry: cfg.OperationExpiry(),
	})

	driver := migration.New(st, eng, dispatcher, logger, migration.Config{
		BatchSize:           cfg.MigrationBatchSize,
		ThrottleThreshold:   cfg.ThrottleThreshold,
		ThrottleFraction:    cfg.ThrottleFraction,
		IterationsPerSecond: cfg.MigrationRatePerSec,
	})
	svc.SetMigrator(driver)

	backend, err := cache.New(cache.Config{
		Backend:         cfg.CacheBackend,
		RedisURL:        cfg.RedisURL,
		Prefix:          cfg.CachePrefix,
		DefaultTTL:      cfg.CacheTTL(),
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing cache", "error", err)
		}
	}()
	svc.SetCache(cache.NewPageLookup(backend, st, cfg.CacheTTL(), logger))

	ctx := context.Background()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if normalizeAll {
		slog.Info("running flat-to-tree migration")
		if err := svc.NormalizeAllPublicPages(ctx); err != nil {
			return fmt.Errorf("normalizing pages: %w", err)
		}
		slog.Info("migration finished")
		return nil
	}

	sched := scheduler.New(svc, st, logger, scheduler.Options{
		EventRetention: cfg.EventRetention(),
		MigrationSpec:  cfg.MigrationTickSpec,
	})
	if cfg.MigrationTickSpec != "" {
		sched.SetMigrator(driver)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	slog.Info("engine started", "env", cfg.Env, "failure_policy", cfg.FailurePolicy)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	sched.Stop()

	// Let in-flight background stages finish before the store closes.
	svc.Wait()

	slog.Info("engine stopped")
	return nil
}

// recordEvent persists domain events to the event log table so structural
// history is queryable after the fact.
func recordEvent(st *store.Store, logger *slog.Logger) func(ctx context.Context, e events.Event) {
	return func(ctx context.Context, e events.Event) {
		meta := map[string]any{}
		if e.Page != nil {
			meta["pageID"] = e.Page.ID
			meta["path"] = e.Page.Path
		}
		if len(e.PageIDs) > 0 {
			meta["pageIDs"] = e.PageIDs
		}
		if e.FromPath != "" {
			meta["fromPath"] = e.FromPath
		}
		if e.ToPath != "" {
			meta["toPath"] = e.ToPath
		}
		if e.Count != 0 {
			meta["count"] = e.Count
		}

		metadata, err := json.Marshal(meta)
		if err != nil {
			metadata = []byte("{}")
		}

		err = st.CreateEvent(ctx, store.CreateEventParams{
			Level:     model.EventLevelInfo,
			Category:  categoryFor(e.Type),
			Message:   e.Type,
			UserID:    e.UserID,
			Metadata:  string(metadata),
			CreatedAt: e.At,
		})
		if err != nil {
			logger.Warn("recording domain event failed", "type", e.Type, "error", err)
		}
	}
}

func categoryFor(eventType string) string {
	switch eventType {
	case events.TypeMigrationStarted, events.TypeMigrationMigrating,
		events.TypeMigrationErrorCount, events.TypeMigrationEnded:
		return model.EventCategoryMigration
	case events.TypeSyncDescendantsUpdate, events.TypeSyncDescendantsDelete,
		events.TypeDescendantCount:
		return model.EventCategoryOperation
	default:
		return model.EventCategoryPage
	}
}
