// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging provides a slog handler that integrates with the event log.
// It forwards logs at WARN level and above to the database-backed event log so
// operators can audit engine failures without scraping process output.
package logging

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/store"
)

// EventLogHandler wraps another slog.Handler and also writes WARN and ERROR
// level records to the event log table.
type EventLogHandler struct {
	inner slog.Handler
	store *store.Store
	level slog.Level
}

// NewEventLogHandler creates a handler that forwards WARN and above to the
// event log in addition to the wrapped handler.
func NewEventLogHandler(inner slog.Handler, db *sql.DB) *EventLogHandler {
	return &EventLogHandler{
		inner: inner,
		store: store.New(db),
		level: slog.LevelWarn,
	}
}

// NewEventLogHandlerWithLevel creates a handler with a custom forwarding
// threshold.
func NewEventLogHandlerWithLevel(inner slog.Handler, db *sql.DB, level slog.Level) *EventLogHandler {
	return &EventLogHandler{
		inner: inner,
		store: store.New(db),
		level: level,
	}
}

// Enabled implements slog.Handler.
func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	if r.Level >= h.level {
		h.writeToEventLog(r)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EventLogHandler{
		inner: h.inner.WithAttrs(attrs),
		store: h.store,
		level: h.level,
	}
}

// WithGroup implements slog.Handler.
func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	return &EventLogHandler{
		inner: h.inner.WithGroup(name),
		store: h.store,
		level: h.level,
	}
}

// writeToEventLog persists a record to the event log. A background context is
// used so the entry survives request cancellation.
func (h *EventLogHandler) writeToEventLog(r slog.Record) {
	_ = h.store.CreateEvent(context.Background(), store.CreateEventParams{
		Level:     slogLevelToEventLevel(r.Level),
		Category:  extractCategory(r),
		Message:   r.Message,
		UserID:    extractUserID(r),
		Metadata:  extractMetadata(r),
		CreatedAt: r.Time,
	})
}

func slogLevelToEventLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return model.EventLevelError
	case level >= slog.LevelWarn:
		return model.EventLevelWarning
	default:
		return model.EventLevelInfo
	}
}

// extractCategory looks for a "category" attribute, falling back to a guess
// from the message text.
func extractCategory(r slog.Record) string {
	var category string

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "category" {
			category = a.Value.String()
			return false
		}
		return true
	})

	if category != "" {
		return category
	}

	msg := strings.ToLower(r.Message)
	switch {
	case strings.Contains(msg, "operation") || strings.Contains(msg, "rename") ||
		strings.Contains(msg, "duplicate") || strings.Contains(msg, "delete"):
		return model.EventCategoryOperation
	case strings.Contains(msg, "migrat") || strings.Contains(msg, "normaliz"):
		return model.EventCategoryMigration
	case strings.Contains(msg, "cache"):
		return model.EventCategoryCache
	case strings.Contains(msg, "page") || strings.Contains(msg, "ancestor"):
		return model.EventCategoryPage
	default:
		return model.EventCategorySystem
	}
}

func extractUserID(r slog.Record) string {
	var userID string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "user" || a.Key == "userID" {
			userID = a.Value.String()
			return false
		}
		return true
	})
	return userID
}

// extractMetadata collects the remaining attributes into a JSON string.
func extractMetadata(r slog.Record) string {
	if r.NumAttrs() == 0 {
		return "{}"
	}

	var sb strings.Builder
	sb.WriteString("{")
	first := true

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "category" {
			return true
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		sb.WriteString(`"`)
		sb.WriteString(escapeJSON(a.Key))
		sb.WriteString(`":"`)
		sb.WriteString(escapeJSON(a.Value.String()))
		sb.WriteString(`"`)
		return true
	})

	sb.WriteString("}")
	return sb.String()
}

func escapeJSON(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
