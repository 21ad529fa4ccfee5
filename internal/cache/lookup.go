// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

const pageKeyPrefix = "page:"

// PageLookup caches published pages by path on top of a byte-valued backend,
// falling back to the store on a miss. Structural operations invalidate it
// through InvalidatePrefix, so entries never outlive a rename or delete by
// more than the operation itself.
type PageLookup struct {
	cache  Cache
	store  *store.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewPageLookup creates a page lookup cache over the given backend.
func NewPageLookup(c Cache, st *store.Store, ttl time.Duration, logger *slog.Logger) *PageLookup {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &PageLookup{cache: c, store: st, ttl: ttl, logger: logger}
}

// GetByPath returns the published page at path, consulting the cache first.
// Returns store.ErrNotFound if no published page exists there.
func (l *PageLookup) GetByPath(ctx context.Context, path string) (*model.Page, error) {
	key := pageKeyPrefix + path

	if data, err := l.cache.Get(ctx, key); err == nil {
		var page model.Page
		if err := json.Unmarshal(data, &page); err == nil {
			return &page, nil
		}
		// Undecodable entry, drop it and fall through to the store.
		_ = l.cache.Delete(ctx, key)
	} else if !errors.Is(err, ErrCacheMiss) {
		l.logger.Warn("page cache read failed", "path", path, "error", err)
	}

	page, err := l.store.FindOnePage(ctx,
		query.NewPageQuery().PathIs(path).StatusIs(model.PageStatusPublished))
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(page); err == nil {
		if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
			l.logger.Warn("page cache write failed", "path", path, "error", err)
		}
	}

	return page, nil
}

// InvalidatePrefix drops every cached page at or under the given path.
// Over-matching a sibling that shares the textual prefix is harmless; the
// entry just reloads on the next lookup.
func (l *PageLookup) InvalidatePrefix(ctx context.Context, path string) {
	if err := l.cache.DeleteByPrefix(ctx, pageKeyPrefix+path); err != nil {
		l.logger.Warn("page cache invalidation failed", "path", path, "error", err)
	}
}

// Invalidate drops the cached page at exactly the given path.
func (l *PageLookup) Invalidate(ctx context.Context, path string) {
	if err := l.cache.Delete(ctx, pageKeyPrefix+path); err != nil {
		l.logger.Warn("page cache invalidation failed", "path", path, "error", err)
	}
}
