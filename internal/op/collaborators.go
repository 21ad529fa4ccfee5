// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/store"
)

// Cascade removes dependent records when their pages are hard-deleted.
type Cascade interface {
	DeleteByPageIDs(ctx context.Context, pageIDs []string) error
}

// Copier clones dependent records when a page is duplicated.
type Copier interface {
	CopyByPageID(ctx context.Context, fromPageID, toPageID string) error
}

// TagCollaborator both cascades and copies tag associations.
type TagCollaborator interface {
	Cascade
	Copier
}

// Revisions is the content-snapshot collaborator. Bodies are owned by the
// revision subsystem; the orchestrator only creates, copies and cascades.
type Revisions interface {
	Create(ctx context.Context, pageID, body, authorID string) (string, error)
	Copy(ctx context.Context, fromPageID, toPageID, authorID string) (string, error)
	DeleteByPageIDs(ctx context.Context, pageIDs []string) error
}

// Collaborators bundles the subsystems structural operations cascade into.
// Nil fields are replaced with no-ops; Revisions defaults to the store-backed
// implementation.
type Collaborators struct {
	Revisions   Revisions
	Attachments Cascade
	Comments    Cascade
	Bookmarks   Cascade
	ShareLinks  Cascade
	Tags        TagCollaborator
}

func (c Collaborators) withDefaults(st *store.Store) Collaborators {
	if c.Revisions == nil {
		c.Revisions = &StoreRevisions{store: st}
	}
	if c.Attachments == nil {
		c.Attachments = nopCascade{}
	}
	if c.Comments == nil {
		c.Comments = nopCascade{}
	}
	if c.Bookmarks == nil {
		c.Bookmarks = nopCascade{}
	}
	if c.ShareLinks == nil {
		c.ShareLinks = nopCascade{}
	}
	if c.Tags == nil {
		c.Tags = nopTags{}
	}
	return c
}

// cascadeDelete fans a hard delete out to every collaborator.
func (c Collaborators) cascadeDelete(ctx context.Context, pageIDs []string) error {
	if len(pageIDs) == 0 {
		return nil
	}
	for _, cascade := range []Cascade{
		c.Comments, c.Bookmarks, c.ShareLinks, c.Attachments, c.Tags,
	} {
		if err := cascade.DeleteByPageIDs(ctx, pageIDs); err != nil {
			return err
		}
	}
	return c.Revisions.DeleteByPageIDs(ctx, pageIDs)
}

type nopCascade struct{}

func (nopCascade) DeleteByPageIDs(context.Context, []string) error { return nil }

type nopTags struct{}

func (nopTags) DeleteByPageIDs(context.Context, []string) error    { return nil }
func (nopTags) CopyByPageID(context.Context, string, string) error { return nil }

// StoreRevisions implements Revisions over the engine's own revision table.
type StoreRevisions struct {
	store *store.Store
}

// NewStoreRevisions creates the store-backed revision collaborator.
func NewStoreRevisions(st *store.Store) *StoreRevisions {
	return &StoreRevisions{store: st}
}

// Create inserts a new revision and returns its id.
func (r *StoreRevisions) Create(ctx context.Context, pageID, body, authorID string) (string, error) {
	rev := &model.Revision{
		ID:        uuid.NewString(),
		PageID:    pageID,
		Body:      body,
		AuthorID:  authorID,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateRevision(ctx, rev); err != nil {
		return "", err
	}
	return rev.ID, nil
}

// Copy snapshots the latest body of fromPageID as a new revision owned by
// toPageID and returns the new revision id. A source page without any
// revision yields an empty-bodied copy.
func (r *StoreRevisions) Copy(ctx context.Context, fromPageID, toPageID, authorID string) (string, error) {
	src, err := r.store.GetPage(ctx, fromPageID)
	if err != nil {
		return "", err
	}
	body := ""
	if src.RevisionID.Valid {
		rev, err := r.store.GetRevision(ctx, src.RevisionID.String)
		if err != nil && err != store.ErrNotFound {
			return "", err
		}
		if err == nil {
			body = rev.Body
		}
	}
	return r.Create(ctx, toPageID, body, authorID)
}

// DeleteByPageIDs removes all revisions owned by the given pages.
func (r *StoreRevisions) DeleteByPageIDs(ctx context.Context, pageIDs []string) error {
	return r.store.DeleteRevisionsByPageIDs(ctx, pageIDs)
}
