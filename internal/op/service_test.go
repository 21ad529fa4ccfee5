// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package op

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/events"
	"github.com/pagekeep/pagekeep/internal/grant"
	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testutil"
	"github.com/pagekeep/pagekeep/internal/tree"
)

func newTestService(t *testing.T) (*Service, *store.Store, *events.Recorder) {
	t.Helper()
	st := testutil.TestStore(t)
	logger := testutil.TestLogger()
	rec := &events.Recorder{}
	eng := tree.NewEngine(st, rec, logger)
	grants := grant.NewEvaluator(st, grant.StaticGroupResolver{}, logger)
	svc := New(st, eng, grants, Collaborators{}, rec, logger, Config{
		BatchSize:      5,
		SynchronousSub: true,
	})
	return svc, st, rec
}

func pageAt(t *testing.T, st *store.Store, path string) *model.Page {
	t.Helper()
	p, err := st.FindOnePage(context.Background(),
		query.NewPageQuery().IncludeEmpty().PathIs(path))
	require.NoError(t, err, path)
	return p
}

func noPageAt(t *testing.T, st *store.Store, path string) {
	t.Helper()
	_, err := st.FindOnePage(context.Background(),
		query.NewPageQuery().IncludeEmpty().PathIs(path))
	assert.ErrorIs(t, err, store.ErrNotFound, path)
}

func TestCreateFillsAncestors(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()

	page, err := svc.Create(ctx, "/a/b/c", "hello", "u1", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", page.Path)
	assert.True(t, page.ParentID.Valid)
	assert.True(t, page.RevisionID.Valid)

	a := pageAt(t, st, "/a")
	b := pageAt(t, st, "/a/b")
	assert.True(t, a.IsEmpty)
	assert.True(t, b.IsEmpty)
	assert.Equal(t, b.ID, page.ParentID.String)

	// Only the single real page counts along the chain.
	root := pageAt(t, st, "/")
	assert.Equal(t, int64(1), root.DescendantCount)
	assert.Equal(t, int64(1), a.DescendantCount)

	evs := rec.ByType(events.TypePageCreate)
	require.Len(t, evs, 1)
	assert.Equal(t, page.ID, evs[0].Page.ID)
}

func TestCreateRejectsOccupiedPath(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "one", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a", "two", "u1", CreateOptions{})
	assert.ErrorIs(t, err, ErrPathExists)
}

func TestCreateReplacesEmptyPlaceholder(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a/b", "deep", "u1", CreateOptions{})
	require.NoError(t, err)
	placeholder := pageAt(t, st, "/a")
	require.True(t, placeholder.IsEmpty)

	page, err := svc.Create(ctx, "/a", "real", "u1", CreateOptions{})
	require.NoError(t, err)
	assert.False(t, page.IsEmpty)
	assert.Equal(t, int64(1), page.DescendantCount)

	// The placeholder is gone and the child hangs off the real page.
	_, err = st.GetPage(ctx, placeholder.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	child := pageAt(t, st, "/a/b")
	assert.Equal(t, page.ID, child.ParentID.String)
}

func TestCreateRestrictedStaysDetached(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.Create(ctx, "/secret", "shh", "u1", CreateOptions{
		Grant: model.GrantRestricted,
	})
	require.NoError(t, err)
	assert.False(t, page.ParentID.Valid)
	assert.False(t, page.IsMigrated())

	// No placeholder chain was synthesized for it.
	noPageAt(t, st, "/")
}

func TestRenameMovesSubtree(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x/y", "y", "u1", CreateOptions{})
	require.NoError(t, err)

	a = pageAt(t, st, "/a")
	moved, err := svc.Rename(ctx, a, "/b", "u2", RenameOptions{CreateRedirect: true})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, "/b", moved.Path)

	pageAt(t, st, "/b/x")
	pageAt(t, st, "/b/x/y")
	noPageAt(t, st, "/a")
	noPageAt(t, st, "/a/x")

	r, err := st.GetRedirect(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "/b", r.ToPath)
	r, err = st.GetRedirect(ctx, "/a/x")
	require.NoError(t, err)
	assert.Equal(t, "/b/x", r.ToPath)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(3), root.DescendantCount)

	require.Len(t, rec.ByType(events.TypePageRename), 1)
	require.Len(t, rec.ByType(events.TypeSyncDescendantsUpdate), 1)

	// The operation settled: the path lock is free again.
	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRenameIntoOwnSubtree(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/p", "p", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/p/q", "q", "u1", CreateOptions{})
	require.NoError(t, err)

	p := pageAt(t, st, "/p")
	moved, err := svc.Rename(ctx, p, "/p/q/p", "u1", RenameOptions{})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, "/p/q/p", moved.Path)

	// A fresh empty chain holds the moved page; the original descendant
	// followed it down.
	newP := pageAt(t, st, "/p")
	newQ := pageAt(t, st, "/p/q")
	assert.True(t, newP.IsEmpty)
	assert.True(t, newQ.IsEmpty)
	got := pageAt(t, st, "/p/q/p")
	assert.Equal(t, moved.ID, got.ID)
	assert.Equal(t, newQ.ID, got.ParentID.String)
	oldQ := pageAt(t, st, "/p/q/p/q")
	assert.Equal(t, moved.ID, oldQ.ParentID.String)
	assert.False(t, oldQ.IsEmpty)

	// No page is its own ancestor.
	cur := got
	for i := 0; i < 10 && cur.ParentID.Valid; i++ {
		parent, err := st.GetPage(ctx, cur.ParentID.String)
		require.NoError(t, err)
		assert.NotEqual(t, got.ID, parent.ID)
		cur = parent
	}
}

func TestRenameRestrictedStaysDetached(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.Create(ctx, "/secret", "shh", "u1", CreateOptions{
		Grant: model.GrantRestricted,
	})
	require.NoError(t, err)

	moved, err := svc.Rename(ctx, page, "/hidden", "u1", RenameOptions{CreateRedirect: true})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "/hidden", moved.Path)
	assert.Equal(t, model.GrantRestricted, moved.Grant)
	assert.False(t, moved.ParentID.Valid)

	got, err := st.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "/hidden", got.Path)
	assert.False(t, got.ParentID.Valid)

	// No placeholder chain was synthesized for it.
	noPageAt(t, st, "/")

	r, err := st.GetRedirect(ctx, "/secret")
	require.NoError(t, err)
	assert.Equal(t, "/hidden", r.ToPath)

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRevertRestrictedStaysDetached(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.Create(ctx, "/secret", "shh", "u1", CreateOptions{
		Grant: model.GrantRestricted,
	})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, page, "u1", false)
	require.NoError(t, err)
	svc.Wait()

	trashed, err := st.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.True(t, trashed.IsDeleted())

	restored, err := svc.Revert(ctx, trashed, "u2", false)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "/secret", restored.Path)
	assert.True(t, restored.IsPublished())
	assert.False(t, restored.ParentID.Valid)

	// No placeholder chain was synthesized for it.
	noPageAt(t, st, "/")

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRenameIntoOwnSubtreeRedrive(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/p", "p", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/p/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)

	p := pageAt(t, st, "/p")
	moved, err := svc.Rename(ctx, p, "/p/q/p", "u1", RenameOptions{})
	require.NoError(t, err)
	svc.Wait()
	pageAt(t, st, "/p/q/p/a")

	// A crash after the Sub stage finished but before the record settled
	// leaves a stale Sub record behind; the sweep re-drives it.
	op, err := svc.beginOperation(ctx, model.ActionRename, moved, "u1", "/p", "/p/q/p",
		model.OperationOptions{})
	require.NoError(t, err)
	require.NoError(t, st.UpdateOperationStage(ctx, op.ID, model.StageSub,
		time.Now().Add(-time.Minute)))

	require.NoError(t, svc.ProcessStaleOperations(ctx, time.Now()))

	// The rewrite converged: no row was re-pathed a second time.
	pageAt(t, st, "/p/q/p/a")
	noPageAt(t, st, "/p/q/p/q/p/a")
	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRenameRejectsOccupiedDestination(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/b", "b", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	_, err = svc.Rename(ctx, a, "/b", "u1", RenameOptions{})
	assert.ErrorIs(t, err, ErrPathExists)
}

func TestBusyRejection(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a/b", "b", "u1", CreateOptions{})
	require.NoError(t, err)

	// Simulate an in-flight operation over /a.
	op, err := svc.beginOperation(ctx, model.ActionRename,
		pageAt(t, st, "/a/b"), "u1", "/a", "/c", model.OperationOptions{})
	require.NoError(t, err)

	b := pageAt(t, st, "/a/b")
	_, err = svc.Rename(ctx, b, "/d", "u1", RenameOptions{})
	assert.ErrorIs(t, err, ErrPathBusy)
	_, err = svc.Delete(ctx, b, "u1", false)
	assert.ErrorIs(t, err, ErrPathBusy)

	// Nothing moved.
	pageAt(t, st, "/a/b")
	noPageAt(t, st, "/d")

	svc.settle(ctx, op)
	_, err = svc.Rename(ctx, pageAt(t, st, "/a/b"), "/d", "u1", RenameOptions{})
	assert.NoError(t, err)
	svc.Wait()
}

func TestDeleteNonRecursiveKeepsChildren(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	deleted, err := svc.Delete(ctx, a, "u2", false)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, pagepath.ToTrashPath("/a"), deleted.Path)
	assert.True(t, deleted.IsDeleted())
	assert.False(t, deleted.ParentID.Valid)
	assert.Equal(t, "u2", deleted.DeleteUserID.String)

	// An empty placeholder keeps the child connected.
	placeholder := pageAt(t, st, "/a")
	assert.True(t, placeholder.IsEmpty)
	x := pageAt(t, st, "/a/x")
	assert.Equal(t, placeholder.ID, x.ParentID.String)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(1), root.DescendantCount)

	r, err := st.GetRedirect(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, deleted.Path, r.ToPath)
}

func TestDeleteRecursiveTrashesSubtree(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x/y", "y", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	_, err = svc.Delete(ctx, a, "u1", true)
	require.NoError(t, err)
	svc.Wait()

	noPageAt(t, st, "/a")
	noPageAt(t, st, "/a/x")
	trashedX := pageAt(t, st, pagepath.ToTrashPath("/a/x"))
	assert.True(t, trashedX.IsDeleted())
	assert.False(t, trashedX.ParentID.Valid)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(0), root.DescendantCount)

	require.Len(t, rec.ByType(events.TypeSyncDescendantsDelete), 1)
}

func TestRevertRoundTrip(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)

	// Trash the subtree, then restore it.
	_, err = svc.Delete(ctx, pageAt(t, st, "/a"), "u1", true)
	require.NoError(t, err)
	svc.Wait()

	trashed := pageAt(t, st, pagepath.ToTrashPath("/a"))
	restored, err := svc.Revert(ctx, trashed, "u1", true)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "/a", restored.Path)
	assert.True(t, restored.IsPublished())
	assert.True(t, restored.ParentID.Valid)

	x := pageAt(t, st, "/a/x")
	assert.True(t, x.IsPublished())
	assert.True(t, x.ParentID.Valid)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(2), root.DescendantCount)

	// The redirect written by the delete is gone.
	_, err = st.GetRedirect(ctx, "/a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDuplicateRecursive(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "body-a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "body-x", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	copied, err := svc.Duplicate(ctx, a, "/copy", "u2", true)
	require.NoError(t, err)
	svc.Wait()

	assert.NotEqual(t, a.ID, copied.ID)
	assert.Equal(t, "/copy", copied.Path)

	// The source is untouched.
	pageAt(t, st, "/a")
	pageAt(t, st, "/a/x")

	copyX := pageAt(t, st, "/copy/x")
	assert.NotEqual(t, pageAt(t, st, "/a/x").ID, copyX.ID)
	assert.Equal(t, copied.ID, copyX.ParentID.String)

	// The copied body came from the source's revision.
	require.True(t, copyX.RevisionID.Valid)
	rev, err := st.GetRevision(ctx, copyX.RevisionID.String)
	require.NoError(t, err)
	assert.Equal(t, "body-x", rev.Body)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(4), root.DescendantCount)
}

func TestDeleteCompletelyCascades(t *testing.T) {
	svc, st, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	aID, xID := a.ID, pageAt(t, st, "/a/x").ID
	require.NoError(t, svc.DeleteCompletely(ctx, []*model.Page{a}, "u1", true))
	svc.Wait()

	noPageAt(t, st, "/a")
	noPageAt(t, st, "/a/x")

	// Revisions are cascaded away with the pages.
	for _, p := range []*model.Page{{ID: aID}, {ID: xID}} {
		_, err := st.GetPage(ctx, p.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(0), root.DescendantCount)

	require.NotEmpty(t, rec.ByType(events.TypePageDeleteCompletely))
}

func TestDeleteCompletelyBulkCap(t *testing.T) {
	svc, _, _ := newTestService(t)

	pages := make([]*model.Page, 21)
	for i := range pages {
		pages[i] = &model.Page{ID: "p", Path: "/p"}
	}
	err := svc.DeleteCompletely(context.Background(), pages, "u1", false)
	assert.ErrorIs(t, err, ErrTooManyPages)
}

func TestUpdateGrantToRestrictedDetaches(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)

	a := pageAt(t, st, "/a")
	updated, err := svc.Update(ctx, a, "a2", "u1", UpdateOptions{
		Grant: model.GrantRestricted,
	})
	require.NoError(t, err)

	assert.False(t, updated.ParentID.Valid)
	assert.Equal(t, model.GrantRestricted, updated.Grant)

	// A placeholder at /a keeps /a/x connected to the root.
	placeholder := pageAt(t, st, "/a")
	assert.True(t, placeholder.IsEmpty)
	x := pageAt(t, st, "/a/x")
	assert.Equal(t, placeholder.ID, x.ParentID.String)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(1), root.DescendantCount)
}

func TestUpdateGrantFromRestrictedReattaches(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/anchor", "keeps root", "u1", CreateOptions{})
	require.NoError(t, err)
	restricted, err := svc.Create(ctx, "/secret", "shh", "u1", CreateOptions{
		Grant: model.GrantRestricted,
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, restricted, "open", "u1", UpdateOptions{
		Grant: model.GrantPublic,
	})
	require.NoError(t, err)

	assert.True(t, updated.ParentID.Valid)
	root := pageAt(t, st, "/")
	assert.Equal(t, root.ID, updated.ParentID.String)
	assert.Equal(t, int64(2), root.DescendantCount)
}

func TestNormalizeParentByPageIDs(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/anchor", "root holder", "u1", CreateOptions{})
	require.NoError(t, err)

	// Legacy flat pages: published, no parent pointers.
	legacyParent := &model.Page{
		ID: "legacy-a", Path: "/a", Grant: model.GrantPublic,
		Status: model.PageStatusPublished, CreatorID: "u1", LastUpdateUserID: "u1",
	}
	legacyChild := &model.Page{
		ID: "legacy-ab", Path: "/a/b", Grant: model.GrantPublic,
		Status: model.PageStatusPublished, CreatorID: "u1", LastUpdateUserID: "u1",
	}
	require.NoError(t, st.CreatePage(ctx, legacyParent))
	require.NoError(t, st.CreatePage(ctx, legacyChild))

	require.NoError(t, svc.NormalizeParentByPageIDs(ctx, []string{"legacy-a"}, "u1", true))
	svc.Wait()

	a := pageAt(t, st, "/a")
	require.True(t, a.IsMigrated())
	b := pageAt(t, st, "/a/b")
	assert.True(t, b.IsMigrated())
	assert.Equal(t, a.ID, b.ParentID.String)

	root := pageAt(t, st, "/")
	assert.Equal(t, int64(3), root.DescendantCount)
}

func TestProcessStaleOperations(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "/a/x", "x", "u1", CreateOptions{})
	require.NoError(t, err)

	// A rename whose Sub stage never ran: the target moved but its
	// descendant did not.
	a := pageAt(t, st, "/a")
	op, err := svc.beginOperation(ctx, model.ActionRename, a, "u1", "/a", "/b",
		model.OperationOptions{})
	require.NoError(t, err)
	require.NoError(t, st.UpdatePagePath(ctx, a.ID, "/b"))
	require.NoError(t, st.UpdateOperationStage(ctx, op.ID, model.StageSub,
		time.Now().Add(-time.Minute)))

	require.NoError(t, svc.ProcessStaleOperations(ctx, time.Now()))

	// The re-driven Sub stage finished the prefix rewrite and settled.
	pageAt(t, st, "/b/x")
	noPageAt(t, st, "/a/x")
	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestProcessStaleOperationsDiscardsMainStage(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "/a", "a", "u1", CreateOptions{})
	require.NoError(t, err)
	a := pageAt(t, st, "/a")

	op, err := svc.beginOperation(ctx, model.ActionRename, a, "u1", "/a", "/b",
		model.OperationOptions{})
	require.NoError(t, err)
	require.NoError(t, st.UpdateOperationStage(ctx, op.ID, model.StageMain,
		time.Now().Add(-time.Minute)))

	require.NoError(t, svc.ProcessStaleOperations(ctx, time.Now()))

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
