// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package query

import (
	"strings"
	"testing"
)

func TestBuildDefaultExcludesEmpty(t *testing.T) {
	where, args, err := NewPageQuery().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(where, "is_empty = 0") {
		t.Errorf("default query should exclude empty pages, got %q", where)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestBuildIncludeEmpty(t *testing.T) {
	where, _, err := NewPageQuery().IncludeEmpty().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(where, "is_empty") {
		t.Errorf("IncludeEmpty should drop the is_empty predicate, got %q", where)
	}
}

func TestBuildSingleUse(t *testing.T) {
	b := NewPageQuery()
	if _, _, err := b.Build(); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if _, _, err := b.Build(); err != ErrAlreadyBuilt {
		t.Errorf("second Build should return ErrAlreadyBuilt, got %v", err)
	}
}

func TestDescendantsOf(t *testing.T) {
	where, args, err := NewPageQuery().DescendantsOf("/a/b").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(where, "path = ?") || !strings.Contains(where, "path LIKE ?") {
		t.Errorf("unexpected clause %q", where)
	}
	if len(args) != 2 || args[0] != "/a/b" || args[1] != "/a/b/%" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestDescendantsOfRootIsNoop(t *testing.T) {
	where, args, err := NewPageQuery().IncludeEmpty().DescendantsOf("/").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if where != "" || len(args) != 0 {
		t.Errorf("DescendantsOf(/) should add nothing, got %q %v", where, args)
	}
}

func TestChildrenOf(t *testing.T) {
	_, args, err := NewPageQuery().ChildrenOf("/a").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(args) != 2 || args[0] != "/a/%" || args[1] != "/a/%/%" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestSortByWhitelist(t *testing.T) {
	where, _, err := NewPageQuery().
		SortBy("path", "desc").
		SortBy("id; DROP TABLE pages", "ASC").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(where, "ORDER BY path DESC") {
		t.Errorf("expected path DESC ordering, got %q", where)
	}
	if strings.Contains(where, "DROP TABLE") {
		t.Errorf("non-whitelisted sort column leaked into SQL: %q", where)
	}
}

func TestPaginate(t *testing.T) {
	where, _, err := NewPageQuery().Paginate(20, 10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(where, "LIMIT 10") || !strings.Contains(where, "OFFSET 20") {
		t.Errorf("expected LIMIT/OFFSET, got %q", where)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := EscapeLike(`/a_b%c\d`); got != `/a\_b\%c\\d` {
		t.Errorf("EscapeLike = %q", got)
	}
}

func TestPathInEmpty(t *testing.T) {
	where, _, err := NewPageQuery().PathIn(nil).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(where, "1 = 0") {
		t.Errorf("empty PathIn should match nothing, got %q", where)
	}
}
