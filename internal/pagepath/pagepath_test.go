// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pagepath

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"missing leading slash", "wiki/page", "/wiki/page"},
		{"trailing slash", "/wiki/page/", "/wiki/page"},
		{"multiple trailing slashes", "/wiki/page//", "/wiki/page"},
		{"duplicate slashes", "//wiki///page", "/wiki/page"},
		{"already normal", "/wiki/page", "/wiki/page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAncestorPaths(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"root has none", "/", nil},
		{"top level", "/a", []string{"/"}},
		{"deep", "/a/b/c", []string{"/", "/a", "/a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AncestorPaths(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AncestorPaths(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParentPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/a", "/"},
		{"/a/b", "/a"},
		{"/a/b/c", "/a/b"},
	}
	for _, tt := range tests {
		if got := ParentPath(tt.in); got != tt.want {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChildRegexp(t *testing.T) {
	re := ChildRegexp("/a/b")
	for path, want := range map[string]bool{
		"/a/b/c":   true,
		"/a/b/c/d": false,
		"/a/b":     false,
		"/a/bc":    false,
		"/other":   false,
	} {
		if got := re.MatchString(path); got != want {
			t.Errorf("ChildRegexp(/a/b).Match(%q) = %v, want %v", path, got, want)
		}
	}

	root := ChildRegexp("/")
	if !root.MatchString("/a") {
		t.Error("root child pattern should match /a")
	}
	if root.MatchString("/a/b") {
		t.Error("root child pattern should not match /a/b")
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/a", "/a", true},
		{"/a", "/a/b", true},
		{"/a/b", "/a", true},
		{"/a", "/ab", false},
		{"/a", "/b", false},
		{"/", "/anything", true},
	}
	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestChangePrefix(t *testing.T) {
	tests := []struct {
		path, from, to, want string
	}{
		{"/a/b/c", "/a", "/x", "/x/b/c"},
		{"/a", "/a", "/x", "/x"},
		{"/other", "/a", "/x", "/other"},
		{"/a/b", "/", "/trash", "/trash/a/b"},
	}
	for _, tt := range tests {
		if got := ChangePrefix(tt.path, tt.from, tt.to); got != tt.want {
			t.Errorf("ChangePrefix(%q, %q, %q) = %q, want %q", tt.path, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTrashPaths(t *testing.T) {
	if got := ToTrashPath("/a/b"); got != "/trash/a/b" {
		t.Errorf("ToTrashPath(/a/b) = %q", got)
	}
	if got := ToTrashPath("/trash/a"); got != "/trash/a" {
		t.Errorf("ToTrashPath should be idempotent, got %q", got)
	}
	if got := FromTrashPath("/trash/a/b"); got != "/a/b" {
		t.Errorf("FromTrashPath(/trash/a/b) = %q", got)
	}
	if !IsTrashPath("/trash/a") || IsTrashPath("/trashy") {
		t.Error("IsTrashPath prefix matching is wrong")
	}
}

func TestIsMovable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", false},
		{"/trash", false},
		{"/user", false},
		{"/user/alice", false},
		{"/user/alice/memo", true},
		{"/wiki", true},
	}
	for _, tt := range tests {
		if got := IsMovable(tt.path); got != tt.want {
			t.Errorf("IsMovable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
