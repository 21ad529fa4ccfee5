// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pagepath provides pure helpers for the slash-delimited page
// namespace: normalization, ancestor enumeration, prefix rewriting and the
// trash namespace used by soft deletion.
package pagepath

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the top page of the tree.
const Root = "/"

// TrashPrefix is the namespace soft-deleted pages are moved under.
const TrashPrefix = "/trash"

// UserPrefix is the namespace of per-user home pages.
const UserPrefix = "/user"

var multiSlash = regexp.MustCompile(`/{2,}`)

// Normalize returns the canonical form of a page path: unicode NFC, a single
// leading slash, no duplicate slashes and no trailing slash except for the
// root itself. It is total over any input string.
func Normalize(path string) string {
	path = norm.NFC.String(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = multiSlash.ReplaceAllString(path, "/")
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return Root
	}
	return path
}

// IsTopPage returns true if path is the root page.
func IsTopPage(path string) bool {
	return Normalize(path) == Root
}

// ParentPath returns the immediate parent path, or the root for top-level
// paths and the root itself.
func ParentPath(path string) string {
	path = Normalize(path)
	if path == Root {
		return Root
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return Root
	}
	return path[:idx]
}

// AncestorPaths returns every ancestor of path ordered from the root down to
// the immediate parent, excluding path itself. The root page yields nil.
func AncestorPaths(path string) []string {
	path = Normalize(path)
	if path == Root {
		return nil
	}
	var ancestors []string
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	ancestors = append(ancestors, Root)
	cur := ""
	for _, seg := range segments[:len(segments)-1] {
		cur += "/" + seg
		ancestors = append(ancestors, cur)
	}
	return ancestors
}

// Depth returns the number of segments in path; the root has depth 0.
func Depth(path string) int {
	path = Normalize(path)
	if path == Root {
		return 0
	}
	return strings.Count(path, "/")
}

// ChildRegexp compiles a matcher accepting exactly one-level-deeper paths
// under path. For the root it matches any single-segment path.
func ChildRegexp(path string) *regexp.Regexp {
	path = Normalize(path)
	if path == Root {
		return regexp.MustCompile(`^/[^/]+$`)
	}
	return regexp.MustCompile(`^` + regexp.QuoteMeta(path) + `/[^/]+$`)
}

// IsAncestorOf returns true if ancestor is a strict path ancestor of path.
func IsAncestorOf(ancestor, path string) bool {
	ancestor = Normalize(ancestor)
	path = Normalize(path)
	if ancestor == path {
		return false
	}
	if ancestor == Root {
		return path != Root
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Overlaps returns true if a and b name the same path or one is a path
// ancestor of the other. Structural operations on overlapping paths must not
// run concurrently.
func Overlaps(a, b string) bool {
	a = Normalize(a)
	b = Normalize(b)
	return a == b || IsAncestorOf(a, b) || IsAncestorOf(b, a)
}

// ChangePrefix rewrites path by substituting oldPrefix with newPrefix.
// The path is returned unchanged when it is not under oldPrefix.
func ChangePrefix(path, oldPrefix, newPrefix string) string {
	path = Normalize(path)
	oldPrefix = Normalize(oldPrefix)
	newPrefix = Normalize(newPrefix)
	if path == oldPrefix {
		return newPrefix
	}
	if !IsAncestorOf(oldPrefix, path) {
		return path
	}
	if oldPrefix == Root {
		return Normalize(newPrefix + path)
	}
	return Normalize(newPrefix + strings.TrimPrefix(path, oldPrefix))
}

// IsTrashPath returns true for paths inside the trash namespace.
func IsTrashPath(path string) bool {
	path = Normalize(path)
	return path == TrashPrefix || strings.HasPrefix(path, TrashPrefix+"/")
}

// ToTrashPath maps a live path into the trash namespace. Trash paths are
// returned unchanged.
func ToTrashPath(path string) string {
	path = Normalize(path)
	if IsTrashPath(path) {
		return path
	}
	return Normalize(TrashPrefix + path)
}

// FromTrashPath strips the trash prefix, restoring the original live path.
func FromTrashPath(path string) string {
	path = Normalize(path)
	if !IsTrashPath(path) {
		return path
	}
	return Normalize(strings.TrimPrefix(path, TrashPrefix))
}

// IsUserHomepage returns true for a per-user top page ("/user/<name>").
func IsUserHomepage(path string) bool {
	path = Normalize(path)
	if !strings.HasPrefix(path, UserPrefix+"/") {
		return false
	}
	return !strings.Contains(strings.TrimPrefix(path, UserPrefix+"/"), "/")
}

// IsMovable reports whether structural operations may change the location of
// a page at path. The root, the trash and user namespaces themselves, and
// per-user home pages stay where they are.
func IsMovable(path string) bool {
	path = Normalize(path)
	switch path {
	case Root, TrashPrefix, UserPrefix:
		return false
	}
	return !IsUserHomepage(path)
}

// IsDeletable reports whether a page at path may be soft-deleted. Pages
// already in the trash cannot be deleted again.
func IsDeletable(path string) bool {
	return IsMovable(path) && !IsTrashPath(path)
}
