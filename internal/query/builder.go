// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package query builds SQL predicates over the pages table. The builder is
// purely syntactic: it never touches the database, and every added predicate
// is AND-combined, so call order does not change the result set.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pagekeep/pagekeep/internal/pagepath"
)

// ErrAlreadyBuilt is returned when a builder is built twice. Builders are
// single-use: build once, execute once.
var ErrAlreadyBuilt = errors.New("query: builder already built")

// Sort directions.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// sortColumns whitelists the columns a caller may sort on.
var sortColumns = map[string]bool{
	"path":             true,
	"created_at":       true,
	"updated_at":       true,
	"descendant_count": true,
}

// Cond is a single SQL predicate with its bound arguments.
type Cond struct {
	SQL  string
	Args []any
}

// Builder accumulates AND-combined predicates over the pages table.
type Builder struct {
	conds        []Cond
	order        []string
	limit        int64
	offset       int64
	includeEmpty bool
	built        bool
}

// NewPageQuery returns a builder over the pages table. Empty placeholder
// pages are excluded by default.
func NewPageQuery() *Builder {
	return &Builder{limit: -1, offset: -1}
}

// Where adds an arbitrary predicate.
func (b *Builder) Where(c Cond) *Builder {
	b.conds = append(b.conds, c)
	return b
}

// IncludeEmpty disables the default exclusion of empty placeholder pages.
func (b *Builder) IncludeEmpty() *Builder {
	b.includeEmpty = true
	return b
}

// PathIs restricts to the page at exactly path.
func (b *Builder) PathIs(path string) *Builder {
	return b.Where(Cond{SQL: "path = ?", Args: []any{pagepath.Normalize(path)}})
}

// PathIn restricts to pages at any of the given paths.
func (b *Builder) PathIn(paths []string) *Builder {
	if len(paths) == 0 {
		return b.Where(Cond{SQL: "1 = 0"})
	}
	placeholders := make([]string, len(paths))
	args := make([]any, len(paths))
	for i, p := range paths {
		placeholders[i] = "?"
		args[i] = pagepath.Normalize(p)
	}
	return b.Where(Cond{SQL: "path IN (" + strings.Join(placeholders, ", ") + ")", Args: args})
}

// IDIn restricts to pages with any of the given ids.
func (b *Builder) IDIn(ids []string) *Builder {
	if len(ids) == 0 {
		return b.Where(Cond{SQL: "1 = 0"})
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return b.Where(Cond{SQL: "id IN (" + strings.Join(placeholders, ", ") + ")", Args: args})
}

// DescendantsOf restricts to path itself and everything beneath it.
func (b *Builder) DescendantsOf(path string) *Builder {
	path = pagepath.Normalize(path)
	if path == pagepath.Root {
		return b
	}
	return b.Where(Cond{
		SQL:  `(path = ? OR path LIKE ? ESCAPE '\')`,
		Args: []any{path, EscapeLike(path) + "/%"},
	})
}

// OnlyDescendantsOf restricts to strict descendants of path.
func (b *Builder) OnlyDescendantsOf(path string) *Builder {
	path = pagepath.Normalize(path)
	if path == pagepath.Root {
		return b.Where(Cond{SQL: "path != '/'"})
	}
	return b.Where(Cond{
		SQL:  `path LIKE ? ESCAPE '\'`,
		Args: []any{EscapeLike(path) + "/%"},
	})
}

// ChildrenOf restricts to exactly one-level-deeper paths under path.
func (b *Builder) ChildrenOf(path string) *Builder {
	path = pagepath.Normalize(path)
	prefix := EscapeLike(path)
	if path == pagepath.Root {
		prefix = ""
	}
	return b.Where(Cond{
		SQL:  `(path LIKE ? ESCAPE '\' AND path NOT LIKE ? ESCAPE '\')`,
		Args: []any{prefix + "/%", prefix + "/%/%"},
	})
}

// OnlyAncestorsOf restricts to the ancestor chain of path, excluding path.
func (b *Builder) OnlyAncestorsOf(path string) *Builder {
	return b.PathIn(pagepath.AncestorPaths(path))
}

// StartsWith restricts to paths sharing the given string prefix. Unlike
// DescendantsOf this matches partial segments too.
func (b *Builder) StartsWith(prefix string) *Builder {
	return b.Where(Cond{
		SQL:  `path LIKE ? ESCAPE '\'`,
		Args: []any{EscapeLike(prefix) + "%"},
	})
}

// ExcludeTrashed drops pages inside the trash namespace.
func (b *Builder) ExcludeTrashed() *Builder {
	return b.Where(Cond{
		SQL:  `path != ? AND path NOT LIKE ? ESCAPE '\'`,
		Args: []any{pagepath.TrashPrefix, EscapeLike(pagepath.TrashPrefix) + "/%"},
	})
}

// Viewable adds the visibility predicate produced by the grant evaluator.
func (b *Builder) Viewable(c Cond) *Builder {
	return b.Where(c)
}

// StatusIs restricts to pages with the given status.
func (b *Builder) StatusIs(status string) *Builder {
	return b.Where(Cond{SQL: "status = ?", Args: []any{status}})
}

// MigratedOnly restricts to pages attached to the tree (the root excepted).
func (b *Builder) MigratedOnly() *Builder {
	return b.Where(Cond{SQL: "(parent_id IS NOT NULL OR path = '/')"})
}

// NotMigratedOnly restricts to legacy pages not yet attached to the tree.
func (b *Builder) NotMigratedOnly() *Builder {
	return b.Where(Cond{SQL: "(parent_id IS NULL AND path != '/')"})
}

// SortBy appends a sort criterion. Unknown columns and directions are
// ignored rather than producing broken SQL.
func (b *Builder) SortBy(column, direction string) *Builder {
	if !sortColumns[column] {
		return b
	}
	dir := strings.ToUpper(direction)
	if dir != SortAsc && dir != SortDesc {
		dir = SortAsc
	}
	b.order = append(b.order, column+" "+dir)
	return b
}

// Paginate sets OFFSET/LIMIT. Negative values leave the bound unset.
func (b *Builder) Paginate(offset, limit int64) *Builder {
	b.offset = offset
	b.limit = limit
	return b
}

// Build renders the accumulated predicates into a SQL clause starting with
// WHERE, plus its bound arguments. A builder can only be built once.
func (b *Builder) Build() (string, []any, error) {
	if b.built {
		return "", nil, ErrAlreadyBuilt
	}
	b.built = true

	conds := b.conds
	if !b.includeEmpty {
		conds = append([]Cond{{SQL: "is_empty = 0"}}, conds...)
	}

	var sb strings.Builder
	var args []any
	if len(conds) > 0 {
		sb.WriteString("WHERE ")
		for i, c := range conds {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString("(" + c.SQL + ")")
			args = append(args, c.Args...)
		}
	}
	if len(b.order) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(b.order, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
		if b.offset > 0 {
			sb.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
		}
	}
	return sb.String(), args, nil
}

// EscapeLike escapes LIKE metacharacters so a path can be used as a literal
// prefix in a LIKE pattern with ESCAPE '\'.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
