// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package grant evaluates page access grants: building visibility predicates
// for queries and validating that a proposed grant assignment is consistent
// with the grants already present on ancestors and descendants.
package grant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pagekeep/pagekeep/internal/model"
	"github.com/pagekeep/pagekeep/internal/pagepath"
	"github.com/pagekeep/pagekeep/internal/query"
	"github.com/pagekeep/pagekeep/internal/store"
)

// Viewer identifies who is looking at the tree. A nil *Viewer is anonymous.
type Viewer struct {
	UserID   string
	GroupIDs []string
}

// InGroup returns true if the viewer belongs to the given group.
func (v *Viewer) InGroup(groupID string) bool {
	if v == nil {
		return false
	}
	for _, g := range v.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// VisibilityOptions relax the default visibility rules.
type VisibilityOptions struct {
	// IncludeRestricted treats restricted pages as visible ("anyone who
	// knows the link").
	IncludeRestricted bool
	// IncludeAnyScoped shows owner- and group-scoped pages regardless of
	// membership; for elevated (admin) contexts.
	IncludeAnyScoped bool
}

// VisibilityCondition returns a query predicate matching exactly the pages
// the viewer may see.
func VisibilityCondition(v *Viewer, opts VisibilityOptions) query.Cond {
	var clauses []string
	var args []any

	clauses = append(clauses, "grant_type = ?")
	args = append(args, model.GrantPublic)

	if opts.IncludeRestricted {
		clauses = append(clauses, "grant_type = ?")
		args = append(args, model.GrantRestricted)
	}

	if opts.IncludeAnyScoped {
		clauses = append(clauses, "grant_type IN (?, ?)")
		args = append(args, model.GrantOwner, model.GrantUserGroup)
	} else if v != nil {
		if v.UserID != "" {
			clauses = append(clauses, `(grant_type = ? AND granted_users LIKE ?)`)
			args = append(args, model.GrantOwner, `%"`+query.EscapeLike(v.UserID)+`"%`)
		}
		if len(v.GroupIDs) > 0 {
			placeholders := strings.Repeat("?, ", len(v.GroupIDs)-1) + "?"
			clauses = append(clauses, `(grant_type = ? AND granted_group_id IN (`+placeholders+`))`)
			args = append(args, model.GrantUserGroup)
			for _, g := range v.GroupIDs {
				args = append(args, g)
			}
		}
	}

	return query.Cond{SQL: "(" + strings.Join(clauses, " OR ") + ")", Args: args}
}

// CanView evaluates the same visibility rules in memory, for callers that
// already hold the page.
func CanView(v *Viewer, p *model.Page, opts VisibilityOptions) bool {
	switch p.Grant {
	case model.GrantPublic:
		return true
	case model.GrantRestricted:
		return opts.IncludeRestricted
	case model.GrantOwner, model.GrantSpecified:
		if opts.IncludeAnyScoped {
			return true
		}
		if v == nil {
			return false
		}
		for _, u := range p.GrantedUsers {
			if u == v.UserID {
				return true
			}
		}
		return false
	case model.GrantUserGroup:
		if opts.IncludeAnyScoped {
			return true
		}
		return p.GrantedGroupID.Valid && v.InGroup(p.GrantedGroupID.String)
	default:
		return false
	}
}

// GroupResolver answers group membership questions for grant normalization.
// Group management lives in an external subsystem.
type GroupResolver interface {
	IsUserInGroup(ctx context.Context, userID, groupID string) (bool, error)
}

// StaticGroupResolver resolves membership from a fixed group -> members map.
type StaticGroupResolver map[string][]string

// IsUserInGroup implements GroupResolver.
func (r StaticGroupResolver) IsUserInGroup(_ context.Context, userID, groupID string) (bool, error) {
	for _, u := range r[groupID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// Evaluator validates grant normalization against the stored tree.
type Evaluator struct {
	store  *store.Store
	groups GroupResolver
	logger *slog.Logger
}

// NewEvaluator creates a grant evaluator. groups may be nil when no
// group-scoped grants are in use.
func NewEvaluator(st *store.Store, groups GroupResolver, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: st, groups: groups, logger: logger}
}

// Proposed describes a grant assignment under validation.
type Proposed struct {
	Path           string
	Grant          int
	GrantedUsers   []string
	GrantedGroupID string
}

// IsNormalized reports whether the proposed grant at a path is consistent
// with every ancestor's grant and, when checkDescendants is set, with every
// descendant's current grant. It fails closed: any storage error or
// ambiguous input yields false, never an error.
func (e *Evaluator) IsNormalized(ctx context.Context, p Proposed, checkDescendants bool) bool {
	if !model.IsValidGrant(p.Grant) {
		return false
	}
	path := pagepath.Normalize(p.Path)

	ancestors, err := e.store.FindPages(ctx,
		query.NewPageQuery().
			OnlyAncestorsOf(path).
			StatusIs(model.PageStatusPublished))
	if err != nil {
		e.logger.Warn("grant normalization check failed, failing closed", "path", path, "error", err)
		return false
	}
	for _, anc := range ancestors {
		ok, err := e.compatibleWithAncestor(ctx, anc, p)
		if err != nil {
			e.logger.Warn("grant normalization check failed, failing closed", "path", path, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}

	if !checkDescendants {
		return true
	}

	descendants, err := e.store.FindPages(ctx,
		query.NewPageQuery().
			OnlyDescendantsOf(path).
			ExcludeTrashed().
			StatusIs(model.PageStatusPublished))
	if err != nil {
		e.logger.Warn("grant normalization check failed, failing closed", "path", path, "error", err)
		return false
	}
	for _, desc := range descendants {
		ok, err := e.descendantRemainsCompatible(ctx, p, desc)
		if err != nil {
			e.logger.Warn("grant normalization check failed, failing closed", "path", path, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// compatibleWithAncestor checks that the proposed grant does not widen the
// effective audience beyond what an existing ancestor allows.
func (e *Evaluator) compatibleWithAncestor(ctx context.Context, anc *model.Page, p Proposed) (bool, error) {
	switch anc.Grant {
	case model.GrantPublic:
		return true, nil
	case model.GrantRestricted:
		// Restricted pages are detached roots; a page at an ancestor path
		// with a restricted grant does not own that namespace.
		return true, nil
	case model.GrantOwner, model.GrantSpecified:
		if p.Grant != model.GrantOwner {
			return false, nil
		}
		return sameUsers(anc.GrantedUsers, p.GrantedUsers), nil
	case model.GrantUserGroup:
		if !anc.GrantedGroupID.Valid {
			return false, nil
		}
		switch p.Grant {
		case model.GrantUserGroup:
			return p.GrantedGroupID == anc.GrantedGroupID.String, nil
		case model.GrantOwner:
			if len(p.GrantedUsers) != 1 || e.groups == nil {
				return false, nil
			}
			return e.groups.IsUserInGroup(ctx, p.GrantedUsers[0], anc.GrantedGroupID.String)
		default:
			return false, nil
		}
	default:
		return false, nil
	}
}

// descendantRemainsCompatible checks that an existing descendant's grant is
// still valid once the proposed grant becomes its ancestor.
func (e *Evaluator) descendantRemainsCompatible(ctx context.Context, p Proposed, desc *model.Page) (bool, error) {
	switch p.Grant {
	case model.GrantPublic:
		return true, nil
	case model.GrantRestricted:
		// A page becoming restricted is detached from the tree and its
		// descendants are re-linked to a public placeholder, so its grant
		// never constrains them.
		return true, nil
	case model.GrantOwner:
		if desc.Grant != model.GrantOwner && desc.Grant != model.GrantSpecified {
			return false, nil
		}
		return sameUsers(desc.GrantedUsers, p.GrantedUsers), nil
	case model.GrantUserGroup:
		switch desc.Grant {
		case model.GrantUserGroup:
			return desc.GrantedGroupID.Valid && desc.GrantedGroupID.String == p.GrantedGroupID, nil
		case model.GrantOwner, model.GrantSpecified:
			if len(desc.GrantedUsers) != 1 || e.groups == nil {
				return false, nil
			}
			return e.groups.IsUserInGroup(ctx, desc.GrantedUsers[0], p.GrantedGroupID)
		case model.GrantRestricted:
			return true, nil
		default:
			return false, nil
		}
	default:
		return false, nil
	}
}

func sameUsers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, u := range a {
		seen[u] = true
	}
	for _, u := range b {
		if !seen[u] {
			return false
		}
	}
	return true
}
