// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// Page statuses
const (
	PageStatusPublished = "published"
	PageStatusDeleted   = "deleted"
)

// Page grants. Values are stable and stored in the database.
const (
	GrantPublic     = 1
	GrantRestricted = 2
	GrantSpecified  = 3 // deprecated, kept for old rows
	GrantOwner      = 4
	GrantUserGroup  = 5
)

// ValidGrants contains all grant values accepted on write.
// GrantSpecified is read-only legacy data and deliberately absent.
var ValidGrants = []int{GrantPublic, GrantRestricted, GrantOwner, GrantUserGroup}

// Page represents a node in the page tree.
//
// A page with IsEmpty set is a placeholder that only exists to keep the tree
// connected between two non-adjacent real pages. Empty pages are always
// public and carry no content.
type Page struct {
	ID               string
	Path             string
	ParentID         sql.NullString
	IsEmpty          bool
	Grant            int
	GrantedUsers     []string
	GrantedGroupID   sql.NullString
	DescendantCount  int64
	Status           string
	RevisionID       sql.NullString
	CreatorID        string
	LastUpdateUserID string
	DeleteUserID     sql.NullString
	DeletedAt        sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPublished returns true if the page is published.
func (p *Page) IsPublished() bool {
	return p.Status == PageStatusPublished
}

// IsDeleted returns true if the page has been soft-deleted.
func (p *Page) IsDeleted() bool {
	return p.Status == PageStatusDeleted
}

// IsRoot returns true if the page is attached to the tree as a root.
func (p *Page) IsRoot() bool {
	return !p.ParentID.Valid
}

// IsMigrated returns true if the page is attached to the tree.
// Pages at the top-level root path count as migrated even without a parent.
func (p *Page) IsMigrated() bool {
	return p.ParentID.Valid || p.Path == "/"
}

// IsValidGrant checks if a grant value is accepted on write.
func IsValidGrant(grant int) bool {
	for _, g := range ValidGrants {
		if g == grant {
			return true
		}
	}
	return false
}
