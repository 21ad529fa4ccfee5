// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

// User identifies an acting user for grant evaluation and audit fields.
// Accounts and sessions are managed by an external subsystem; the engine
// only ever sees opaque ids.
type User struct {
	ID   string
	Name string
}

// Group identifies a user group referenced by group-scoped grants.
type Group struct {
	ID   string
	Name string
}
