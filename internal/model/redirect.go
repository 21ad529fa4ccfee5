// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// PageRedirect maps an old page path to its current location so stale links
// keep resolving after a rename or delete. At most one active redirect may
// exist per FromPath.
type PageRedirect struct {
	ID        string
	FromPath  string
	ToPath    string
	CreatedAt time.Time
}
