// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Revision is a content snapshot of a page. The editor and rendering live
// outside this codebase; the engine only needs revisions to copy bodies on
// duplicate and to cascade removal on hard delete.
type Revision struct {
	ID        string
	PageID    string
	Body      string
	AuthorID  string
	CreatedAt time.Time
}
