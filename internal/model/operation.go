// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// Structural operation action types
const (
	ActionRename           = "rename"
	ActionDuplicate        = "duplicate"
	ActionDelete           = "delete"
	ActionDeleteCompletely = "deleteCompletely"
	ActionRevert           = "revert"
	ActionNormalizeParent  = "normalizeParent"
)

// Operation stages. Main is the synchronous, caller-visible half of a
// structural change; Sub is the asynchronous descendant work that follows.
const (
	StageMain = "main"
	StageSub  = "sub"
)

// OperationOptions is the closed set of options a structural operation can
// carry. It is persisted as JSON alongside the operation record so that an
// interrupted Sub stage can be re-driven with the same settings.
type OperationOptions struct {
	CreateRedirect   bool `json:"createRedirect,omitempty"`
	UpdateMetadata   bool `json:"updateMetadata,omitempty"`
	Recursive        bool `json:"recursive,omitempty"`
	PreserveRevision bool `json:"preserveRevision,omitempty"`
}

// PageOperation is the operation-log record for an in-flight structural
// change. Its existence blocks new operations overlapping the same path
// prefix; its deletion marks the operation as settled.
type PageOperation struct {
	ID                 string
	ActionType         string
	ActionStage        string
	PageID             string
	UserID             string
	FromPath           string
	ToPath             string
	Options            OperationOptions
	UnprocessableAfter sql.NullTime
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsStale reports whether the operation has passed the point where it can
// still be considered in flight and should be re-driven or discarded.
func (op *PageOperation) IsStale(now time.Time) bool {
	return op.UnprocessableAfter.Valid && now.After(op.UnprocessableAfter.Time)
}
