package store

import (
	"errors"
	"time"

	"trellis/internal/page"
)

// ErrPathTaken maps the partial unique index on active page paths; a create
// raced another writer to the same path.
var ErrPathTaken = errors.New("page path already taken")

// ListOptions shapes list queries. SortField is checked against a whitelist;
// anything unknown falls back to updated_at.
type ListOptions struct {
	SortField  string
	Descending bool
	Offset     int
	Limit      int
}

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	switch o.SortField {
	case "created_at", "updated_at", "path":
	default:
		o.SortField = "updated_at"
	}
	return o
}

// RenameOp is one page's path change inside a rename transaction. The
// revision cascade runs on OldPath.
type RenameOp struct {
	PageID  string
	OldPath string
	NewPath string
}

// StubPage is a redirect stub created in the same transaction as the rename
// that left it behind.
type StubPage struct {
	Page     *page.Page
	Revision *page.Revision
}

/// OrphanRevision is reconciliation material: a revision the current pointer
// of its page does not account for, or one whose stored path matches no page.
type OrphanRevision struct {
	ID        string
	PageID    string
	Path      string
	CreatedAt time.Time
}
