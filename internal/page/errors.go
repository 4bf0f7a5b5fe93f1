package page

import "fmt"

// Repository operations resolve to exactly one of the error kinds below,
// never a catch-all. NotFound and AccessDenied stay distinct; the surface
// layer decides whether to blur them for anonymous readers.

// NotFoundError: no page at the requested path or id.
type NotFoundError struct {
	Path string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("page not found: %s", e.Path)
	}
	return fmt.Sprintf("page not found: id %s", e.ID)
}

// AccessDeniedError: the page exists but the requester fails the grant policy.
type AccessDeniedError struct {
	Path   string
	UserID string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("page not granted: %s", e.Path)
}

// PathConflictError: create on an occupied path.
type PathConflictError struct {
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("page already exists at %s", e.Path)
}

// InvalidPathError: the name fails the creatable-name rules.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("path is not creatable: %s", e.Path)
}

// StaleRevisionError: an edit was based on a revision that is no longer the
// page's head.
type StaleRevisionError struct {
	PageID         string
	BaseRevisionID string
	HeadRevisionID string
}

func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("page %s: edit based on revision %s but head is %s", e.PageID, e.BaseRevisionID, e.HeadRevisionID)
}

// NoOpError: a like/unlike toggle that changed no membership. Non-fatal; the
// caller can detect it and skip a needless write or response refresh.
type NoOpError struct {
	Op     string
	PageID string
	UserID string
}

func (e *NoOpError) Error() string {
	return fmt.Sprintf("%s on page %s: no change for user %s", e.Op, e.PageID, e.UserID)
}

// PersistenceError: a store-layer failure with the opaque cause preserved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// InconsistencyError: an orphaned revision or a stale revision path detected
// during reconciliation, or a multi-step write that failed partway. Carries
// enough state for a maintenance job to repair later; the repository never
// retries these automatically.
type InconsistencyError struct {
	Kind       string
	RevisionID string
	Detail     string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistency (%s): revision %s: %s", e.Kind, e.RevisionID, e.Detail)
}
