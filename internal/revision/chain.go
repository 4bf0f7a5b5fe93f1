// Package revision owns the append-only revision chain: pushing a new
// snapshot, advancing the page's head pointer, and the reconciliation pass
// that surfaces chains a failed multi-write left inconsistent. The rename
// path cascade runs inside the store's rename transaction so it cannot
// detach from the page path update.
package revision

import (
	"context"
	"fmt"
	"log"
	"time"

	"trellis/internal/identity"
	"trellis/internal/page"
	"trellis/internal/store"
	"trellis/internal/util"
)

type Store interface {
	PushRevision(ctx context.Context, rev *page.Revision) (advanced bool, err error)
	FindOrphanRevisions(ctx context.Context, limit int) ([]store.OrphanRevision, error)
	FindStaleRevisionPaths(ctx context.Context, limit int) ([]store.OrphanRevision, error)
}

type Chain struct {
	store Store
	now   func() time.Time
}

func New(s Store) *Chain {
	return &Chain{store: s, now: time.Now}
}

// Build constructs the revision record for a draft without storing it. The
// create path uses it so the first revision can land in the same transaction
// as the page row.
func (c *Chain) Build(p *page.Page, draft page.RevisionDraft, author identity.Ref) *page.Revision {
	return &page.Revision{
		ID:        util.NewID("rev"),
		PageID:    p.ID,
		Path:      p.Path,
		Body:      draft.Body,
		Format:    draft.Format,
		Author:    author,
		CreatedAt: c.now().UTC(),
	}
}

// Push appends a revision built from the draft and advances the page's head
// pointer. The revision and the pointer move commit together; when a newer
// revision already holds the pointer the record still lands in history and
// the in-memory page keeps its head. The page is updated in place on advance.
func (c *Chain) Push(ctx context.Context, p *page.Page, draft page.RevisionDraft, author identity.Ref) (*page.Revision, error) {
	rev := c.Build(p, draft, author)

	advanced, err := c.store.PushRevision(ctx, rev)
	if err != nil {
		return nil, &page.PersistenceError{Op: "push revision", Err: err}
	}
	if advanced {
		p.CurrentRevisionID = rev.ID
		p.LatestRevisionID = rev.ID
		p.UpdatedAt = rev.CreatedAt
		p.Revision = rev
	} else {
		log.Printf("revision: page %s kept a newer head, %s stored as history only", p.ID, rev.ID)
	}
	return rev, nil
}

// Reconcile is the maintenance backstop: it reports revisions the pointer
// does not account for and revisions whose path matches no page. Nothing is
// repaired automatically.
func (c *Chain) Reconcile(ctx context.Context, limit int) ([]*page.InconsistencyError, error) {
	orphans, err := c.store.FindOrphanRevisions(ctx, limit)
	if err != nil {
		return nil, &page.PersistenceError{Op: "find orphan revisions", Err: err}
	}
	stale, err := c.store.FindStaleRevisionPaths(ctx, limit)
	if err != nil {
		return nil, &page.PersistenceError{Op: "find stale revision paths", Err: err}
	}

	found := make([]*page.InconsistencyError, 0, len(orphans)+len(stale))
	for _, o := range orphans {
		found = append(found, &page.InconsistencyError{
			Kind:       "orphan-revision",
			RevisionID: o.ID,
			Detail:     fmt.Sprintf("page %s pointer is behind revision created %s", o.PageID, o.CreatedAt.Format(time.RFC3339)),
		})
	}
	for _, o := range stale {
		found = append(found, &page.InconsistencyError{
			Kind:       "stale-path",
			RevisionID: o.ID,
			Detail:     fmt.Sprintf("revision path %s matches no page", o.Path),
		})
	}
	for _, inc := range found {
		log.Printf("revision: %v", inc)
	}
	return found, nil
}
