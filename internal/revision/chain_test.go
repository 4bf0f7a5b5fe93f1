package revision

import (
	"context"
	"errors"
	"testing"
	"time"

	"trellis/internal/identity"
	"trellis/internal/page"
	"trellis/internal/store"
)

type fakeStore struct {
	pushed    []*page.Revision
	advanced  bool
	pushErr   error
	orphans   []store.OrphanRevision
	stale     []store.OrphanRevision
	orphanErr error
}

func (f *fakeStore) PushRevision(_ context.Context, rev *page.Revision) (bool, error) {
	if f.pushErr != nil {
		return false, f.pushErr
	}
	f.pushed = append(f.pushed, rev)
	return f.advanced, nil
}

func (f *fakeStore) FindOrphanRevisions(context.Context, int) ([]store.OrphanRevision, error) {
	return f.orphans, f.orphanErr
}

func (f *fakeStore) FindStaleRevisionPaths(context.Context, int) ([]store.OrphanRevision, error) {
	return f.stale, nil
}

func TestPushAdvancesPointer(t *testing.T) {
	fs := &fakeStore{advanced: true}
	chain := New(fs)
	chain.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	p := &page.Page{ID: "p1", Path: "/wiki", CurrentRevisionID: "r-old"}
	draft := page.PrepareRevision(p, "new body", "")
	rev, err := chain.Push(context.Background(), p, draft, identity.ByID("u1"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if rev.Path != "/wiki" || rev.Body != "new body" || rev.Format != "markdown" {
		t.Errorf("unexpected revision: %+v", rev)
	}
	if p.CurrentRevisionID != rev.ID {
		t.Errorf("pointer = %s, want %s", p.CurrentRevisionID, rev.ID)
	}
	if !p.UpdatedAt.Equal(rev.CreatedAt) {
		t.Errorf("updatedAt = %v, want %v", p.UpdatedAt, rev.CreatedAt)
	}
	if p.Revision != rev {
		t.Error("page should carry the pushed revision")
	}
}

func TestPushKeepsNewerHead(t *testing.T) {
	fs := &fakeStore{advanced: false}
	chain := New(fs)

	p := &page.Page{ID: "p1", Path: "/wiki", CurrentRevisionID: "r-newer"}
	rev, err := chain.Push(context.Background(), p, page.RevisionDraft{Body: "late edit", Format: "markdown"}, identity.ByID("u1"))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if p.CurrentRevisionID != "r-newer" {
		t.Errorf("pointer rolled back to %s", p.CurrentRevisionID)
	}
	if len(fs.pushed) != 1 || fs.pushed[0].ID != rev.ID {
		t.Error("revision should still be stored as history")
	}
}

func TestPushStoreFailure(t *testing.T) {
	cause := errors.New("connection reset")
	chain := New(&fakeStore{pushErr: cause})

	p := &page.Page{ID: "p1", Path: "/wiki", CurrentRevisionID: "r1"}
	_, err := chain.Push(context.Background(), p, page.RevisionDraft{Body: "x", Format: "markdown"}, identity.ByID("u1"))

	var perr *page.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved through Unwrap")
	}
	if p.CurrentRevisionID != "r1" {
		t.Error("pointer must not move on failure")
	}
}

func TestReconcileReportsInconsistencies(t *testing.T) {
	fs := &fakeStore{
		orphans: []store.OrphanRevision{{ID: "r9", PageID: "p1", Path: "/wiki", CreatedAt: time.Now()}},
		stale:   []store.OrphanRevision{{ID: "r3", PageID: "p2", Path: "/gone"}},
	}
	chain := New(fs)

	found, err := chain.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 inconsistencies, got %d", len(found))
	}
	if found[0].Kind != "orphan-revision" || found[0].RevisionID != "r9" {
		t.Errorf("unexpected first entry: %+v", found[0])
	}
	if found[1].Kind != "stale-path" || found[1].RevisionID != "r3" {
		t.Errorf("unexpected second entry: %+v", found[1])
	}
}

func TestReconcileStoreFailure(t *testing.T) {
	chain := New(&fakeStore{orphanErr: errors.New("down")})
	_, err := chain.Reconcile(context.Background(), 10)
	var perr *page.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}
