package page

import "testing"

func TestIsUpdatable(t *testing.T) {
	p := &Page{ID: "p1", CurrentRevisionID: "r2"}

	if !p.IsUpdatable("r2") {
		t.Error("edit based on the head revision should be updatable")
	}
	if p.IsUpdatable("r1") {
		t.Error("edit based on a stale revision should be rejected")
	}

	// Historical override keeps the real head for the check.
	p.CurrentRevisionID = "r1"
	p.LatestRevisionID = "r2"
	if p.IsUpdatable("r1") {
		t.Error("override revision must not pass the updatable check")
	}
	if !p.IsUpdatable("r2") {
		t.Error("real head must pass the updatable check")
	}

	fresh := &Page{ID: "p2"}
	if !fresh.IsUpdatable("") {
		t.Error("page with no revisions yet accepts any base")
	}
}

func TestRedirectState(t *testing.T) {
	p := &Page{Path: "/old"}
	if p.IsRedirect() {
		t.Error("active page is not a redirect")
	}
	p.RedirectTo = "/new"
	if !p.IsRedirect() {
		t.Error("page with redirectTo set is a redirect stub")
	}
}

func TestMembershipHelpers(t *testing.T) {
	p := &Page{Likers: []string{"u1"}, SeenUsers: []string{"u1", "u2"}}
	if !p.IsLikedBy("u1") || p.IsLikedBy("u2") {
		t.Error("IsLikedBy membership mismatch")
	}
	if !p.IsSeenBy("u2") || p.IsSeenBy("u3") {
		t.Error("IsSeenBy membership mismatch")
	}
}

func TestPrepareRevisionDefaultsFormat(t *testing.T) {
	draft := PrepareRevision(&Page{Path: "/p"}, "body", "")
	if draft.Format != "markdown" {
		t.Errorf("default format = %q, want markdown", draft.Format)
	}
	draft = PrepareRevision(&Page{Path: "/p"}, "body", "plain")
	if draft.Format != "plain" {
		t.Errorf("format = %q, want plain", draft.Format)
	}
}
