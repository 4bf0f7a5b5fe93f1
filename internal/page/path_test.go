package page

import (
	"testing"

	"trellis/internal/identity"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"foo", "/foo"},
		{"/foo", "/foo"},
		{"/foo/bar", "/foo/bar"},
		{"", "/"},
	}
	for _, c := range cases {
		got := Normalize(c.in)
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
		if Normalize(got) != got {
			t.Errorf("Normalize is not idempotent on %q", c.in)
		}
	}
}

func TestIsPortal(t *testing.T) {
	if !IsPortal("/foo/") {
		t.Error(`IsPortal("/foo/") should be true`)
	}
	if IsPortal("/foo") {
		t.Error(`IsPortal("/foo") should be false`)
	}
}

func TestIsCreatableName(t *testing.T) {
	creatable := []string{
		"/normal/page",
		"/user/alice",
		"/user/alice/projects",
		"/meeting/2026/08",
		"/admin", // reserved names only block subpaths
	}
	for _, name := range creatable {
		if !IsCreatableName(name) {
			t.Errorf("IsCreatableName(%q) = false, want true", name)
		}
	}

	denied := []string{
		"/has*star",
		"/price$100",
		"/c++",
		"/tag#anchor",
		"/_api/pages",
		"/-/special",
		"/_r/abc",
		"/user/alice/bookmarks",
		"/user/bob/recent-edit",
		"http://example.com/page",
		"/some/page/edit",
		"/notes/readme.md",
		"/admin/whatever",
		"/login/callback",
		"/trash/old",
	}
	for _, name := range denied {
		if IsCreatableName(name) {
			t.Errorf("IsCreatableName(%q) = true, want false", name)
		}
	}
}

func TestUserPagePath(t *testing.T) {
	got := UserPagePath(identity.PublicUser{ID: "u1", Username: "alice"})
	if got != "/user/alice" {
		t.Errorf("UserPagePath = %q, want /user/alice", got)
	}
}
