// Package page holds the domain model for wiki pages: the page and revision
// records, the grant policy that decides visibility, the path rules that
// gate creation and renames, and the error taxonomy every repository
// operation resolves to. Everything here is pure; persistence lives in
// internal/store.
package page

import (
	"time"

	"trellis/internal/identity"
)

type Page struct {
	ID                string
	Path              string
	CurrentRevisionID string
	RedirectTo        string
	Grant             Grant
	GrantedUsers      []string
	Creator           identity.Ref
	Likers            []string
	SeenUsers         []string
	CommentCount      int
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Revision is populated on reads. When a historical revision override is
	// requested it holds that revision and LatestRevisionID keeps the real
	// pointer so IsUpdatable still judges against the current head.
	Revision         *Revision
	LatestRevisionID string
}

// Revision is an immutable content snapshot. Revisions are never mutated in
// place; a new one is appended and the page pointer advances.
type Revision struct {
	ID        string
	PageID    string
	Path      string
	Body      string
	Format    string
	Author    identity.Ref
	CreatedAt time.Time
}

// RevisionDraft is what the revision collaborator hands the chain before the
// record exists. The engine never interprets Body.
type RevisionDraft struct {
	Body   string
	Format string
}

func PrepareRevision(p *Page, body string, format string) RevisionDraft {
	if format == "" {
		format = "markdown"
	}
	return RevisionDraft{Body: body, Format: format}
}

func (p *Page) IsPublic() bool {
	return p.Grant == GrantPublic
}

func (p *Page) IsPortal() bool {
	return IsPortal(p.Path)
}

// IsRedirect reports whether the page is a stub left behind by a rename.
// Terminal once set; a redirected page never becomes active again.
func (p *Page) IsRedirect() bool {
	return p.RedirectTo != ""
}

// IsUpdatable reports whether an edit based on previousRevisionID may be
// applied. An empty head (page just constructed) accepts any base.
func (p *Page) IsUpdatable(previousRevisionID string) bool {
	head := p.LatestRevisionID
	if head == "" {
		head = p.CurrentRevisionID
	}
	if head == "" {
		return true
	}
	return head == previousRevisionID
}

func (p *Page) IsLikedBy(userID string) bool {
	return contains(p.Likers, userID)
}

func (p *Page) IsSeenBy(userID string) bool {
	return contains(p.SeenUsers, userID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
