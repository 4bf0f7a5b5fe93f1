package page

import "trellis/internal/identity"

// Grant is a page's visibility tier. The integer values are persisted as-is;
// changing them requires a schema migration.
type Grant int

const (
	GrantPublic     Grant = 1
	GrantRestricted Grant = 2
	GrantSpecified  Grant = 3
	GrantOwner      Grant = 4
)

func (g Grant) Valid() bool {
	return g >= GrantPublic && g <= GrantOwner
}

// GrantLabels maps grant tiers to their user-facing labels. GrantSpecified is
// intentionally unlabeled: it is an internal-only tier that never shows up in
// the grant picker, but it remains a valid stored value and the visibility
// rules handle it like any other non-public tier.
func GrantLabels() map[Grant]string {
	return map[Grant]string{
		GrantPublic:     "public",
		GrantRestricted: "link-only",
		GrantOwner:      "owner-only",
	}
}

// IsCreator compares the requester against the page creator. The creator
// reference may be a bare id or an expanded record depending on how the page
// was loaded; the comparison is always on the id.
func (p *Page) IsCreator(requester *identity.PublicUser) bool {
	if requester == nil || p.Creator.IsZero() {
		return false
	}
	return p.Creator.ID() == requester.ID
}

// IsVisibleTo decides whether the requester may view the page. A nil
// requester is an anonymous reader. Rules, first match wins: public pages are
// visible to anyone; the creator always sees their own page; otherwise the
// requester must be on the granted-user list. Restricted, specified and owner
// tiers are all closed-list membership.
func (p *Page) IsVisibleTo(requester *identity.PublicUser) bool {
	if p.IsPublic() {
		return true
	}
	if p.IsCreator(requester) {
		return true
	}
	if requester == nil {
		return false
	}
	return contains(p.GrantedUsers, requester.ID)
}
