// Package identity is the identity collaborator: the page engine only ever
// compares users by id and renders the public projection on reads.
package identity

import "time"

type User struct {
	ID           string
	Username     string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	IsEmailVerified bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the projection of a user that is safe to attach to read
// responses (creator, revision author).
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Name: u.Name}
}

// Ref points at a user either as a bare id or as an expanded public record.
// Stored documents carry bare ids; reads may expand them. Equality is always
// on the id, never on which shape the reference happens to be in.
type Ref struct {
	id   string
	user *PublicUser
}

func ByID(id string) Ref {
	return Ref{id: id}
}

func ByUser(u PublicUser) Ref {
	return Ref{id: u.ID, user: &u}
}

// ID is the uniform accessor both shapes normalize to.
func (r Ref) ID() string {
	if r.user != nil {
		return r.user.ID
	}
	return r.id
}

// User returns the expanded record when the reference has been populated.
func (r Ref) User() (PublicUser, bool) {
	if r.user == nil {
		return PublicUser{}, false
	}
	return *r.user, true
}

func (r Ref) IsZero() bool {
	return r.id == "" && r.user == nil
}
