package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"trellis/internal/identity"
)

type memStore struct {
	byEmail map[string]identity.User
	byID    map[string]identity.User
}

func newMemStore() *memStore {
	return &memStore{byEmail: map[string]identity.User{}, byID: map[string]identity.User{}}
}

func (m *memStore) CreateUser(_ context.Context, user identity.User) error {
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (identity.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return identity.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (identity.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return identity.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	user := m.byID[userID]
	user.PasswordHash = hash
	m.byID[userID] = user
	m.byEmail[user.Email] = user
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{Email: "Alice@Example.com", Username: "alice", Name: "Alice", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email should be normalized, got %q", user.Email)
	}
	if user.PasswordHash == "correct-horse" || user.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}

	signedIn, err := svc.SignIn(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Errorf("SignIn returned wrong user: %s", signedIn.ID)
	}

	if _, err := svc.SignIn(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUpRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Username: "a", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password: got %v", err)
	}

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Username: "a", Password: "long-enough"}); err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Username: "a2", Password: "long-enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email: got %v, want ErrEmailTaken", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Username: "a", Password: "long-enough"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong", "another-long-one"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current password: got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "long-enough", "another-long-one"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := svc.SignIn(ctx, "a@b.c", "another-long-one"); err != nil {
		t.Errorf("SignIn with new password failed: %v", err)
	}
}
