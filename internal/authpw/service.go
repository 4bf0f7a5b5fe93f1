// Package authpw provides email/password account handling for the identity
// collaborator. The page engine itself never sees passwords; it only ever
// compares identity ids.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"trellis/internal/identity"
	"trellis/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// UserStore is the slice of persistence authpw needs.
type UserStore interface {
	CreateUser(ctx context.Context, user identity.User) error
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type SignUpRequest struct {
	Email    string
	Username string
	Name     string
	Password string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (identity.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)
	if email == "" || username == "" {
		return identity.User{}, fmt.Errorf("email and username are required")
	}
	if len(req.Password) < 8 {
		return identity.User{}, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return identity.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return identity.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := identity.User{
		ID:           util.NewID("user"),
		Username:     username,
		Name:         req.Name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "editor",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return identity.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (identity.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("lookup email: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return identity.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 8 {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdateUserPassword(ctx, userID, string(hash))
}
