package store

import (
	"context"
	"fmt"

	"trellis/internal/identity"
)

func (s *PostgresStore) CreateUser(ctx context.Context, user identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, email, password_hash, role, is_email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, user.ID, user.Username, user.Name, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (identity.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (identity.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (identity.User, error) {
	var user identity.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, email, password_hash, role, is_email_verified, created_at, updated_at
		FROM users `+where, arg).Scan(
		&user.ID, &user.Username, &user.Name, &user.Email,
		&user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return identity.User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}
