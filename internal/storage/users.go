package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidUsername reports whether a username satisfies the lowercase
// alphanumeric plus [_-] rule, at most 64 characters.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

const userColumns = `user_id, username, password_hash, status, vault_salt,
	display_name, COALESCE(email, ''), is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var isAdmin int
	err := row.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.Status,
		&u.VaultSalt, &u.DisplayName, &u.Email, &isAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	return &u, nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if !ValidUsername(u.Username) {
		return apperr.Newf(apperr.CodeValidationError, "invalid username %q", u.Username)
	}
	if len(u.VaultSalt) != 32 {
		return fmt.Errorf("vault salt must be 32 bytes, got %d", len(u.VaultSalt))
	}
	now := NowUTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `INSERT INTO users
		(user_id, username, password_hash, status, vault_salt, display_name, email, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.Username, u.PasswordHash, u.Status, u.VaultSalt,
		u.DisplayName, nullable(u.Email), boolInt(u.IsAdmin), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.CodeConflict, "username %q already exists", u.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// GetUserByUsername loads a user by unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserStatus changes a user lifecycle status.
func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE user_id = ?`,
		status, NowUTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return requireRow(res, "user")
}

// DeleteUser removes a user; clients, sessions, credentials and
// subscriptions cascade via foreign keys.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRow(res, "user")
}

// helpers shared across entity files

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.CodeNotFound, "%s not found", entity)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
