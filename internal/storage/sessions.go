package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

const sessionColumns = `session_id, user_id, COALESCE(client_id, ''),
	status, issued_at, expires_at, hmac_signature`

func scanSession(row interface{ Scan(...any) error }) (*UserSession, error) {
	var sess UserSession
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.ClientID,
		&sess.Status, &sess.IssuedAt, &sess.ExpiresAt, &sess.HmacSignature)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts a signed session row.
func (s *Store) CreateSession(ctx context.Context, sess *UserSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_sessions
		(session_id, user_id, client_id, status, issued_at, expires_at, hmac_signature)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, nullable(sess.ClientID), sess.Status,
		sess.IssuedAt, sess.ExpiresAt, sess.HmacSignature)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*UserSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// UpdateSessionStatus transitions a session lifecycle state.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET status = ? WHERE session_id = ?`, status, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireRow(res, "session")
}

// ExtendSession pushes a session expiry forward (heartbeat) and marks it
// active again.
func (s *Store) ExtendSession(ctx context.Context, sessionID, expiresAt string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET expires_at = ?, status = 'active' WHERE session_id = ?`,
		expiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return requireRow(res, "session")
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(res, "session")
}

// ExpireSessionsBefore marks every session whose expiry precedes cutoff as
// expired and returns the affected user IDs so per-user pools can be torn
// down.
func (s *Store) ExpireSessionsBefore(ctx context.Context, cutoff string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM user_sessions
		WHERE expires_at < ? AND status != 'expired'`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find expiring sessions: %w", err)
	}
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		users = append(users, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE user_sessions SET status = 'expired'
		WHERE expires_at < ? AND status != 'expired'`, cutoff); err != nil {
		return nil, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return users, nil
}

// ListSessionsByUser returns a user's sessions ordered by issue time.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]*UserSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = ? ORDER BY issued_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*UserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
