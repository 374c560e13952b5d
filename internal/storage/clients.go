package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

const clientColumns = `client_id, client_name, key_prefix, key_hash, user_id,
	COALESCE(profile_id, ''), status, created_at, COALESCE(expires_at, ''),
	COALESCE(last_used_at, ''), metadata`

func scanClient(row interface{ Scan(...any) error }) (*Client, error) {
	var c Client
	err := row.Scan(&c.ClientID, &c.ClientName, &c.KeyPrefix, &c.KeyHash,
		&c.UserID, &c.ProfileID, &c.Status, &c.CreatedAt, &c.ExpiresAt,
		&c.LastUsedAt, &c.Metadata)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClient inserts a new API-key holder.
func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	c.CreatedAt = NowUTC()
	if c.Metadata == "" {
		c.Metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO clients
		(client_id, client_name, key_prefix, key_hash, user_id, profile_id, status, created_at, expires_at, last_used_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		c.ClientID, c.ClientName, c.KeyPrefix, c.KeyHash, c.UserID,
		nullable(c.ProfileID), c.Status, c.CreatedAt, nullable(c.ExpiresAt), c.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeConflict, "client already exists")
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient loads a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE client_id = ?`, clientID)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return c, nil
}

// ListClientsByUser returns the clients belonging to one user.
func (s *Store) ListClientsByUser(ctx context.Context, userID string) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// RotateClientKey atomically replaces a client's key hash and prefix. The
// old key stops verifying the moment the transaction commits.
func (s *Store) RotateClientKey(ctx context.Context, clientID, keyPrefix, keyHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET key_prefix = ?, key_hash = ? WHERE client_id = ?`,
		keyPrefix, keyHash, clientID)
	if err != nil {
		return fmt.Errorf("failed to rotate client key: %w", err)
	}
	return requireRow(res, "client")
}

// UpdateClientStatus changes a client lifecycle status.
func (s *Store) UpdateClientStatus(ctx context.Context, clientID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET status = ? WHERE client_id = ?`, status, clientID)
	if err != nil {
		return fmt.Errorf("failed to update client status: %w", err)
	}
	return requireRow(res, "client")
}

// TouchClientLastUsed records key usage. Called fire-and-forget; losing an
// update is acceptable, losing the client is not.
func (s *Store) TouchClientLastUsed(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clients SET last_used_at = ? WHERE client_id = ?`, NowUTC(), clientID)
	return err
}

// DeleteClient removes a client; subscriptions cascade.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireRow(res, "client")
}
