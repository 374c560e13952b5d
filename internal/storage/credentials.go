package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

// UpsertCredential stores (or replaces) a user's encrypted credential blob
// for one MCP.
func (s *Store) UpsertCredential(ctx context.Context, c *UserMcpCredential) error {
	now := NowUTC()
	if c.CreatedAt == "" {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_mcp_credentials
		(credential_id, user_id, mcp_id, encrypted_credentials, encryption_iv, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, mcp_id) DO UPDATE SET
			encrypted_credentials = excluded.encrypted_credentials,
			encryption_iv = excluded.encryption_iv,
			updated_at = excluded.updated_at`,
		c.CredentialID, c.UserID, c.McpID, c.EncryptedCredentials,
		c.EncryptionIV, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential loads the encrypted credential blob for (user, mcp).
func (s *Store) GetCredential(ctx context.Context, userID, mcpID string) (*UserMcpCredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT credential_id, user_id, mcp_id,
		encrypted_credentials, encryption_iv, created_at, updated_at
		FROM user_mcp_credentials WHERE user_id = ? AND mcp_id = ?`, userID, mcpID)
	var c UserMcpCredential
	err := row.Scan(&c.CredentialID, &c.UserID, &c.McpID,
		&c.EncryptedCredentials, &c.EncryptionIV, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "credential not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &c, nil
}

// DeleteCredential removes the credential for (user, mcp).
func (s *Store) DeleteCredential(ctx context.Context, userID, mcpID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_mcp_credentials WHERE user_id = ? AND mcp_id = ?`, userID, mcpID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return requireRow(res, "credential")
}

// CredentialRow pairs a credential with the owning user's vault salt, for
// master-key rotation.
type CredentialRow struct {
	CredentialID string
	VaultSalt    []byte
	Ciphertext   []byte
	IV           []byte
}

// ListCredentialRowsTx reads every credential row with its owner's salt
// inside an open rotation transaction.
func ListCredentialRowsTx(ctx context.Context, tx *sql.Tx) ([]CredentialRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT c.credential_id, u.vault_salt,
		c.encrypted_credentials, c.encryption_iv
		FROM user_mcp_credentials c
		JOIN users u ON u.user_id = c.user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CredentialRow
	for rows.Next() {
		var r CredentialRow
		if err := rows.Scan(&r.CredentialID, &r.VaultSalt, &r.Ciphertext, &r.IV); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateCredentialCiphertextTx rewrites one row's ciphertext inside the
// rotation transaction.
func UpdateCredentialCiphertextTx(ctx context.Context, tx *sql.Tx, credentialID string, ciphertext, iv []byte) error {
	_, err := tx.ExecContext(ctx, `UPDATE user_mcp_credentials
		SET encrypted_credentials = ?, encryption_iv = ?, updated_at = ?
		WHERE credential_id = ?`,
		ciphertext, iv, NowUTC(), credentialID)
	if err != nil {
		return fmt.Errorf("failed to rewrite credential %s: %w", credentialID, err)
	}
	return nil
}
