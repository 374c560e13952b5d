package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

// GetActiveAdminKey loads the single active admin key row, if any.
func (s *Store) GetActiveAdminKey(ctx context.Context) (*AdminKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, key_hash, recovery_token_hash,
		is_active, created_at, COALESCE(rotated_at, '')
		FROM admin_keys WHERE is_active = 1`)
	var k AdminKey
	var active int
	err := row.Scan(&k.ID, &k.KeyHash, &k.RecoveryTokenHash, &active,
		&k.CreatedAt, &k.RotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "no active admin key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin key: %w", err)
	}
	k.IsActive = active != 0
	return &k, nil
}

// InsertAdminKey inserts an active admin key row. Fails with conflict when
// an active row already exists (enforced by a partial unique index).
func (s *Store) InsertAdminKey(ctx context.Context, k *AdminKey) error {
	k.CreatedAt = NowUTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO admin_keys
		(id, key_hash, recovery_token_hash, is_active, created_at, rotated_at)
		VALUES (?, ?, ?, 1, ?, NULL)`,
		k.ID, k.KeyHash, k.RecoveryTokenHash, k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeConflict, "an active admin key already exists")
		}
		return fmt.Errorf("failed to insert admin key: %w", err)
	}
	k.IsActive = true
	return nil
}

// UpdateAdminKeyHashes updates the hashes on an existing row in place,
// preserving its id, and stamps rotated_at. Used by recovery and rotation.
func (s *Store) UpdateAdminKeyHashes(ctx context.Context, id, keyHash, recoveryTokenHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE admin_keys
		SET key_hash = ?, recovery_token_hash = ?, rotated_at = ?
		WHERE id = ? AND is_active = 1`,
		keyHash, recoveryTokenHash, NowUTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update admin key: %w", err)
	}
	return requireRow(res, "admin key")
}

// DeactivateAllAdminKeys marks every admin key row inactive. Prior rows are
// kept for audit. Used by factory reset.
func (s *Store) DeactivateAllAdminKeys(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE admin_keys SET is_active = 0 WHERE is_active = 1`)
	if err != nil {
		return fmt.Errorf("failed to deactivate admin keys: %w", err)
	}
	return nil
}

// CountActiveAdminKeys returns the number of active rows; the invariant is
// that this is always 0 or 1.
func (s *Store) CountActiveAdminKeys(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_keys WHERE is_active = 1`).Scan(&n)
	return n, err
}
