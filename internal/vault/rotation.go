package vault

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// RotateMasterKey replaces the master key with a freshly generated one.
func RotateMasterKey(ctx context.Context, v *Vault, store *storage.Store, dataDir string, logger *zap.Logger) error {
	newKey := make([]byte, MasterKeySize)
	if _, err := rand.Read(newKey); err != nil {
		return fmt.Errorf("failed to generate new master key: %w", err)
	}
	defer Zero(newKey)
	return RotateMasterKeyTo(ctx, v, store, dataDir, newKey, logger)
}

// RotateMasterKeyTo replaces the master key end to end: stage the new key
// file, re-encrypt every credential row inside one transaction, commit the
// rename, then swap the live vault. Readers either see all old ciphertexts
// with the old key or all new ciphertexts with the new key, never a mix.
func RotateMasterKeyTo(ctx context.Context, v *Vault, store *storage.Store, dataDir string, newKey []byte, logger *zap.Logger) (err error) {
	if len(newKey) != MasterKeySize {
		return fmt.Errorf("master key must be %d bytes", MasterKeySize)
	}

	if _, err := StageMasterKey(dataDir, newKey); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			DiscardStagedKey(dataDir)
		}
	}()

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := storage.ListCredentialRowsTx(ctx, tx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ciphertext, iv, err := v.ReEncrypt(row.VaultSalt, row.Ciphertext, row.IV, newKey)
			if err != nil {
				return fmt.Errorf("re-encryption of credential %s failed: %w", row.CredentialID, err)
			}
			if err := storage.UpdateCredentialCiphertextTx(ctx, tx, row.CredentialID, ciphertext, iv); err != nil {
				return err
			}
		}
		logger.Info("re-encrypted credential rows", zap.Int("count", len(rows)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("master key rotation rolled back: %w", err)
	}

	if err = CommitMasterKey(dataDir); err != nil {
		return err
	}
	if err = v.UpdateMasterKey(newKey); err != nil {
		return err
	}
	logger.Info("credential master key rotated")
	return nil
}
