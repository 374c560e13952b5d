package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// RecoveryTokenFilename holds the current recovery token plaintext, readable
// only by the owner.
const RecoveryTokenFilename = ".recovery-token"

// AdminStore is the slice of storage the admin-key service needs.
type AdminStore interface {
	GetActiveAdminKey(ctx context.Context) (*storage.AdminKey, error)
	InsertAdminKey(ctx context.Context, k *storage.AdminKey) error
	UpdateAdminKeyHashes(ctx context.Context, id, keyHash, recoveryTokenHash string) error
	DeactivateAllAdminKeys(ctx context.Context) error
}

// AdminKeyService manages the single active admin key and its recovery
// token.
type AdminKeyService struct {
	store   AdminStore
	dataDir string
	logger  *zap.Logger
}

// NewAdminKeyService builds the service around a data directory.
func NewAdminKeyService(store AdminStore, dataDir string, logger *zap.Logger) *AdminKeyService {
	return &AdminKeyService{store: store, dataDir: dataDir, logger: logger}
}

func (s *AdminKeyService) tokenPath() string {
	return filepath.Join(s.dataDir, RecoveryTokenFilename)
}

func (s *AdminKeyService) writeRecoveryToken(token string) error {
	path := s.tokenPath()
	// The file is 0400; remove any previous copy before rewriting.
	_ = os.Remove(path)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o400); err != nil {
		return fmt.Errorf("failed to write recovery token file: %w", err)
	}
	return nil
}

func newAdminPair() (adminKey, keyHash, recoveryToken, tokenHash string, err error) {
	adminKey, _, err = Generate(PrefixAdminKey)
	if err != nil {
		return "", "", "", "", err
	}
	keyHash, err = Hash(adminKey)
	if err != nil {
		return "", "", "", "", err
	}
	recoveryToken, _, err = Generate(PrefixRecoveryToken)
	if err != nil {
		return "", "", "", "", err
	}
	tokenHash, err = Hash(recoveryToken)
	if err != nil {
		return "", "", "", "", err
	}
	return adminKey, keyHash, recoveryToken, tokenHash, nil
}

// GenerateResult carries the plaintext values shown exactly once.
type GenerateResult struct {
	AdminKey      string
	RecoveryToken string
	KeyID         string
}

// Generate creates the initial admin key. It fails with conflict when an
// active key already exists; use Recover or Rotate instead.
func (s *AdminKeyService) Generate(ctx context.Context) (*GenerateResult, error) {
	adminKey, keyHash, recoveryToken, tokenHash, err := newAdminPair()
	if err != nil {
		return nil, err
	}
	row := &storage.AdminKey{
		ID:                uuid.NewString(),
		KeyHash:           keyHash,
		RecoveryTokenHash: tokenHash,
	}
	if err := s.store.InsertAdminKey(ctx, row); err != nil {
		return nil, err
	}
	if err := s.writeRecoveryToken(recoveryToken); err != nil {
		return nil, err
	}
	s.logger.Info("admin key generated", zap.String("key_id", row.ID))
	return &GenerateResult{AdminKey: adminKey, RecoveryToken: recoveryToken, KeyID: row.ID}, nil
}

// VerifyAdminKey checks a presented admin key against the active row.
func (s *AdminKeyService) VerifyAdminKey(ctx context.Context, adminKey string) error {
	if adminKey == "" {
		return apperr.New(apperr.CodeMissingCredentials, "missing admin key")
	}
	if err := CheckFormat(adminKey, PrefixAdminKey); err != nil {
		return apperr.New(apperr.CodeInvalidFormat, "malformed admin key")
	}
	row, err := s.store.GetActiveAdminKey(ctx)
	if err != nil {
		return apperr.New(apperr.CodeInvalidCredentials, "invalid admin key")
	}
	ok, err := Verify(adminKey, row.KeyHash)
	if err != nil || !ok {
		return apperr.New(apperr.CodeInvalidCredentials, "invalid admin key")
	}
	return nil
}

// Recover replaces a lost admin key using the recovery token. The database
// row keeps its id; only the key hash changes, and rotated_at is stamped.
func (s *AdminKeyService) Recover(ctx context.Context, recoveryToken, sourceIP string) (string, error) {
	if err := CheckFormat(recoveryToken, PrefixRecoveryToken); err != nil {
		return "", apperr.New(apperr.CodeInvalidFormat, "malformed recovery token")
	}
	row, err := s.store.GetActiveAdminKey(ctx)
	if err != nil {
		return "", apperr.New(apperr.CodeInvalidCredentials, "invalid recovery token")
	}
	ok, err := Verify(recoveryToken, row.RecoveryTokenHash)
	if err != nil || !ok {
		s.logger.Warn("admin key recovery rejected", zap.String("source_ip", sourceIP))
		return "", apperr.New(apperr.CodeInvalidCredentials, "invalid recovery token")
	}

	adminKey, _, err := Generate(PrefixAdminKey)
	if err != nil {
		return "", err
	}
	keyHash, err := Hash(adminKey)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateAdminKeyHashes(ctx, row.ID, keyHash, row.RecoveryTokenHash); err != nil {
		return "", err
	}
	s.logger.Info("admin key recovered", zap.String("key_id", row.ID), zap.String("source_ip", sourceIP))
	return adminKey, nil
}

// Rotate replaces both the admin key and the recovery token. Both current
// values must verify; on any failure the old pair stays valid.
func (s *AdminKeyService) Rotate(ctx context.Context, adminKey, recoveryToken string) (*GenerateResult, error) {
	if err := s.VerifyAdminKey(ctx, adminKey); err != nil {
		return nil, err
	}
	row, err := s.store.GetActiveAdminKey(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := Verify(recoveryToken, row.RecoveryTokenHash)
	if err != nil || !ok {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid recovery token")
	}

	newKey, keyHash, newToken, tokenHash, err := newAdminPair()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAdminKeyHashes(ctx, row.ID, keyHash, tokenHash); err != nil {
		return nil, err
	}
	if err := s.writeRecoveryToken(newToken); err != nil {
		return nil, err
	}
	s.logger.Info("admin key rotated", zap.String("key_id", row.ID))
	return &GenerateResult{AdminKey: newKey, RecoveryToken: newToken, KeyID: row.ID}, nil
}

// FactoryReset deactivates every existing admin key row, inserts a fresh
// one, and rewrites the recovery token file. Prior rows are kept for audit.
func (s *AdminKeyService) FactoryReset(ctx context.Context) (*GenerateResult, error) {
	if err := s.store.DeactivateAllAdminKeys(ctx); err != nil {
		return nil, err
	}
	adminKey, keyHash, recoveryToken, tokenHash, err := newAdminPair()
	if err != nil {
		return nil, err
	}
	row := &storage.AdminKey{
		ID:                uuid.NewString(),
		KeyHash:           keyHash,
		RecoveryTokenHash: tokenHash,
	}
	if err := s.store.InsertAdminKey(ctx, row); err != nil {
		return nil, err
	}
	if err := s.writeRecoveryToken(recoveryToken); err != nil {
		return nil, err
	}
	s.logger.Warn("admin key factory reset", zap.String("key_id", row.ID))
	return &GenerateResult{AdminKey: adminKey, RecoveryToken: recoveryToken, KeyID: row.ID}, nil
}
