package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

// CredentialStore is the storage slice the credential service needs.
type CredentialStore interface {
	GetUser(ctx context.Context, userID string) (*storage.User, error)
	UpsertCredential(ctx context.Context, c *storage.UserMcpCredential) error
	GetCredential(ctx context.Context, userID, mcpID string) (*storage.UserMcpCredential, error)
	DeleteCredential(ctx context.Context, userID, mcpID string) error
}

// credentialKeyRe matches names safe to inject as env vars or headers.
var credentialKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,127}$`)

// CredentialService stores per-user downstream credentials through the
// vault. Plaintext exists only in memory between decrypt and injection.
type CredentialService struct {
	vault  *Vault
	store  CredentialStore
	logger *zap.Logger
}

// NewCredentialService builds a credential service.
func NewCredentialService(v *Vault, store CredentialStore, logger *zap.Logger) *CredentialService {
	return &CredentialService{vault: v, store: store, logger: logger.Named("credentials")}
}

// credentialSchema is the subset of JSON Schema the catalog uses to
// describe required credential fields.
type credentialSchema struct {
	Type     string                     `json:"type"`
	Required []string                   `json:"required"`
	Props    map[string]json.RawMessage `json:"properties"`
}

// checkAgainstSchema enforces the catalog's credential_schema: required
// fields present, no unknown fields when properties are declared.
func checkAgainstSchema(creds map[string]string, schemaJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	var schema credentialSchema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return apperr.Wrap(apperr.CodeValidationError, "invalid credential schema", err)
	}
	for _, name := range schema.Required {
		if _, ok := creds[name]; !ok {
			return apperr.Newf(apperr.CodeMissingRequiredArg, "credential field %s is required", name)
		}
	}
	if len(schema.Props) > 0 {
		for name := range creds {
			if _, ok := schema.Props[name]; !ok {
				return apperr.Newf(apperr.CodeValidationError, "unknown credential field %s", name)
			}
		}
	}
	return nil
}

// Put validates, encrypts and stores a user's credentials for one MCP.
// Callers must terminate the user's running instances afterwards so stale
// secrets stop being used.
func (s *CredentialService) Put(ctx context.Context, userID string, entry *storage.McpCatalogEntry, creds map[string]string) error {
	if len(creds) == 0 {
		return apperr.New(apperr.CodeValidationError, "credentials must not be empty")
	}
	for name := range creds {
		if !credentialKeyRe.MatchString(name) {
			return apperr.Newf(apperr.CodeValidationError, "invalid credential field name %q", name)
		}
		if validate.IsBlockedEnvVar(name) {
			return apperr.Newf(apperr.CodeValidationError, "credential field %q is not allowed", name)
		}
	}
	if err := checkAgainstSchema(creds, entry.CredentialSchema); err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	defer Zero(plaintext)

	ciphertext, iv, err := s.vault.Encrypt(user.VaultSalt, plaintext)
	if err != nil {
		return err
	}

	err = s.store.UpsertCredential(ctx, &storage.UserMcpCredential{
		CredentialID:         uuid.NewString(),
		UserID:               userID,
		McpID:                entry.McpID,
		EncryptedCredentials: ciphertext,
		EncryptionIV:         iv,
	})
	if err != nil {
		return err
	}
	s.logger.Info("stored user credentials",
		zap.String("user_id", userID),
		zap.String("mcp_id", entry.McpID),
		zap.Int("fields", len(creds)))
	return nil
}

// Materialize decrypts the user's credentials for injection into a
// per-user instance.
func (s *CredentialService) Materialize(ctx context.Context, userID string, entry *storage.McpCatalogEntry) (map[string]string, error) {
	row, err := s.store.GetCredential(ctx, userID, entry.McpID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, apperr.Newf(apperr.CodeNotFound,
				"no credentials stored for mcp %s", entry.Name)
		}
		return nil, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.vault.Decrypt(user.VaultSalt, row.EncryptedCredentials, row.EncryptionIV)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "credential decryption failed", err)
	}
	defer Zero(plaintext)

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "stored credentials are corrupt", err)
	}
	return creds, nil
}

// Delete removes the user's credentials for one MCP.
func (s *CredentialService) Delete(ctx context.Context, userID, mcpID string) error {
	return s.store.DeleteCredential(ctx, userID, mcpID)
}

// Has reports whether credentials exist for (user, mcp) without
// decrypting anything.
func (s *CredentialService) Has(ctx context.Context, userID, mcpID string) (bool, error) {
	_, err := s.store.GetCredential(ctx, userID, mcpID)
	if apperr.Is(err, apperr.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
