package vault

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

func newCredentialFixture(t *testing.T) (*CredentialService, *storage.Store, string, *storage.McpCatalogEntry) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	master := make([]byte, MasterKeySize)
	_, err = rand.Read(master)
	require.NoError(t, err)
	v, err := New(master)
	require.NoError(t, err)

	svc := NewCredentialService(v, store, zaptest.NewLogger(t))

	salt, err := NewSalt()
	require.NoError(t, err)
	user := &storage.User{
		UserID:    uuid.NewString(),
		Username:  "carol",
		Status:    storage.UserStatusActive,
		VaultSalt: salt,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))

	entry := &storage.McpCatalogEntry{
		McpID:                   uuid.NewString(),
		Name:                    "notes",
		TransportType:           storage.TransportStdio,
		Config:                  `{"command":["notes-server"]}`,
		IsolationMode:           storage.IsolationPerUser,
		RequiresUserCredentials: true,
		CredentialSchema:        `{"type":"object","required":["API_TOKEN"],"properties":{"API_TOKEN":{"type":"string"},"REGION":{"type":"string"}}}`,
		ValidationStatus:        "valid",
		Status:                  storage.McpStatusPublished,
		AuthType:                "static",
	}
	require.NoError(t, store.CreateCatalogEntry(context.Background(), entry))
	return svc, store, user.UserID, entry
}

func TestCredentialRoundTrip(t *testing.T) {
	svc, _, userID, entry := newCredentialFixture(t)
	ctx := context.Background()

	creds := map[string]string{"API_TOKEN": "tok-secret", "REGION": "eu-1"}
	require.NoError(t, svc.Put(ctx, userID, entry, creds))

	got, err := svc.Materialize(ctx, userID, entry)
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	ok, err := svc.Has(ctx, userID, entry.McpID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCredentialPlaintextNeverPersisted(t *testing.T) {
	svc, store, userID, entry := newCredentialFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, userID, entry, map[string]string{"API_TOKEN": "tok-secret"}))

	row, err := store.GetCredential(ctx, userID, entry.McpID)
	require.NoError(t, err)
	assert.NotContains(t, string(row.EncryptedCredentials), "tok-secret")
	assert.NotEmpty(t, row.EncryptionIV)
}

func TestCredentialSchemaEnforced(t *testing.T) {
	svc, _, userID, entry := newCredentialFixture(t)
	ctx := context.Background()

	err := svc.Put(ctx, userID, entry, map[string]string{"REGION": "eu-1"})
	assert.Equal(t, apperr.CodeMissingRequiredArg, apperr.CodeOf(err))

	err = svc.Put(ctx, userID, entry, map[string]string{"API_TOKEN": "t", "EXTRA": "x"})
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
}

func TestCredentialRejectsDangerousNames(t *testing.T) {
	svc, _, userID, entry := newCredentialFixture(t)
	entry.CredentialSchema = ""
	ctx := context.Background()

	for _, name := range []string{"LD_PRELOAD", "PATH", "NODE_OPTIONS", "has space", ""} {
		err := svc.Put(ctx, userID, entry, map[string]string{name: "x"})
		assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err), name)
	}

	err := svc.Put(ctx, userID, entry, nil)
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
}

func TestCredentialUpdateReplaces(t *testing.T) {
	svc, _, userID, entry := newCredentialFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, userID, entry, map[string]string{"API_TOKEN": "old"}))
	require.NoError(t, svc.Put(ctx, userID, entry, map[string]string{"API_TOKEN": "new"}))

	got, err := svc.Materialize(ctx, userID, entry)
	require.NoError(t, err)
	assert.Equal(t, "new", got["API_TOKEN"])
}

func TestCredentialDeleteAndMiss(t *testing.T) {
	svc, _, userID, entry := newCredentialFixture(t)
	ctx := context.Background()

	_, err := svc.Materialize(ctx, userID, entry)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	require.NoError(t, svc.Put(ctx, userID, entry, map[string]string{"API_TOKEN": "tok"}))
	require.NoError(t, svc.Delete(ctx, userID, entry.McpID))

	ok, err := svc.Has(ctx, userID, entry.McpID)
	require.NoError(t, err)
	assert.False(t, ok)
}
