package keys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

func TestGenerateFormat(t *testing.T) {
	full, prefix, err := Generate(PrefixClientKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, "amb_sk_"))
	assert.Len(t, full, len("amb_sk_")+48)
	assert.Len(t, prefix, KeyPrefixLen)
	assert.Equal(t, LookupPrefix(full, PrefixClientKey), prefix)
	assert.NoError(t, CheckFormat(full, PrefixClientKey))
}

func TestGenerateUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		full, _, err := Generate(PrefixClientKey)
		require.NoError(t, err)
		assert.False(t, seen[full])
		seen[full] = true
	}
	assert.Len(t, seen, 100)
}

func TestCheckFormatRejects(t *testing.T) {
	full, _, err := Generate(PrefixClientKey)
	require.NoError(t, err)

	assert.Error(t, CheckFormat(full+"x", PrefixClientKey), "wrong length")
	assert.Error(t, CheckFormat(full[:len(full)-1], PrefixClientKey))
	assert.Error(t, CheckFormat(strings.Replace(full, "amb_sk", "amb_ak", 1), PrefixClientKey))
	assert.Error(t, CheckFormat("", PrefixClientKey))

	bad := "amb_sk_" + strings.Repeat("!", 48)
	assert.Error(t, CheckFormat(bad, PrefixClientKey), "non-base64url suffix")
}

func TestHashVerify(t *testing.T) {
	full, _, err := Generate(PrefixAdminKey)
	require.NoError(t, err)

	encoded, err := Hash(full)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))
	assert.Contains(t, encoded, "m=19456,t=2,p=1")

	ok, err := Verify(full, encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	other, _, err := Generate(PrefixAdminKey)
	require.NoError(t, err)
	ok, err = Verify(other, encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(full, "not-a-hash")
	assert.Error(t, err)
}

type authStore struct {
	*storage.Store
}

func newAuthFixture(t *testing.T) (*Authenticator, *storage.Store, *storage.User, *storage.Client, string) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u := &storage.User{
		UserID:       uuid.NewString(),
		Username:     "alice",
		PasswordHash: "x",
		Status:       storage.UserStatusActive,
		VaultSalt:    make([]byte, 32),
	}
	require.NoError(t, store.CreateUser(context.Background(), u))

	fullKey, keyPrefix, err := Generate(PrefixClientKey)
	require.NoError(t, err)
	keyHash, err := Hash(fullKey)
	require.NoError(t, err)

	c := &storage.Client{
		ClientID:   uuid.NewString(),
		ClientName: "vscode",
		KeyPrefix:  keyPrefix,
		KeyHash:    keyHash,
		UserID:     u.UserID,
		Status:     storage.ClientStatusActive,
	}
	require.NoError(t, store.CreateClient(context.Background(), c))

	auth, err := NewAuthenticator(authStore{store}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return auth, store, u, c, fullKey
}

func TestAuthenticateHappyPath(t *testing.T) {
	auth, _, u, c, key := newAuthFixture(t)

	sess, err := auth.Authenticate(context.Background(), key, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, c.ClientID, sess.ClientID)
	assert.Equal(t, u.UserID, sess.UserID)
	assert.Equal(t, "api_key", sess.AuthMethod)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, time.Hour, sess.ExpiresAt.Sub(sess.IssuedAt))
}

func TestAuthenticateRejections(t *testing.T) {
	auth, store, _, c, key := newAuthFixture(t)
	ctx := context.Background()

	_, err := auth.Authenticate(ctx, "", "")
	assert.Equal(t, apperr.CodeMissingCredentials, apperr.CodeOf(err))

	_, err = auth.Authenticate(ctx, "amb_sk_tooshort", c.ClientID)
	assert.Equal(t, apperr.CodeInvalidFormat, apperr.CodeOf(err))

	_, err = auth.Authenticate(ctx, key, "not-a-uuid")
	assert.Equal(t, apperr.CodeInvalidFormat, apperr.CodeOf(err))

	_, err = auth.Authenticate(ctx, key, uuid.NewString())
	assert.Equal(t, apperr.CodeInvalidCredentials, apperr.CodeOf(err), "unknown client")

	wrongKey, _, err := Generate(PrefixClientKey)
	require.NoError(t, err)
	_, err = auth.Authenticate(ctx, wrongKey, c.ClientID)
	assert.Equal(t, apperr.CodeInvalidCredentials, apperr.CodeOf(err))

	require.NoError(t, store.UpdateClientStatus(ctx, c.ClientID, storage.ClientStatusSuspended))
	_, err = auth.Authenticate(ctx, key, c.ClientID)
	assert.Equal(t, apperr.CodeClientSuspended, apperr.CodeOf(err))
}

func TestAdminKeyLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	svc := NewAdminKeyService(store, dir, zaptest.NewLogger(t))
	ctx := context.Background()

	gen, err := svc.Generate(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gen.AdminKey, "amb_ak_"))
	assert.True(t, strings.HasPrefix(gen.RecoveryToken, "amb_rt_"))

	info, err := os.Stat(filepath.Join(dir, RecoveryTokenFilename))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())

	// Second generate is refused while a key is active.
	_, err = svc.Generate(ctx)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	require.NoError(t, svc.VerifyAdminKey(ctx, gen.AdminKey))
	assert.Error(t, svc.VerifyAdminKey(ctx, "amb_ak_"+strings.Repeat("A", 48)))

	// Recovery: same row id, rotated_at stamped, old key dead.
	recovered, err := svc.Recover(ctx, gen.RecoveryToken, "203.0.113.9")
	require.NoError(t, err)
	row, err := store.GetActiveAdminKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen.KeyID, row.ID)
	assert.NotEmpty(t, row.RotatedAt)
	require.NoError(t, svc.VerifyAdminKey(ctx, recovered))
	assert.Error(t, svc.VerifyAdminKey(ctx, gen.AdminKey))

	// Recovery does not invalidate the recovery token itself.
	wrongToken, _, err := Generate(PrefixRecoveryToken)
	require.NoError(t, err)
	_, err = svc.Rotate(ctx, recovered, wrongToken)
	require.Error(t, err, "rotation with a wrong recovery token must fail")
	require.NoError(t, svc.VerifyAdminKey(ctx, recovered), "failed rotation preserves the old key")

	rotated, err := svc.Rotate(ctx, recovered, gen.RecoveryToken)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAdminKey(ctx, rotated.AdminKey))
}

func TestAdminKeyRotateAndFactoryReset(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	svc := NewAdminKeyService(store, dir, zaptest.NewLogger(t))
	ctx := context.Background()

	gen, err := svc.Generate(ctx)
	require.NoError(t, err)

	rotated, err := svc.Rotate(ctx, gen.AdminKey, gen.RecoveryToken)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAdminKey(ctx, rotated.AdminKey))
	assert.Error(t, svc.VerifyAdminKey(ctx, gen.AdminKey))
	assert.Equal(t, gen.KeyID, rotated.KeyID)

	reset, err := svc.FactoryReset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, rotated.KeyID, reset.KeyID)
	require.NoError(t, svc.VerifyAdminKey(ctx, reset.AdminKey))
	assert.Error(t, svc.VerifyAdminKey(ctx, rotated.AdminKey))

	n, err := store.CountActiveAdminKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
