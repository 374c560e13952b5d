package server

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/aaa"
	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/config"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/session"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/vault"
)

func TestNewBuildsComponentGraph(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"

	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, s.httpServer)
	require.NotNil(t, s.reloader)
	require.NoError(t, s.store.Close())
}

func authFixture(t *testing.T) (*compositeAuth, *storage.Store, *session.Manager, string) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := storage.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.NewManager(store, []byte("test-session-secret-0123456789ab"), time.Hour, logger)
	t.Cleanup(sessions.Stop)

	authenticator, err := keys.NewAuthenticator(store, logger)
	require.NoError(t, err)

	salt, err := vault.NewSalt()
	require.NoError(t, err)
	userID := uuid.NewString()
	require.NoError(t, store.CreateUser(context.Background(), &storage.User{
		UserID:       userID,
		Username:     "bob",
		PasswordHash: "x",
		Status:       storage.UserStatusActive,
		VaultSalt:    salt,
	}))

	return &compositeAuth{apiKeys: authenticator, sessions: sessions, store: store}, store, sessions, userID
}

func TestCompositeAuthBearerCarriesClientProfile(t *testing.T) {
	auth, store, sessions, userID := authFixture(t)

	fullKey, prefix, err := keys.Generate(keys.PrefixClientKey)
	require.NoError(t, err)
	hash, err := keys.Hash(fullKey)
	require.NoError(t, err)
	require.NoError(t, store.CreateClient(context.Background(), &storage.Client{
		ClientID:   uuid.NewString(),
		ClientName: "cli-1",
		KeyPrefix:  prefix,
		KeyHash:    hash,
		UserID:     userID,
		ProfileID:  "prof-1",
		Status:     storage.ClientStatusActive,
	}))

	token, _, err := sessions.Register(context.Background(), fullKey, "cli-1", userID)
	require.NoError(t, err)

	sc, err := auth.Authenticate(context.Background(), aaa.AuthInputs{BearerToken: token})
	require.NoError(t, err)
	assert.Equal(t, userID, sc.UserID)
	assert.Equal(t, "session_token", sc.AuthMethod)
	assert.Equal(t, "prof-1", sc.ProfileID())
}

func TestCompositeAuthWebSessionHasNoProfile(t *testing.T) {
	auth, store, sessions, userID := authFixture(t)

	// Web login issues sessions not bound to a client.
	hash, err := keys.Hash("correct horse battery staple")
	require.NoError(t, err)
	_, err = store.DB().ExecContext(context.Background(),
		`UPDATE users SET password_hash = ? WHERE user_id = ?`, hash, userID)
	require.NoError(t, err)

	token, _, err := sessions.Login(context.Background(), "bob", "correct horse battery staple")
	require.NoError(t, err)

	sc, err := auth.Authenticate(context.Background(), aaa.AuthInputs{BearerToken: token})
	require.NoError(t, err)
	assert.Empty(t, sc.ClientID)
	assert.Empty(t, sc.ProfileID())
}

func TestCompositeAuthMissingCredentials(t *testing.T) {
	auth, _, _, _ := authFixture(t)
	_, err := auth.Authenticate(context.Background(), aaa.AuthInputs{})
	assert.Equal(t, apperr.CodeMissingCredentials, apperr.CodeOf(err))
}
