package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSalt() []byte {
	return make([]byte, 32)
}

func seedUser(t *testing.T, store *Store, username string) *User {
	t.Helper()
	u := &User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: "argon2id$stub",
		Status:       UserStatusActive,
		VaultSalt:    testSalt(),
		DisplayName:  username,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func seedClient(t *testing.T, store *Store, userID string) *Client {
	t.Helper()
	c := &Client{
		ClientID:   uuid.NewString(),
		ClientName: "vscode",
		KeyPrefix:  uuid.NewString()[:8],
		KeyHash:    "argon2id$" + uuid.NewString(),
		UserID:     userID,
		Status:     ClientStatusActive,
	}
	require.NoError(t, store.CreateClient(context.Background(), c))
	return c
}

func seedMcp(t *testing.T, store *Store, name, status string) *McpCatalogEntry {
	t.Helper()
	e := &McpCatalogEntry{
		McpID:         uuid.NewString(),
		Name:          name,
		DisplayName:   name,
		TransportType: TransportStdio,
		Config:        `{"command":"echo"}`,
		IsolationMode: IsolationShared,
		AuthType:      "none",
		Status:        status,
	}
	require.NoError(t, store.CreateCatalogEntry(context.Background(), e))
	return e
}

func TestUserCRUDAndUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "alice")

	loaded, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, loaded.UserID)
	assert.Equal(t, UserStatusActive, loaded.Status)

	dup := &User{
		UserID:       uuid.NewString(),
		Username:     "alice",
		PasswordHash: "x",
		Status:       UserStatusActive,
		VaultSalt:    testSalt(),
	}
	err = store.CreateUser(ctx, dup)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	bad := &User{UserID: uuid.NewString(), Username: "Not Valid!", VaultSalt: testSalt()}
	err = store.CreateUser(ctx, bad)
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
}

func TestUserDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "bob")
	c := seedClient(t, store, u.UserID)
	mcp := seedMcp(t, store, "files", McpStatusPublished)

	require.NoError(t, store.CreateSubscription(ctx, &Subscription{
		SubscriptionID: uuid.NewString(),
		ClientID:       c.ClientID,
		McpID:          mcp.McpID,
	}))
	require.NoError(t, store.UpsertCredential(ctx, &UserMcpCredential{
		CredentialID:         uuid.NewString(),
		UserID:               u.UserID,
		McpID:                mcp.McpID,
		EncryptedCredentials: []byte{1, 2, 3},
		EncryptionIV:         []byte{4, 5, 6},
	}))
	require.NoError(t, store.CreateSession(ctx, &UserSession{
		SessionID:     uuid.NewString(),
		UserID:        u.UserID,
		ClientID:      c.ClientID,
		Status:        SessionStatusActive,
		IssuedAt:      NowUTC(),
		ExpiresAt:     "2099-01-01T00:00:00Z",
		HmacSignature: "sig",
	}))

	require.NoError(t, store.DeleteUser(ctx, u.UserID))

	_, err := store.GetClient(ctx, c.ClientID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = store.GetCredential(ctx, u.UserID, mcp.McpID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	subs, err := store.ListSubscriptionsByClient(ctx, c.ClientID, false)
	require.NoError(t, err)
	assert.Empty(t, subs)
	sessions, err := store.ListSessionsByUser(ctx, u.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSingleActiveAdminKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &AdminKey{ID: uuid.NewString(), KeyHash: "h1", RecoveryTokenHash: "r1"}
	require.NoError(t, store.InsertAdminKey(ctx, first))

	second := &AdminKey{ID: uuid.NewString(), KeyHash: "h2", RecoveryTokenHash: "r2"}
	err := store.InsertAdminKey(ctx, second)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	require.NoError(t, store.UpdateAdminKeyHashes(ctx, first.ID, "h3", "r3"))
	k, err := store.GetActiveAdminKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, k.ID)
	assert.Equal(t, "h3", k.KeyHash)
	assert.NotEmpty(t, k.RotatedAt)

	require.NoError(t, store.DeactivateAllAdminKeys(ctx))
	n, err := store.CountActiveAdminKeys(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.InsertAdminKey(ctx, second))
}

func TestSubscriptionUniquePerClientMcp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "carol")
	c := seedClient(t, store, u.UserID)
	mcp := seedMcp(t, store, "github", McpStatusPublished)

	sub := &Subscription{
		SubscriptionID: uuid.NewString(),
		ClientID:       c.ClientID,
		McpID:          mcp.McpID,
		SelectedTools:  []string{"create_issue"},
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))

	dup := &Subscription{SubscriptionID: uuid.NewString(), ClientID: c.ClientID, McpID: mcp.McpID}
	err := store.CreateSubscription(ctx, dup)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	loaded, err := store.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"create_issue"}, loaded.SelectedTools)
}

func TestPublishedStructuralFieldsImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mcp := seedMcp(t, store, "weather", McpStatusPublished)

	patched := *mcp
	patched.Config = `{"command":"other"}`
	err := store.UpdateCatalogEntry(ctx, &patched)
	assert.Equal(t, apperr.CodeStructuralChange, apperr.CodeOf(err))

	// Non-structural fields stay editable.
	patched = *mcp
	patched.Description = "forecast tools"
	require.NoError(t, store.UpdateCatalogEntry(ctx, &patched))

	loaded, err := store.GetCatalogEntry(ctx, mcp.McpID)
	require.NoError(t, err)
	assert.Equal(t, "forecast tools", loaded.Description)
}

func TestDeleteCatalogEntryRequiresArchived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mcp := seedMcp(t, store, "search", McpStatusPublished)
	err := store.DeleteCatalogEntry(ctx, mcp.McpID)
	assert.Equal(t, apperr.CodeUnprocessable, apperr.CodeOf(err))

	require.NoError(t, store.SetCatalogStatus(ctx, mcp.McpID, McpStatusArchived))
	require.NoError(t, store.DeleteCatalogEntry(ctx, mcp.McpID))
}

func TestProfileInheritanceCycleRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := &ToolProfile{ProfileID: "p-base", Name: "base"}
	require.NoError(t, store.SaveProfile(ctx, base))

	child := &ToolProfile{ProfileID: "p-child", Name: "child", InheritedFrom: "p-base"}
	require.NoError(t, store.SaveProfile(ctx, child))

	// Re-pointing base at child closes a loop.
	base.InheritedFrom = "p-child"
	err := store.SaveProfile(ctx, base)
	assert.Equal(t, apperr.CodeCycleDetected, apperr.CodeOf(err))

	// Self-reference is the smallest cycle.
	self := &ToolProfile{ProfileID: "p-self", Name: "self", InheritedFrom: "p-self"}
	err = store.SaveProfile(ctx, self)
	assert.Equal(t, apperr.CodeCycleDetected, apperr.CodeOf(err))
}

func TestGroupAccessPredicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "dave")
	mcp := seedMcp(t, store, "notes", McpStatusPublished)
	g := &Group{GroupID: uuid.NewString(), Name: "eng"}
	require.NoError(t, store.CreateGroup(ctx, g))

	ok, err := store.UserCanAccessMcp(ctx, u.UserID, mcp.McpID)
	require.NoError(t, err)
	assert.False(t, ok, "no membership yet")

	require.NoError(t, store.AddGroupMember(ctx, g.GroupID, u.UserID))
	require.NoError(t, store.AddGroupMcp(ctx, g.GroupID, mcp.McpID))

	ok, err = store.UserCanAccessMcp(ctx, u.UserID, mcp.McpID)
	require.NoError(t, err)
	assert.True(t, ok)

	// A suspended group stops granting access.
	g.Status = GroupStatusSuspended
	require.NoError(t, store.UpdateGroup(ctx, g))
	ok, err = store.UserCanAccessMcp(ctx, u.UserID, mcp.McpID)
	require.NoError(t, err)
	assert.False(t, ok)

	// So does archiving the MCP.
	g.Status = GroupStatusActive
	require.NoError(t, store.UpdateGroup(ctx, g))
	require.NoError(t, store.SetCatalogStatus(ctx, mcp.McpID, McpStatusArchived))
	ok, err = store.UserCanAccessMcp(ctx, u.UserID, mcp.McpID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "erin")
	require.NoError(t, store.CreateSession(ctx, &UserSession{
		SessionID:     "s-old",
		UserID:        u.UserID,
		Status:        SessionStatusActive,
		IssuedAt:      "2026-01-01T00:00:00Z",
		ExpiresAt:     "2026-01-01T01:00:00Z",
		HmacSignature: "sig",
	}))
	require.NoError(t, store.CreateSession(ctx, &UserSession{
		SessionID:     "s-live",
		UserID:        u.UserID,
		Status:        SessionStatusActive,
		IssuedAt:      NowUTC(),
		ExpiresAt:     "2099-01-01T00:00:00Z",
		HmacSignature: "sig",
	}))

	users, err := store.ExpireSessionsBefore(ctx, "2026-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, []string{u.UserID}, users)

	old, err := store.GetSession(ctx, "s-old")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusExpired, old.Status)

	live, err := store.GetSession(ctx, "s-live")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusActive, live.Status)

	// A second sweep finds nothing.
	users, err = store.ExpireSessionsBefore(ctx, "2026-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestAuditBatchInsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []*AuditEvent{
		{EventID: "e1", Timestamp: "2026-08-26T10:00:00Z", EventType: "auth", Severity: "info", Action: "authenticate", UserID: "u1"},
		{EventID: "e2", Timestamp: "2026-08-26T10:00:01Z", EventType: "invoke", Severity: "info", Action: "tools/call", UserID: "u1"},
		{EventID: "e3", Timestamp: "2026-08-26T10:00:02Z", EventType: "authz", Severity: "warn", Action: "deny", UserID: "u2"},
	}
	require.NoError(t, store.InsertAuditEvents(ctx, batch))
	require.NoError(t, store.InsertAuditEvents(ctx, nil))

	n, err := store.CountAuditEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	events, err := store.QueryAuditEvents(ctx, AuditQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].EventID, "newest first")

	events, err = store.QueryAuditEvents(ctx, AuditQuery{Severity: "warn"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "deny", events[0].Action)
	assert.Equal(t, "{}", events[0].Metadata)
}

func TestClientKeyRotation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "frank")
	c := seedClient(t, store, u.UserID)

	require.NoError(t, store.RotateClientKey(ctx, c.ClientID, "newprefx", "argon2id$new"))
	loaded, err := store.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "newprefx", loaded.KeyPrefix)
	assert.Equal(t, "argon2id$new", loaded.KeyHash)

	err = store.RotateClientKey(ctx, "missing", "p", "h")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
