package peruser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/config"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

type fakeCreds struct {
	calls int
	env   map[string]string
	err   error
}

func (f *fakeCreds) Materialize(ctx context.Context, userID string, entry *storage.McpCatalogEntry) (map[string]string, error) {
	f.calls++
	return f.env, f.err
}

func poolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxPerUser:            2,
		MaxTotal:              3,
		IdleTimeout:           time.Minute,
		HealthCheckInterval:   time.Minute,
		RestartErrorThreshold: 3,
	}
}

func testEntry(name string) *storage.McpCatalogEntry {
	return &storage.McpCatalogEntry{
		McpID:         "mcp-" + name,
		Name:          name,
		Status:        storage.McpStatusPublished,
		IsolationMode: storage.IsolationPerUser,
		TransportType: storage.TransportStdio,
		// Metachars make the spawn fail before any process starts.
		Config: `{"command":["srv;fail"]}`,
	}
}

// seedInstance plants a running-looking instance without a real process.
func seedInstance(t *testing.T, p *Pool, userID, mcpName string, lastUsed time.Time) *instance {
	t.Helper()
	conn := downstream.NewConnection(&downstream.Config{
		Name:      mcpName,
		Transport: storage.TransportStdio,
		Stdio:     &validate.StdioConfig{Command: []string{"srv"}},
	}, zaptest.NewLogger(t), nil)

	slot := p.slot(userID)
	slot.mu.Lock()
	inst := &instance{conn: conn, entry: testEntry(mcpName), lastUsed: lastUsed}
	slot.instances[mcpName] = inst
	slot.mu.Unlock()

	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return inst
}

func TestAcquireCapacityPerUser(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxPerUser = 0
	pool := NewPool(cfg, nil, 0, zaptest.NewLogger(t))

	_, err := pool.Acquire(context.Background(), "user-1", testEntry("docs"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))
}

func TestAcquireCapacityTotal(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxTotal = 0
	pool := NewPool(cfg, nil, 0, zaptest.NewLogger(t))

	_, err := pool.Acquire(context.Background(), "user-1", testEntry("docs"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))
}

func TestSpawnFailureReleasesCapacity(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxTotal = 1
	pool := NewPool(cfg, nil, 0, zaptest.NewLogger(t))

	// Spawn fails on the metachar command, never reaching a real exec.
	_, err := pool.Acquire(context.Background(), "user-1", testEntry("docs"))
	require.Error(t, err)
	assert.NotEqual(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))

	total, byUser := pool.Counts()
	assert.Zero(t, total)
	assert.Empty(t, byUser)

	// The failure must not burn the capacity slot for the next attempt.
	_, err = pool.Acquire(context.Background(), "user-1", testEntry("docs"))
	require.Error(t, err)
	assert.NotEqual(t, apperr.CodeCapacityExceeded, apperr.CodeOf(err))
}

func TestCredentialMaterializeFailureAborts(t *testing.T) {
	creds := &fakeCreds{err: apperr.New(apperr.CodeNotFound, "no credentials stored")}
	pool := NewPool(poolConfig(), creds, 0, zaptest.NewLogger(t))

	entry := testEntry("docs")
	entry.RequiresUserCredentials = true
	entry.Config = `{"command":["srv"]}`

	_, err := pool.Acquire(context.Background(), "user-1", entry)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	assert.Equal(t, 1, creds.calls)

	total, _ := pool.Counts()
	assert.Zero(t, total)
}

func TestTerminateForUser(t *testing.T) {
	pool := NewPool(poolConfig(), nil, 0, zaptest.NewLogger(t))
	seedInstance(t, pool, "user-1", "docs", time.Now())
	seedInstance(t, pool, "user-1", "search", time.Now())
	seedInstance(t, pool, "user-2", "docs", time.Now())

	pool.TerminateForUser(context.Background(), "user-1")

	total, byUser := pool.Counts()
	assert.Equal(t, 1, total)
	assert.Zero(t, byUser["user-1"])
	assert.Equal(t, 1, byUser["user-2"])
}

func TestTerminateMcpAcrossUsers(t *testing.T) {
	pool := NewPool(poolConfig(), nil, 0, zaptest.NewLogger(t))
	seedInstance(t, pool, "user-1", "docs", time.Now())
	seedInstance(t, pool, "user-2", "docs", time.Now())
	seedInstance(t, pool, "user-2", "search", time.Now())

	pool.TerminateMcp(context.Background(), "docs")

	total, byUser := pool.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, byUser["user-2"])
	assert.Equal(t, []string{"search"}, pool.RunningMcps())
}

func TestReapIdleInstances(t *testing.T) {
	pool := NewPool(poolConfig(), nil, 0, zaptest.NewLogger(t))
	seedInstance(t, pool, "user-1", "stale", time.Now().Add(-time.Hour))
	seedInstance(t, pool, "user-1", "fresh", time.Now())

	pool.reapIdle(time.Now().Add(-time.Minute))

	total, byUser := pool.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, byUser["user-1"])
	assert.Equal(t, []string{"fresh"}, pool.RunningMcps())
}

func TestHealthLoopCountsErrors(t *testing.T) {
	cfg := poolConfig()
	cfg.RestartErrorThreshold = 100 // never restart during this test
	pool := NewPool(cfg, nil, 0, zaptest.NewLogger(t))

	// A created-state connection always fails the health check.
	inst := seedInstance(t, pool, "user-1", "docs", time.Now())
	pool.checkHealth()
	pool.checkHealth()
	assert.Equal(t, 2, inst.errorCount)
}

func TestStopIsIdempotent(t *testing.T) {
	pool := NewPool(poolConfig(), nil, 0, zaptest.NewLogger(t))
	pool.Start()
	seedInstance(t, pool, "user-1", "docs", time.Now())

	pool.Stop(context.Background())
	pool.Stop(context.Background())

	total, _ := pool.Counts()
	assert.Zero(t, total)
}
