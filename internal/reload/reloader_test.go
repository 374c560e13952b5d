package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

type fakeStore struct {
	entries []*storage.McpCatalogEntry
}

func (f *fakeStore) ListCatalogEntries(ctx context.Context, status string) ([]*storage.McpCatalogEntry, error) {
	var out []*storage.McpCatalogEntry
	for _, e := range f.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeShared struct {
	mu        sync.Mutex
	running   map[string]bool
	startErr  map[string]error
	started   []string
	stopped   []string
	refreshed int
	block     chan struct{}
	entered   chan struct{}
}

func newFakeShared(running ...string) *fakeShared {
	f := &fakeShared{running: make(map[string]bool), startErr: make(map[string]error)}
	for _, name := range running {
		f.running[name] = true
	}
	return f
}

func (f *fakeShared) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.running {
		names = append(names, name)
	}
	return names
}

func (f *fakeShared) StartEntry(ctx context.Context, entry *storage.McpCatalogEntry) error {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[entry.Name]; err != nil {
		return err
	}
	f.running[entry.Name] = true
	f.started = append(f.started, entry.Name)
	return nil
}

func (f *fakeShared) StopEntry(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeShared) RefreshToolLists(ctx context.Context) {
	f.mu.Lock()
	f.refreshed++
	f.mu.Unlock()
}

type fakePerUser struct {
	running    []string
	terminated []string
}

func (f *fakePerUser) RunningMcps() []string { return f.running }

func (f *fakePerUser) TerminateMcp(ctx context.Context, mcpName string) {
	f.terminated = append(f.terminated, mcpName)
}

func entry(name, isolation, status string) *storage.McpCatalogEntry {
	return &storage.McpCatalogEntry{
		McpID:         "mcp-" + name,
		Name:          name,
		Status:        status,
		IsolationMode: isolation,
		TransportType: storage.TransportStdio,
		Config:        `{"command":["srv"]}`,
	}
}

func TestPreviewDiff(t *testing.T) {
	store := &fakeStore{entries: []*storage.McpCatalogEntry{
		entry("docs", storage.IsolationShared, storage.McpStatusPublished),
		entry("search", storage.IsolationShared, storage.McpStatusPublished),
		entry("draft", storage.IsolationShared, storage.McpStatusDraft),
		entry("notes", storage.IsolationPerUser, storage.McpStatusPublished),
	}}
	sharedPool := newFakeShared("search", "legacy")
	perUser := &fakePerUser{running: []string{"notes", "retired"}}

	r := New(store, sharedPool, perUser, zaptest.NewLogger(t))
	diff, err := r.Preview(context.Background())
	require.NoError(t, err)

	require.Len(t, diff.ToCreate, 1)
	assert.Equal(t, "docs", diff.ToCreate[0].Name)
	require.Len(t, diff.ToUpdate, 1)
	assert.Equal(t, "search", diff.ToUpdate[0].Name)
	assert.Equal(t, []string{"legacy", "retired"}, diff.ToRemove)

	// Preview never touches the pools.
	assert.Empty(t, sharedPool.started)
	assert.Empty(t, sharedPool.stopped)
	assert.Empty(t, perUser.terminated)
}

func TestApplyReconciles(t *testing.T) {
	store := &fakeStore{entries: []*storage.McpCatalogEntry{
		entry("docs", storage.IsolationShared, storage.McpStatusPublished),
	}}
	sharedPool := newFakeShared("legacy")
	perUser := &fakePerUser{running: []string{"retired"}}

	r := New(store, sharedPool, perUser, zaptest.NewLogger(t))
	results, err := r.Apply(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []string{"docs"}, sharedPool.started)
	assert.Equal(t, []string{"legacy"}, sharedPool.stopped)
	assert.Equal(t, []string{"legacy", "retired"}, perUser.terminated)
	assert.Equal(t, 1, sharedPool.refreshed)

	// Running state now matches the published set; a second apply is a
	// metadata-only pass.
	results, err = r.Apply(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionUpdate, results[0].Action)
}

func TestApplyAggregatesFailures(t *testing.T) {
	store := &fakeStore{entries: []*storage.McpCatalogEntry{
		entry("bad", storage.IsolationShared, storage.McpStatusPublished),
		entry("good", storage.IsolationShared, storage.McpStatusPublished),
	}}
	sharedPool := newFakeShared()
	sharedPool.startErr["bad"] = assert.AnError
	perUser := &fakePerUser{}

	r := New(store, sharedPool, perUser, zaptest.NewLogger(t))
	results, err := r.Apply(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]Result{}
	for _, res := range results {
		byName[res.Name] = res
	}
	assert.Equal(t, StatusFailed, byName["bad"].Status)
	assert.NotEmpty(t, byName["bad"].Error)
	assert.Equal(t, StatusOK, byName["good"].Status)
	assert.Equal(t, []string{"good"}, sharedPool.started)
}

func TestConcurrentApplyFailsFast(t *testing.T) {
	store := &fakeStore{entries: []*storage.McpCatalogEntry{
		entry("docs", storage.IsolationShared, storage.McpStatusPublished),
	}}
	sharedPool := newFakeShared()
	sharedPool.block = make(chan struct{})
	entered := make(chan struct{})
	sharedPool.entered = entered
	perUser := &fakePerUser{}

	r := New(store, sharedPool, perUser, zaptest.NewLogger(t))

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Apply(context.Background())
		firstDone <- err
	}()

	// Wait until the first apply holds the reload mutex inside StartEntry.
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first apply never reached StartEntry")
	}

	_, err := r.Apply(context.Background())
	assert.True(t, apperr.Is(err, apperr.CodeReloadInProgress))

	close(sharedPool.block)
	require.NoError(t, <-firstDone)
}
