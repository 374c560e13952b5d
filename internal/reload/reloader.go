// Package reload reconciles the committed catalog against the running
// downstream pools.
package reload

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// SharedPool is the shared-pool surface the reloader drives.
type SharedPool interface {
	Running() []string
	StartEntry(ctx context.Context, entry *storage.McpCatalogEntry) error
	StopEntry(ctx context.Context, name string) error
	RefreshToolLists(ctx context.Context)
}

// PerUserPool is the per-user-pool surface the reloader drives.
type PerUserPool interface {
	RunningMcps() []string
	TerminateMcp(ctx context.Context, mcpName string)
}

// Store lists committed catalog rows.
type Store interface {
	ListCatalogEntries(ctx context.Context, status string) ([]*storage.McpCatalogEntry, error)
}

// Diff is the plan a reload would execute.
type Diff struct {
	ToCreate []*storage.McpCatalogEntry `json:"to_create"`
	ToUpdate []*storage.McpCatalogEntry `json:"to_update"`
	ToRemove []string                   `json:"to_remove"`
}

// Result is the outcome for one catalog entry.
type Result struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"

	StatusOK       = "ok"
	StatusDeferred = "deferred"
	StatusFailed   = "failed"
)

// Reloader applies catalog changes to the pools. At most one apply runs at
// a time; concurrent attempts fail fast.
type Reloader struct {
	store      Store
	sharedPool SharedPool
	perUser    PerUserPool
	logger     *zap.Logger

	mu sync.Mutex
}

// New builds a reloader.
func New(store Store, sharedPool SharedPool, perUser PerUserPool, logger *zap.Logger) *Reloader {
	return &Reloader{
		store:      store,
		sharedPool: sharedPool,
		perUser:    perUser,
		logger:     logger.Named("reload"),
	}
}

// computeDiff compares published rows against what is actually running.
func (r *Reloader) computeDiff(ctx context.Context) (*Diff, error) {
	published, err := r.store.ListCatalogEntries(ctx, storage.McpStatusPublished)
	if err != nil {
		return nil, err
	}

	publishedShared := make(map[string]*storage.McpCatalogEntry)
	publishedPerUser := make(map[string]*storage.McpCatalogEntry)
	for _, entry := range published {
		if entry.IsolationMode == storage.IsolationShared {
			publishedShared[entry.Name] = entry
		} else {
			publishedPerUser[entry.Name] = entry
		}
	}

	runningShared := make(map[string]struct{})
	for _, name := range r.sharedPool.Running() {
		runningShared[name] = struct{}{}
	}
	runningPerUser := make(map[string]struct{})
	for _, name := range r.perUser.RunningMcps() {
		runningPerUser[name] = struct{}{}
	}

	diff := &Diff{}
	for name, entry := range publishedShared {
		if _, up := runningShared[name]; up {
			diff.ToUpdate = append(diff.ToUpdate, entry)
		} else {
			diff.ToCreate = append(diff.ToCreate, entry)
		}
	}
	for name := range runningShared {
		if _, ok := publishedShared[name]; !ok {
			diff.ToRemove = append(diff.ToRemove, name)
		}
	}
	// Per-user instances spawn on demand; only removals matter here.
	for name := range runningPerUser {
		if _, ok := publishedPerUser[name]; !ok {
			diff.ToRemove = append(diff.ToRemove, name)
		}
	}

	sort.Slice(diff.ToCreate, func(i, j int) bool { return diff.ToCreate[i].Name < diff.ToCreate[j].Name })
	sort.Slice(diff.ToUpdate, func(i, j int) bool { return diff.ToUpdate[i].Name < diff.ToUpdate[j].Name })
	sort.Strings(diff.ToRemove)
	return diff, nil
}

// Preview computes the diff without touching the pools.
func (r *Reloader) Preview(ctx context.Context) (*Diff, error) {
	return r.computeDiff(ctx)
}

// Apply reconciles the pools with the committed catalog and returns a
// per-entry result. Individual failures do not abort the batch.
func (r *Reloader) Apply(ctx context.Context) ([]Result, error) {
	if !r.mu.TryLock() {
		return nil, apperr.New(apperr.CodeReloadInProgress, "a catalog reload is already in progress")
	}
	defer r.mu.Unlock()

	diff, err := r.computeDiff(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(diff.ToCreate)+len(diff.ToUpdate)+len(diff.ToRemove))
	for _, entry := range diff.ToCreate {
		res := Result{Name: entry.Name, Action: ActionCreate, Status: StatusOK}
		if err := r.sharedPool.StartEntry(ctx, entry); err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			r.logger.Error("failed to start mcp during reload",
				zap.String("mcp", entry.Name), zap.Error(err))
		}
		results = append(results, res)
	}
	for _, entry := range diff.ToUpdate {
		// Structural fields are frozen after publish, so an update is a
		// metadata refresh only.
		results = append(results, Result{Name: entry.Name, Action: ActionUpdate, Status: StatusOK})
	}
	for _, name := range diff.ToRemove {
		res := Result{Name: name, Action: ActionRemove, Status: StatusOK}
		if err := r.sharedPool.StopEntry(ctx, name); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			res.Status = StatusFailed
			res.Error = err.Error()
		}
		r.perUser.TerminateMcp(ctx, name)
		results = append(results, res)
	}

	r.sharedPool.RefreshToolLists(ctx)
	r.logger.Info("catalog reload applied",
		zap.Int("created", len(diff.ToCreate)),
		zap.Int("updated", len(diff.ToUpdate)),
		zap.Int("removed", len(diff.ToRemove)))
	return results, nil
}
