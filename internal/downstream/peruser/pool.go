// Package peruser spawns isolated downstream instances per (user, MCP)
// pair, injecting that user's credentials at startup.
package peruser

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/config"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// CredentialProvider materializes a user's decrypted credentials as env
// vars (stdio) or headers (http/sse) for one MCP. Implementations must
// never log plaintext values.
type CredentialProvider interface {
	Materialize(ctx context.Context, userID string, entry *storage.McpCatalogEntry) (map[string]string, error)
}

// instance is one running per-user connection.
type instance struct {
	conn       *downstream.Connection
	entry      *storage.McpCatalogEntry
	lastUsed   time.Time
	errorCount int
}

// userSlot serializes spawn/terminate for one user.
type userSlot struct {
	mu        sync.Mutex
	instances map[string]*instance // by mcp name
}

// Pool manages per-user downstream instances under global capacity caps.
type Pool struct {
	cfg    config.PoolConfig
	creds  CredentialProvider
	logger *zap.Logger

	invokeTimeout time.Duration

	mu    sync.Mutex
	users map[string]*userSlot
	total int

	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewPool builds an empty per-user pool.
func NewPool(cfg config.PoolConfig, creds CredentialProvider, invokeTimeout time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:           cfg,
		creds:         creds,
		logger:        logger.Named("peruser-pool"),
		invokeTimeout: invokeTimeout,
		users:         make(map[string]*userSlot),
		done:          make(chan struct{}),
	}
}

func (p *Pool) slot(userID string) *userSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.users[userID]
	if !ok {
		slot = &userSlot{instances: make(map[string]*instance)}
		p.users[userID] = slot
	}
	return slot
}

// reserve claims capacity for one new instance; it must be released on
// spawn failure.
func (p *Pool) reserve(perUserCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if perUserCount >= p.cfg.MaxPerUser {
		return apperr.Newf(apperr.CodeCapacityExceeded,
			"per-user instance limit (%d) reached", p.cfg.MaxPerUser)
	}
	if p.total >= p.cfg.MaxTotal {
		return apperr.Newf(apperr.CodeCapacityExceeded,
			"total instance limit (%d) reached", p.cfg.MaxTotal)
	}
	p.total++
	return nil
}

func (p *Pool) release() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Acquire returns a running connection for (userID, entry), spawning one on
// first demand. Capacity overruns fail with capacity_exceeded.
func (p *Pool) Acquire(ctx context.Context, userID string, entry *storage.McpCatalogEntry) (*downstream.Connection, error) {
	slot := p.slot(userID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if inst, ok := slot.instances[entry.Name]; ok {
		if state := inst.conn.State(); state == downstream.StateConnected || state == downstream.StateRefreshing {
			inst.lastUsed = time.Now()
			return inst.conn, nil
		}
		// Dead instance: drop it and respawn below.
		delete(slot.instances, entry.Name)
		p.release()
	}

	if err := p.reserve(len(slot.instances)); err != nil {
		return nil, err
	}

	conn, err := p.spawn(ctx, userID, entry)
	if err != nil {
		p.release()
		return nil, err
	}
	slot.instances[entry.Name] = &instance{
		conn:     conn,
		entry:    entry,
		lastUsed: time.Now(),
	}
	return conn, nil
}

func (p *Pool) spawn(ctx context.Context, userID string, entry *storage.McpCatalogEntry) (*downstream.Connection, error) {
	cfg, err := downstream.ParseConfig(entry)
	if err != nil {
		return nil, err
	}
	if p.invokeTimeout > 0 {
		cfg.InvokeTimeout = p.invokeTimeout
	}
	if entry.RequiresUserCredentials && p.creds != nil {
		creds, err := p.creds.Materialize(ctx, userID, entry)
		if err != nil {
			return nil, err
		}
		cfg.Credentials = creds
	}

	conn := downstream.NewConnection(cfg, p.logger.With(zap.String("user_id", userID)), nil)
	if err := conn.Start(ctx); err != nil {
		return nil, err
	}
	p.logger.Info("spawned per-user instance",
		zap.String("user_id", userID),
		zap.String("mcp", entry.Name))
	return conn, nil
}

// InvokeTool calls a tool on the user's instance of the MCP; the instance
// is spawned on demand.
func (p *Pool) InvokeTool(ctx context.Context, userID string, entry *storage.McpCatalogEntry, toolName string, args map[string]any) (*downstream.InvocationResult, error) {
	conn, err := p.Acquire(ctx, userID, entry)
	if err != nil {
		return nil, err
	}
	return conn.InvokeTool(ctx, toolName, args)
}

// Tools returns the sanitized tool list of a user's running instance, or
// nil when none is up.
func (p *Pool) Tools(userID, mcpName string) []downstream.Tool {
	slot := p.slot(userID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if inst, ok := slot.instances[mcpName]; ok {
		return inst.conn.Tools()
	}
	return nil
}

// TerminateForUser stops every instance of one user. Called on credential
// change, suspension, or session termination.
func (p *Pool) TerminateForUser(ctx context.Context, userID string) {
	slot := p.slot(userID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	for name, inst := range slot.instances {
		if err := inst.conn.Stop(ctx); err != nil {
			p.logger.Warn("failed to stop per-user instance",
				zap.String("user_id", userID),
				zap.String("mcp", name),
				zap.Error(err))
		}
		delete(slot.instances, name)
		p.release()
	}
}

// TerminateMcp stops every user's instance of one MCP. Used when a catalog
// entry is archived or deleted.
func (p *Pool) TerminateMcp(ctx context.Context, mcpName string) {
	for userID, slot := range p.snapshotSlots() {
		slot.mu.Lock()
		if inst, ok := slot.instances[mcpName]; ok {
			if err := inst.conn.Stop(ctx); err != nil {
				p.logger.Warn("failed to stop per-user instance",
					zap.String("user_id", userID),
					zap.String("mcp", mcpName),
					zap.Error(err))
			}
			delete(slot.instances, mcpName)
			p.release()
		}
		slot.mu.Unlock()
	}
}

// snapshotSlots copies the user map so slot locks are taken without
// holding the pool lock. Slot locks nest outside the pool lock elsewhere.
func (p *Pool) snapshotSlots() map[string]*userSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots := make(map[string]*userSlot, len(p.users))
	for userID, slot := range p.users {
		slots[userID] = slot
	}
	return slots
}

// Counts returns the live instance totals.
func (p *Pool) Counts() (total int, byUser map[string]int) {
	slots := p.snapshotSlots()
	byUser = make(map[string]int, len(slots))
	for userID, slot := range slots {
		slot.mu.Lock()
		if n := len(slot.instances); n > 0 {
			byUser[userID] = n
		}
		slot.mu.Unlock()
	}
	p.mu.Lock()
	total = p.total
	p.mu.Unlock()
	return total, byUser
}

// RunningMcps lists MCP names with at least one live instance, sorted.
func (p *Pool) RunningMcps() []string {
	seen := make(map[string]struct{})
	for _, slot := range p.snapshotSlots() {
		slot.mu.Lock()
		for name := range slot.instances {
			seen[name] = struct{}{}
		}
		slot.mu.Unlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the idle reaper and health loop.
func (p *Pool) Start() {
	p.wg.Add(2)
	go p.reapLoop()
	go p.healthLoop()
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle(time.Now().Add(-p.cfg.IdleTimeout))
		}
	}
}

func (p *Pool) reapIdle(cutoff time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for userID, slot := range p.snapshotSlots() {
		slot.mu.Lock()
		for name, inst := range slot.instances {
			if inst.lastUsed.After(cutoff) {
				continue
			}
			p.logger.Info("reaping idle per-user instance",
				zap.String("user_id", userID),
				zap.String("mcp", name))
			_ = inst.conn.Stop(ctx)
			delete(slot.instances, name)
			p.release()
		}
		slot.mu.Unlock()
	}
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	if p.cfg.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth pings each instance; repeated failures past the threshold
// trigger a restart.
func (p *Pool) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for userID, slot := range p.snapshotSlots() {
		slot.mu.Lock()
		for name, inst := range slot.instances {
			health := inst.conn.HealthCheck(ctx)
			if health.Healthy {
				inst.errorCount = 0
				continue
			}
			inst.errorCount++
			p.logger.Warn("per-user instance unhealthy",
				zap.String("user_id", userID),
				zap.String("mcp", name),
				zap.Int("error_count", inst.errorCount),
				zap.String("error", health.Error))
			if inst.errorCount < p.cfg.RestartErrorThreshold {
				continue
			}
			_ = inst.conn.Stop(ctx)
			fresh, err := p.spawn(ctx, userID, inst.entry)
			if err != nil {
				p.logger.Error("failed to restart per-user instance",
					zap.String("user_id", userID),
					zap.String("mcp", name),
					zap.Error(err))
				delete(slot.instances, name)
				p.release()
				continue
			}
			inst.conn = fresh
			inst.errorCount = 0
			inst.lastUsed = time.Now()
		}
		slot.mu.Unlock()
	}
}

// Stop terminates the loops and every instance.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.done)
	userIDs := make([]string, 0, len(p.users))
	for userID := range p.users {
		userIDs = append(userIDs, userID)
	}
	p.mu.Unlock()

	p.wg.Wait()
	for _, userID := range userIDs {
		p.TerminateForUser(ctx, userID)
	}
}
