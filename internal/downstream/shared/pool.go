// Package shared runs one long-lived downstream connection per published
// MCP with shared isolation and aggregates their tool catalogs.
package shared

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// CatalogTool is one aggregated tool entry.
type CatalogTool struct {
	ToolName    string          `json:"tool_name"`
	McpName     string          `json:"mcp_name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Pool manages shared downstream connections keyed by MCP name.
type Pool struct {
	logger        *zap.Logger
	invokeTimeout time.Duration

	mu      sync.RWMutex
	conns   map[string]*downstream.Connection
	catalog []CatalogTool
}

// NewPool builds an empty pool.
func NewPool(logger *zap.Logger, invokeTimeout time.Duration) *Pool {
	return &Pool{
		logger:        logger.Named("shared-pool"),
		invokeTimeout: invokeTimeout,
		conns:         make(map[string]*downstream.Connection),
	}
}

// StartAll brings up one connection per entry. Individual failures are
// logged and skipped; the pool comes up with whatever connected.
func (p *Pool) StartAll(ctx context.Context, entries []*storage.McpCatalogEntry) {
	for _, entry := range entries {
		if entry.Status != storage.McpStatusPublished || entry.IsolationMode != storage.IsolationShared {
			continue
		}
		if err := p.StartEntry(ctx, entry); err != nil {
			p.logger.Error("failed to start shared mcp",
				zap.String("mcp", entry.Name),
				zap.Error(err))
		}
	}
}

// StartEntry starts a single shared connection. Starting an already-running
// name is a conflict.
func (p *Pool) StartEntry(ctx context.Context, entry *storage.McpCatalogEntry) error {
	p.mu.Lock()
	if _, exists := p.conns[entry.Name]; exists {
		p.mu.Unlock()
		return apperr.Newf(apperr.CodeConflict, "shared mcp %s already running", entry.Name)
	}
	p.mu.Unlock()

	cfg, err := downstream.ParseConfig(entry)
	if err != nil {
		return err
	}
	if p.invokeTimeout > 0 {
		cfg.InvokeTimeout = p.invokeTimeout
	}

	conn := downstream.NewConnection(cfg, p.logger, p.onConnectionEvent)
	if err := conn.Start(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[entry.Name] = conn
	p.recomputeLocked()
	p.mu.Unlock()
	return nil
}

// StopEntry stops and removes one shared connection.
func (p *Pool) StopEntry(ctx context.Context, name string) error {
	p.mu.Lock()
	conn, ok := p.conns[name]
	if ok {
		delete(p.conns, name)
		p.recomputeLocked()
	}
	p.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "shared mcp %s is not running", name)
	}
	return conn.Stop(ctx)
}

// onConnectionEvent recomputes the aggregate when a member drops out or
// comes back.
func (p *Pool) onConnectionEvent(mcpName string, from, to downstream.State) {
	if to != downstream.StateDisconnected && to != downstream.StateConnected {
		return
	}
	p.mu.Lock()
	p.recomputeLocked()
	p.mu.Unlock()
}

// recomputeLocked rebuilds the aggregated catalog from connected members.
func (p *Pool) recomputeLocked() {
	toolsByMcp := make(map[string][]downstream.Tool, len(p.conns))
	for name, conn := range p.conns {
		if state := conn.State(); state != downstream.StateConnected && state != downstream.StateRefreshing {
			continue
		}
		toolsByMcp[name] = conn.Tools()
	}
	p.catalog = aggregate(toolsByMcp, p.logger)
}

// aggregate merges per-MCP tool lists into one catalog ordered by
// (mcp_name, tool_name). Same name under different MCPs is fine; clients
// address tools as "<mcp>.<tool>". A name repeated within one MCP is
// logged and skipped.
func aggregate(toolsByMcp map[string][]downstream.Tool, logger *zap.Logger) []CatalogTool {
	names := make([]string, 0, len(toolsByMcp))
	for name := range toolsByMcp {
		names = append(names, name)
	}
	sort.Strings(names)

	catalog := make([]CatalogTool, 0)
	for _, mcpName := range names {
		tools := append([]downstream.Tool(nil), toolsByMcp[mcpName]...)
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		seen := make(map[string]struct{}, len(tools))
		for _, tool := range tools {
			if _, dup := seen[tool.Name]; dup {
				logger.Warn("skipping duplicate tool name",
					zap.String("tool", tool.Name),
					zap.String("mcp", mcpName))
				continue
			}
			seen[tool.Name] = struct{}{}
			catalog = append(catalog, CatalogTool{
				ToolName:    tool.Name,
				McpName:     mcpName,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return catalog
}

// ToolCatalog returns the aggregated catalog ordered by (mcp_name,
// tool_name).
func (p *Pool) ToolCatalog() []CatalogTool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CatalogTool, len(p.catalog))
	copy(out, p.catalog)
	return out
}

// ResolveTool splits a qualified "<mcp>.<tool>" name and reports whether
// that shared MCP currently serves the tool.
func (p *Pool) ResolveTool(qualified string) (string, string, bool) {
	mcpName, toolName, ok := strings.Cut(qualified, ".")
	if !ok {
		return "", "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.catalog {
		if entry.McpName == mcpName && entry.ToolName == toolName {
			return mcpName, toolName, true
		}
	}
	return "", "", false
}

// InvokeTool dispatches a call to the named shared MCP.
func (p *Pool) InvokeTool(ctx context.Context, mcpName, toolName string, args map[string]any) (*downstream.InvocationResult, error) {
	p.mu.RLock()
	conn, ok := p.conns[mcpName]
	p.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.CodeUpstreamDisconnected, "shared mcp %s is not running", mcpName)
	}
	return conn.InvokeTool(ctx, toolName, args)
}

// RefreshToolLists re-runs discovery on every connected member and rebuilds
// the aggregate.
func (p *Pool) RefreshToolLists(ctx context.Context) {
	p.mu.RLock()
	conns := make([]*downstream.Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	p.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.RefreshToolList(ctx); err != nil {
			p.logger.Warn("tool refresh failed",
				zap.String("mcp", conn.Name()),
				zap.Error(err))
		}
	}
	p.mu.Lock()
	p.recomputeLocked()
	p.mu.Unlock()
}

// Running lists the names of pool members, sorted.
func (p *Pool) Running() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.conns))
	for name := range p.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connection returns a member by name.
func (p *Pool) Connection(name string) (*downstream.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[name]
	return conn, ok
}

// StopAll stops every member.
func (p *Pool) StopAll(ctx context.Context) {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*downstream.Connection)
	p.catalog = nil
	p.mu.Unlock()

	for name, conn := range conns {
		if err := conn.Stop(ctx); err != nil {
			p.logger.Warn("failed to stop shared mcp", zap.String("mcp", name), zap.Error(err))
		}
	}
}
