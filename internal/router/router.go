// Package router composes the shared and per-user tool catalogs, filters
// them by subscription and kill switch, and dispatches invocations.
package router

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream/shared"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// SharedInvoker is the shared pool surface the router needs.
type SharedInvoker interface {
	ToolCatalog() []shared.CatalogTool
	InvokeTool(ctx context.Context, mcpName, toolName string, args map[string]any) (*downstream.InvocationResult, error)
}

// PerUserInvoker is the per-user pool surface the router needs.
type PerUserInvoker interface {
	InvokeTool(ctx context.Context, userID string, entry *storage.McpCatalogEntry, toolName string, args map[string]any) (*downstream.InvocationResult, error)
	Tools(userID, mcpName string) []downstream.Tool
}

// Store is the catalog/subscription lookup surface.
type Store interface {
	ListSubscriptionsByClient(ctx context.Context, clientID string, activeOnly bool) ([]*storage.Subscription, error)
	GetCatalogEntry(ctx context.Context, mcpID string) (*storage.McpCatalogEntry, error)
}

// Blocklist answers whether an invocation path is switched off.
type Blocklist interface {
	InvocationBlocked(mcpName, userID, toolName string) bool
}

// ToolEntry is one visible catalog row for a client. Clients address the
// tool by Name, the qualified "<mcp>.<tool>" form; ToolName is the raw
// downstream name the owning pool understands.
type ToolEntry struct {
	Name        string          `json:"name"`
	McpName     string          `json:"mcp_name"`
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Isolation   string          `json:"isolation_mode"`

	entry *storage.McpCatalogEntry
}

// Entry exposes the backing catalog row; used by argument validation.
func (t *ToolEntry) Entry() *storage.McpCatalogEntry { return t.entry }

// Router routes tool calls for authenticated sessions.
type Router struct {
	store      Store
	sharedPool SharedInvoker
	perUser    PerUserInvoker
	blocked    Blocklist
	logger     *zap.Logger
}

// New builds a router.
func New(store Store, sharedPool SharedInvoker, perUser PerUserInvoker, blocked Blocklist, logger *zap.Logger) *Router {
	return &Router{
		store:      store,
		sharedPool: sharedPool,
		perUser:    perUser,
		blocked:    blocked,
		logger:     logger.Named("router"),
	}
}

// visibleTools builds the whitelist for (userID, clientID), keyed by the
// qualified "<mcp>.<tool>" name: every tool of every active subscription,
// narrowed by selected_tools and the kill switch. selected_tools holds raw
// per-MCP names; the qualifier is attached here, never downstream.
func (r *Router) visibleTools(ctx context.Context, userID, clientID string) (map[string]*ToolEntry, error) {
	subs, err := r.store.ListSubscriptionsByClient(ctx, clientID, true)
	if err != nil {
		return nil, err
	}

	type source struct {
		entry *storage.McpCatalogEntry
		sub   *storage.Subscription
	}
	var sharedSources, perUserSources []source
	for _, sub := range subs {
		entry, err := r.store.GetCatalogEntry(ctx, sub.McpID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				continue
			}
			return nil, err
		}
		if entry.Status != storage.McpStatusPublished {
			continue
		}
		if entry.IsolationMode == storage.IsolationShared {
			sharedSources = append(sharedSources, source{entry, sub})
		} else {
			perUserSources = append(perUserSources, source{entry, sub})
		}
	}

	visible := make(map[string]*ToolEntry)
	add := func(src source, tools []downstream.Tool) {
		selected := toolSet(src.sub.SelectedTools)
		for _, tool := range tools {
			if selected != nil {
				if _, ok := selected[tool.Name]; !ok {
					continue
				}
			}
			qualified := src.entry.Name + "." + tool.Name
			if r.blocked.InvocationBlocked(src.entry.Name, userID, qualified) {
				continue
			}
			if _, taken := visible[qualified]; taken {
				continue
			}
			visible[qualified] = &ToolEntry{
				Name:        qualified,
				McpName:     src.entry.Name,
				ToolName:    tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Isolation:   src.entry.IsolationMode,
				entry:       src.entry,
			}
		}
	}

	sharedByMcp := make(map[string][]downstream.Tool)
	for _, item := range r.sharedPool.ToolCatalog() {
		sharedByMcp[item.McpName] = append(sharedByMcp[item.McpName], downstream.Tool{
			Name:        item.ToolName,
			Description: item.Description,
			InputSchema: item.InputSchema,
		})
	}

	for _, src := range sharedSources {
		add(src, sharedByMcp[src.entry.Name])
	}
	for _, src := range perUserSources {
		add(src, r.perUserTools(userID, src.entry))
	}
	return visible, nil
}

// perUserTools prefers the live instance's discovered list and falls back
// to the catalog cache for instances not yet spawned.
func (r *Router) perUserTools(userID string, entry *storage.McpCatalogEntry) []downstream.Tool {
	if tools := r.perUser.Tools(userID, entry.Name); len(tools) > 0 {
		return tools
	}
	return cachedTools(entry)
}

func cachedTools(entry *storage.McpCatalogEntry) []downstream.Tool {
	if entry.ToolCatalog == "" {
		return nil
	}
	var tools []downstream.Tool
	if err := json.Unmarshal([]byte(entry.ToolCatalog), &tools); err != nil {
		return nil
	}
	out := tools[:0]
	for _, tool := range tools {
		if downstream.ValidToolName(tool.Name) {
			out = append(out, tool)
		}
	}
	return out
}

func toolSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Lookup resolves a qualified "<mcp>.<tool>" name against the client's
// whitelist. Absence is always tool_not_found so callers cannot tell a
// hidden tool from a nonexistent one.
func (r *Router) Lookup(ctx context.Context, userID, clientID, toolName string) (*ToolEntry, error) {
	visible, err := r.visibleTools(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}
	entry, ok := visible[toolName]
	if !ok {
		return nil, apperr.Newf(apperr.CodeToolNotFound, "tool %s not found", toolName)
	}
	return entry, nil
}

// Invoke dispatches a whitelisted tool call to the owning pool.
func (r *Router) Invoke(ctx context.Context, userID, clientID, toolName string, args map[string]any) (*downstream.InvocationResult, error) {
	entry, err := r.Lookup(ctx, userID, clientID, toolName)
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, userID, entry, args)
}

// Dispatch routes an already-resolved tool to its pool.
func (r *Router) Dispatch(ctx context.Context, userID string, tool *ToolEntry, args map[string]any) (*downstream.InvocationResult, error) {
	if tool.Isolation == storage.IsolationShared {
		return r.sharedPool.InvokeTool(ctx, tool.McpName, tool.ToolName, args)
	}
	return r.perUser.InvokeTool(ctx, userID, tool.entry, tool.ToolName, args)
}

// ToolCatalogFor returns the client's visible catalog deterministically
// ordered by (mcp_name, tool_name).
func (r *Router) ToolCatalogFor(ctx context.Context, userID, clientID string) ([]*ToolEntry, error) {
	visible, err := r.visibleTools(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}
	catalog := make([]*ToolEntry, 0, len(visible))
	for _, entry := range visible {
		catalog = append(catalog, entry)
	}
	sort.Slice(catalog, func(i, j int) bool {
		if catalog[i].McpName != catalog[j].McpName {
			return catalog[i].McpName < catalog[j].McpName
		}
		return catalog[i].ToolName < catalog[j].ToolName
	})
	return catalog, nil
}
