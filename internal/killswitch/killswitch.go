// Package killswitch holds runtime invocation blocks for MCPs, users and
// individual tools. The hot path reads a copy-on-write snapshot without
// locking; updates swap the whole map.
package killswitch

import (
	"sync"
	"sync/atomic"
)

// Target kinds. A target string is "<kind>:<name>", e.g. "mcp:github".
const (
	KindMcp  = "mcp"
	KindUser = "user"
	KindTool = "tool"
)

// Registry is the process-wide switch set.
type Registry struct {
	blocked atomic.Pointer[map[string]struct{}]
	mu      sync.Mutex
}

// NewRegistry starts with everything enabled.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]struct{}{}
	r.blocked.Store(&empty)
	return r
}

func key(kind, name string) string {
	return kind + ":" + name
}

// Set enables or disables invocations for one target.
func (r *Registry) Set(kind, name string, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.blocked.Load()
	next := make(map[string]struct{}, len(current)+1)
	for k := range current {
		next[k] = struct{}{}
	}
	k := key(kind, name)
	if blocked {
		next[k] = struct{}{}
	} else {
		delete(next, k)
	}
	r.blocked.Store(&next)
}

// IsBlocked reports whether one specific target is switched off.
func (r *Registry) IsBlocked(kind, name string) bool {
	_, ok := (*r.blocked.Load())[key(kind, name)]
	return ok
}

// InvocationBlocked evaluates every switch relevant to a single tool call.
func (r *Registry) InvocationBlocked(mcpName, userID, toolName string) bool {
	snapshot := *r.blocked.Load()
	if _, ok := snapshot[key(KindMcp, mcpName)]; ok {
		return true
	}
	if _, ok := snapshot[key(KindUser, userID)]; ok {
		return true
	}
	_, ok := snapshot[key(KindTool, toolName)]
	return ok
}

// Blocked returns the current target list for the admin API.
func (r *Registry) Blocked() []string {
	snapshot := *r.blocked.Load()
	out := make([]string, 0, len(snapshot))
	for k := range snapshot {
		out = append(out, k)
	}
	return out
}
