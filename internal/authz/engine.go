// Package authz decides whether a client may invoke a tool, based on its
// tool profile. Profiles may inherit from a parent; allow/deny sets are
// unioned up the chain and denied patterns always win.
package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// ProfileStore is the slice of storage the engine needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, profileID string) (*storage.ToolProfile, error)
}

// Decision is the authorization verdict.
type Decision struct {
	Permit   bool   `json:"permit"`
	PolicyID string `json:"policy_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// EffectiveProfile is a profile with its inheritance chain folded in.
type EffectiveProfile struct {
	Allowed    []string
	Denied     []string
	RateLimits storage.RateLimits
}

// Engine evaluates tool invocations against profiles.
type Engine struct {
	store  ProfileStore
	logger *zap.Logger
}

// NewEngine builds an authorization engine.
func NewEngine(store ProfileStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

const maxInheritanceDepth = 5

// Resolve folds a profile's inheritance chain into one effective policy.
// Allow and deny sets are unions; rate limits are overridden field-by-field
// by the child when non-zero. Cycles fail with cycle_detected even though
// writes already reject them.
func (e *Engine) Resolve(ctx context.Context, profileID string) (*EffectiveProfile, error) {
	eff := &EffectiveProfile{}
	seen := map[string]bool{}
	current := profileID

	for depth := 0; current != ""; depth++ {
		if depth >= maxInheritanceDepth {
			return nil, apperr.New(apperr.CodeUnprocessable, "profile inheritance exceeds maximum depth")
		}
		if seen[current] {
			return nil, apperr.New(apperr.CodeCycleDetected, "profile inheritance cycle detected")
		}
		seen[current] = true

		p, err := e.store.GetProfile(ctx, current)
		if err != nil {
			return nil, err
		}
		eff.Allowed = append(eff.Allowed, p.AllowedTools...)
		eff.Denied = append(eff.Denied, p.DeniedTools...)
		// The child, visited first, wins each limit it sets.
		if eff.RateLimits.RPM == 0 {
			eff.RateLimits.RPM = p.RateLimits.RPM
		}
		if eff.RateLimits.RPH == 0 {
			eff.RateLimits.RPH = p.RateLimits.RPH
		}
		if eff.RateLimits.MaxConcurrent == 0 {
			eff.RateLimits.MaxConcurrent = p.RateLimits.MaxConcurrent
		}
		current = p.InheritedFrom
	}
	return eff, nil
}

// Authorize decides one (profile, tool) pair. A client with no profile is
// denied everything.
func (e *Engine) Authorize(ctx context.Context, profileID, toolName string) (*Decision, error) {
	if profileID == "" {
		return &Decision{Permit: false, Reason: "not in allowed list"}, nil
	}
	eff, err := e.Resolve(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if MatchAny(eff.Denied, toolName) {
		return &Decision{Permit: false, PolicyID: profileID, Reason: "denied by profile"}, nil
	}
	if MatchAny(eff.Allowed, toolName) {
		return &Decision{Permit: true, PolicyID: profileID}, nil
	}
	return &Decision{Permit: false, PolicyID: profileID, Reason: "not in allowed list"}, nil
}
