// Package audit implements the event pipeline between the request path and
// the persistent audit log: a bounded ring buffer, interval flushing into a
// sink, and disk spill on overflow. Adding an event never blocks the caller.
package audit

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types. Immutable once emitted.
const (
	EventAuthSuccess    = "auth_success"
	EventAuthFailure    = "auth_failure"
	EventAuthzPermit    = "authz_permit"
	EventAuthzDeny      = "authz_deny"
	EventToolInvocation = "tool_invocation"
	EventAdminAction    = "admin_action"
	EventError          = "error"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ResponseSummary captures the outcome of a tool invocation without storing
// the response body.
type ResponseSummary struct {
	DurationMs int64 `json:"duration_ms"`
	Size       int   `json:"size"`
	IsError    bool  `json:"is_error"`
}

// Event is one audit record. Event IDs are ULIDs, so lexicographic order is
// emission order.
type Event struct {
	EventID         string            `json:"event_id"`
	Timestamp       string            `json:"timestamp"`
	EventType       string            `json:"event_type"`
	Severity        string            `json:"severity"`
	SessionID       string            `json:"session_id,omitempty"`
	ClientID        string            `json:"client_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	SourceIP        string            `json:"source_ip,omitempty"`
	Action          string            `json:"action"`
	AuthzDecision   string            `json:"authz_decision,omitempty"`
	AuthzPolicy     string            `json:"authz_policy,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ResponseSummary *ResponseSummary  `json:"response_summary,omitempty"`
}

// NewEvent stamps a fresh event with a ULID and the current UTC time.
func NewEvent(eventType, severity, action string) *Event {
	return &Event{
		EventID:   ulid.Make().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		EventType: eventType,
		Severity:  severity,
		Action:    action,
	}
}
