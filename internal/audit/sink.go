package audit

import (
	"context"
	"encoding/json"

	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// StoreSink persists flushed batches into the audit_events table.
type StoreSink struct {
	store *storage.Store
}

// NewStoreSink wraps the relational store as a flush target.
func NewStoreSink(store *storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

// WriteBatch writes the batch in a single transaction.
func (s *StoreSink) WriteBatch(ctx context.Context, events []*Event) error {
	rows := make([]*storage.AuditEvent, 0, len(events))
	for _, e := range events {
		rows = append(rows, toRow(e))
	}
	return s.store.InsertAuditEvents(ctx, rows)
}

func toRow(e *Event) *storage.AuditEvent {
	row := &storage.AuditEvent{
		EventID:       e.EventID,
		Timestamp:     e.Timestamp,
		EventType:     e.EventType,
		Severity:      e.Severity,
		SessionID:     e.SessionID,
		ClientID:      e.ClientID,
		UserID:        e.UserID,
		SourceIP:      e.SourceIP,
		Action:        e.Action,
		AuthzDecision: e.AuthzDecision,
		AuthzPolicy:   e.AuthzPolicy,
	}
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			row.Metadata = string(raw)
		}
	}
	if e.ResponseSummary != nil {
		if raw, err := json.Marshal(e.ResponseSummary); err == nil {
			row.ResponseSummary = string(raw)
		}
	}
	return row
}
