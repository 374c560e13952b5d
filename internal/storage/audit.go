package storage

import (
	"context"
	"fmt"
)

// AuditEvent is one persisted audit record. Events are written in batches by
// the audit buffer and are append-only.
type AuditEvent struct {
	EventID         string `json:"event_id"`
	Timestamp       string `json:"timestamp"`
	EventType       string `json:"event_type"`
	Severity        string `json:"severity"`
	SessionID       string `json:"session_id,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	SourceIP        string `json:"source_ip,omitempty"`
	Action          string `json:"action"`
	AuthzDecision   string `json:"authz_decision,omitempty"`
	AuthzPolicy     string `json:"authz_policy,omitempty"`
	Metadata        string `json:"metadata,omitempty"`
	ResponseSummary string `json:"response_summary,omitempty"`
}

// InsertAuditEvents writes a batch of events in one transaction. A failed
// batch leaves no partial rows behind.
func (s *Store) InsertAuditEvents(ctx context.Context, events []*AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_events
		(event_id, timestamp, event_type, severity, session_id, client_id,
		 user_id, source_ip, action, authz_decision, authz_policy, metadata,
		 response_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	for _, e := range events {
		metadata := e.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		if _, err := stmt.ExecContext(ctx, e.EventID, e.Timestamp, e.EventType,
			e.Severity, nullable(e.SessionID), nullable(e.ClientID),
			nullable(e.UserID), nullable(e.SourceIP), e.Action,
			nullable(e.AuthzDecision), nullable(e.AuthzPolicy), metadata,
			nullable(e.ResponseSummary)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit event %s: %w", e.EventID, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

// AuditQuery filters the audit log. Zero-valued fields are ignored.
type AuditQuery struct {
	EventType string
	Severity  string
	UserID    string
	ClientID  string
	Since     string
	Until     string
	Limit     int
}

// QueryAuditEvents returns events matching the filter in timestamp order,
// newest first.
func (s *Store) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditEvent, error) {
	query := `SELECT event_id, timestamp, event_type, severity,
		COALESCE(session_id, ''), COALESCE(client_id, ''), COALESCE(user_id, ''),
		COALESCE(source_ip, ''), action, COALESCE(authz_decision, ''),
		COALESCE(authz_policy, ''), metadata, COALESCE(response_summary, '')
		FROM audit_events WHERE 1=1`
	var args []any
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, q.Severity)
	}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if q.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, q.ClientID)
	}
	if q.Since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, q.Since)
	}
	if q.Until != "" {
		query += ` AND timestamp <= ?`
		args = append(args, q.Until)
	}
	query += ` ORDER BY timestamp DESC`
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.EventType, &e.Severity,
			&e.SessionID, &e.ClientID, &e.UserID, &e.SourceIP, &e.Action,
			&e.AuthzDecision, &e.AuthzPolicy, &e.Metadata, &e.ResponseSummary); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountAuditEvents returns the total number of persisted events.
func (s *Store) CountAuditEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
