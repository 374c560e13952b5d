package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

const subscriptionColumns = `subscription_id, client_id, mcp_id,
	selected_tools, status, subscribed_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var sub Subscription
	var selected string
	err := row.Scan(&sub.SubscriptionID, &sub.ClientID, &sub.McpID,
		&selected, &sub.Status, &sub.SubscribedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(selected), &sub.SelectedTools); err != nil {
		return nil, fmt.Errorf("corrupt selected_tools for subscription %s: %w", sub.SubscriptionID, err)
	}
	return &sub, nil
}

// CreateSubscription links a client to an MCP. The (client, mcp) pair is
// unique.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	selected, err := json.Marshal(emptyIfNil(sub.SelectedTools))
	if err != nil {
		return err
	}
	now := NowUTC()
	sub.SubscribedAt, sub.UpdatedAt = now, now
	if sub.Status == "" {
		sub.Status = SubscriptionActive
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO subscriptions
		(subscription_id, client_id, mcp_id, selected_tools, status, subscribed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.SubscriptionID, sub.ClientID, sub.McpID, string(selected),
		sub.Status, sub.SubscribedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeConflict, "client is already subscribed to this mcp")
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription loads one subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = ?`, subscriptionID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "subscription not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionsByClient returns a client's subscriptions, optionally
// restricted to active ones.
func (s *Store) ListSubscriptionsByClient(ctx context.Context, clientID string, activeOnly bool) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE client_id = ?`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY subscribed_at`

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListSubscriptionsByUser aggregates subscriptions across every client the
// user owns.
func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.subscription_id, s.client_id,
		s.mcp_id, s.selected_tools, s.status, s.subscribed_at, s.updated_at
		FROM subscriptions s
		JOIN clients c ON c.client_id = s.client_id
		WHERE c.user_id = ?
		ORDER BY s.subscribed_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubscription patches selected tools and status.
func (s *Store) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	selected, err := json.Marshal(emptyIfNil(sub.SelectedTools))
	if err != nil {
		return err
	}
	sub.UpdatedAt = NowUTC()
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions
		SET selected_tools = ?, status = ?, updated_at = ?
		WHERE subscription_id = ?`,
		string(selected), sub.Status, sub.UpdatedAt, sub.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireRow(res, "subscription")
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscription_id = ?`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return requireRow(res, "subscription")
}
