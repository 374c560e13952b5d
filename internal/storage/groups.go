package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

// CreateGroup inserts a new group.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.Status == "" {
		g.Status = GroupStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, name, description, status) VALUES (?, ?, ?, ?)`,
		g.GroupID, g.Name, g.Description, g.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.CodeConflict, "group name %q already exists", g.Name)
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup loads one group by ID.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT group_id, name, description, status FROM groups WHERE group_id = ?`, groupID)
	var g Group
	err := row.Scan(&g.GroupID, &g.Name, &g.Description, &g.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return &g, nil
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, name, description, status FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.GroupID, &g.Name, &g.Description, &g.Status); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// UpdateGroup patches name, description and status.
func (s *Store) UpdateGroup(ctx context.Context, g *Group) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET name = ?, description = ?, status = ? WHERE group_id = ?`,
		g.Name, g.Description, g.Status, g.GroupID)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return requireRow(res, "group")
}

// DeleteGroup removes a group; memberships cascade.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return requireRow(res, "group")
}

// AddGroupMember links a user into a group.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (user_id, group_id) VALUES (?, ?)`, userID, groupID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeConflict, "user already in group")
		}
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember unlinks a user from a group.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE user_id = ? AND group_id = ?`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return requireRow(res, "membership")
}

// AddGroupMcp links an MCP into a group.
func (s *Store) AddGroupMcp(ctx context.Context, groupID, mcpID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_mcps (mcp_id, group_id) VALUES (?, ?)`, mcpID, groupID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeConflict, "mcp already in group")
		}
		return fmt.Errorf("failed to add group mcp: %w", err)
	}
	return nil
}

// RemoveGroupMcp unlinks an MCP from a group.
func (s *Store) RemoveGroupMcp(ctx context.Context, groupID, mcpID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_mcps WHERE mcp_id = ? AND group_id = ?`, mcpID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove group mcp: %w", err)
	}
	return requireRow(res, "membership")
}

// UserCanAccessMcp implements the access predicate: some active group must
// contain both the user and the MCP, and the MCP must be published.
func (s *Store) UserCanAccessMcp(ctx context.Context, userID, mcpID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)
		FROM group_members gm
		JOIN group_mcps gc ON gm.group_id = gc.group_id
		JOIN groups g ON g.group_id = gm.group_id
		JOIN mcp_catalog m ON m.mcp_id = gc.mcp_id
		WHERE gm.user_id = ? AND gc.mcp_id = ?
		  AND g.status = 'active' AND m.status = 'published'`,
		userID, mcpID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate group access: %w", err)
	}
	return n > 0, nil
}

// ListAccessibleMcps returns the published MCPs a user can reach through
// active group membership, ordered by name.
func (s *Store) ListAccessibleMcps(ctx context.Context, userID string) ([]*McpCatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT `+prefixedCatalogColumns("m")+`
		FROM mcp_catalog m
		JOIN group_mcps gc ON gc.mcp_id = m.mcp_id
		JOIN group_members gm ON gm.group_id = gc.group_id
		JOIN groups g ON g.group_id = gc.group_id
		WHERE gm.user_id = ? AND g.status = 'active' AND m.status = 'published'
		ORDER BY m.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessible mcps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*McpCatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListGroupIDsForUser returns the active groups a user belongs to.
func (s *Store) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT gm.group_id
		FROM group_members gm
		JOIN groups g ON g.group_id = gm.group_id
		WHERE gm.user_id = ? AND g.status = 'active'
		ORDER BY gm.group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func prefixedCatalogColumns(alias string) string {
	return alias + `.mcp_id, ` + alias + `.name, ` + alias + `.display_name, ` +
		alias + `.description, ` + alias + `.transport_type, ` + alias + `.config, ` +
		alias + `.isolation_mode, ` + alias + `.requires_user_credentials, ` +
		`COALESCE(` + alias + `.credential_schema, ''), COALESCE(` + alias + `.tool_catalog, ''), ` +
		alias + `.validation_status, ` + alias + `.status, ` + alias + `.auth_type, ` +
		`COALESCE(` + alias + `.oauth_config, ''), ` + alias + `.created_at, ` + alias + `.updated_at`
}
