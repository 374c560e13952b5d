package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

var mcpNameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidMcpName reports whether an MCP catalog name is well formed.
func ValidMcpName(name string) bool {
	return name != "" && mcpNameRe.MatchString(name)
}

const catalogColumns = `mcp_id, name, display_name, description,
	transport_type, config, isolation_mode, requires_user_credentials,
	COALESCE(credential_schema, ''), COALESCE(tool_catalog, ''),
	validation_status, status, auth_type, COALESCE(oauth_config, ''),
	created_at, updated_at`

func scanCatalogEntry(row interface{ Scan(...any) error }) (*McpCatalogEntry, error) {
	var e McpCatalogEntry
	var requiresCreds int
	err := row.Scan(&e.McpID, &e.Name, &e.DisplayName, &e.Description,
		&e.TransportType, &e.Config, &e.IsolationMode, &requiresCreds,
		&e.CredentialSchema, &e.ToolCatalog, &e.ValidationStatus, &e.Status,
		&e.AuthType, &e.OAuthConfig, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.RequiresUserCredentials = requiresCreds != 0
	return &e, nil
}

// CreateCatalogEntry inserts a new draft MCP.
func (s *Store) CreateCatalogEntry(ctx context.Context, e *McpCatalogEntry) error {
	if !ValidMcpName(e.Name) {
		return apperr.Newf(apperr.CodeValidationError, "invalid mcp name %q", e.Name)
	}
	now := NowUTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = McpStatusDraft
	}
	if e.ValidationStatus == "" {
		e.ValidationStatus = McpValidationPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO mcp_catalog
		(mcp_id, name, display_name, description, transport_type, config, isolation_mode,
		 requires_user_credentials, credential_schema, tool_catalog, validation_status,
		 status, auth_type, oauth_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.McpID, e.Name, e.DisplayName, e.Description, e.TransportType, e.Config,
		e.IsolationMode, boolInt(e.RequiresUserCredentials),
		nullable(e.CredentialSchema), nullable(e.ToolCatalog), e.ValidationStatus,
		e.Status, e.AuthType, nullable(e.OAuthConfig), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.CodeConflict, "mcp name %q already exists", e.Name)
		}
		return fmt.Errorf("failed to create catalog entry: %w", err)
	}
	return nil
}

// GetCatalogEntry loads one catalog row by ID.
func (s *Store) GetCatalogEntry(ctx context.Context, mcpID string) (*McpCatalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM mcp_catalog WHERE mcp_id = ?`, mcpID)
	e, err := scanCatalogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "mcp not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog entry: %w", err)
	}
	return e, nil
}

// GetCatalogEntryByName loads one catalog row by unique name.
func (s *Store) GetCatalogEntryByName(ctx context.Context, name string) (*McpCatalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM mcp_catalog WHERE name = ?`, name)
	e, err := scanCatalogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "mcp not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog entry: %w", err)
	}
	return e, nil
}

// ListCatalogEntries returns catalog rows, optionally filtered by status,
// ordered by name.
func (s *Store) ListCatalogEntries(ctx context.Context, status string) ([]*McpCatalogEntry, error) {
	query := `SELECT ` + catalogColumns + ` FROM mcp_catalog`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
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

// structuralChanged reports whether a patch touches a field frozen after
// publication.
func structuralChanged(existing, updated *McpCatalogEntry) bool {
	return existing.Name != updated.Name ||
		existing.TransportType != updated.TransportType ||
		existing.Config != updated.Config ||
		existing.IsolationMode != updated.IsolationMode
}

// UpdateCatalogEntry applies a patch. Structural fields of a published
// entry are immutable and rejected as published_mcp_structural_change.
func (s *Store) UpdateCatalogEntry(ctx context.Context, e *McpCatalogEntry) error {
	existing, err := s.GetCatalogEntry(ctx, e.McpID)
	if err != nil {
		return err
	}
	if existing.Status == McpStatusPublished && structuralChanged(existing, e) {
		return apperr.New(apperr.CodeStructuralChange,
			"structural fields of a published mcp are immutable")
	}

	e.UpdatedAt = NowUTC()
	_, err = s.db.ExecContext(ctx, `UPDATE mcp_catalog SET
		name = ?, display_name = ?, description = ?, transport_type = ?, config = ?,
		isolation_mode = ?, requires_user_credentials = ?, credential_schema = ?,
		tool_catalog = ?, validation_status = ?, auth_type = ?, oauth_config = ?,
		updated_at = ?
		WHERE mcp_id = ?`,
		e.Name, e.DisplayName, e.Description, e.TransportType, e.Config,
		e.IsolationMode, boolInt(e.RequiresUserCredentials),
		nullable(e.CredentialSchema), nullable(e.ToolCatalog), e.ValidationStatus,
		e.AuthType, nullable(e.OAuthConfig), e.UpdatedAt, e.McpID)
	if err != nil {
		return fmt.Errorf("failed to update catalog entry: %w", err)
	}
	return nil
}

// SetCatalogStatus transitions a catalog entry between draft, published and
// archived.
func (s *Store) SetCatalogStatus(ctx context.Context, mcpID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_catalog SET status = ?, updated_at = ? WHERE mcp_id = ?`,
		status, NowUTC(), mcpID)
	if err != nil {
		return fmt.Errorf("failed to set catalog status: %w", err)
	}
	return requireRow(res, "mcp")
}

// SetCatalogValidation records a validation verdict on an entry.
func (s *Store) SetCatalogValidation(ctx context.Context, mcpID, verdict string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_catalog SET validation_status = ?, updated_at = ? WHERE mcp_id = ?`,
		verdict, NowUTC(), mcpID)
	if err != nil {
		return fmt.Errorf("failed to set validation status: %w", err)
	}
	return requireRow(res, "mcp")
}

// SetCatalogToolList caches the discovered tool catalog JSON on the entry.
func (s *Store) SetCatalogToolList(ctx context.Context, mcpID, toolCatalog string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_catalog SET tool_catalog = ?, updated_at = ? WHERE mcp_id = ?`,
		toolCatalog, NowUTC(), mcpID)
	if err != nil {
		return fmt.Errorf("failed to cache tool catalog: %w", err)
	}
	return requireRow(res, "mcp")
}

// DeleteCatalogEntry removes an archived entry. Deleting entries in any
// other state is forbidden.
func (s *Store) DeleteCatalogEntry(ctx context.Context, mcpID string) error {
	existing, err := s.GetCatalogEntry(ctx, mcpID)
	if err != nil {
		return err
	}
	if existing.Status != McpStatusArchived {
		return apperr.New(apperr.CodeUnprocessable, "only archived mcps may be deleted")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_catalog WHERE mcp_id = ?`, mcpID)
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return requireRow(res, "mcp")
}
