package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

func scanProfile(row interface{ Scan(...any) error }) (*ToolProfile, error) {
	var p ToolProfile
	var allowed, denied, limits string
	err := row.Scan(&p.ProfileID, &p.Name, &p.Description, &allowed, &denied,
		&limits, &p.InheritedFrom, &p.EnvironmentScope, &p.TimeRestrictions)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allowed), &p.AllowedTools); err != nil {
		return nil, fmt.Errorf("corrupt allowed_tools for profile %s: %w", p.ProfileID, err)
	}
	if err := json.Unmarshal([]byte(denied), &p.DeniedTools); err != nil {
		return nil, fmt.Errorf("corrupt denied_tools for profile %s: %w", p.ProfileID, err)
	}
	if err := json.Unmarshal([]byte(limits), &p.RateLimits); err != nil {
		return nil, fmt.Errorf("corrupt rate_limits for profile %s: %w", p.ProfileID, err)
	}
	return &p, nil
}

const profileColumns = `profile_id, name, description, allowed_tools,
	denied_tools, rate_limits, COALESCE(inherited_from, ''),
	environment_scope, time_restrictions`

// SaveProfile inserts or replaces a tool profile. Cyclic inheritance is
// rejected at write time.
func (s *Store) SaveProfile(ctx context.Context, p *ToolProfile) error {
	if p.InheritedFrom != "" {
		if err := s.checkInheritanceCycle(ctx, p.ProfileID, p.InheritedFrom); err != nil {
			return err
		}
	}

	allowed, err := json.Marshal(emptyIfNil(p.AllowedTools))
	if err != nil {
		return err
	}
	denied, err := json.Marshal(emptyIfNil(p.DeniedTools))
	if err != nil {
		return err
	}
	limits, err := json.Marshal(p.RateLimits)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tool_profiles
		(profile_id, name, description, allowed_tools, denied_tools, rate_limits, inherited_from, environment_scope, time_restrictions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			allowed_tools = excluded.allowed_tools,
			denied_tools = excluded.denied_tools,
			rate_limits = excluded.rate_limits,
			inherited_from = excluded.inherited_from,
			environment_scope = excluded.environment_scope,
			time_restrictions = excluded.time_restrictions`,
		p.ProfileID, p.Name, p.Description, string(allowed), string(denied),
		string(limits), nullable(p.InheritedFrom), p.EnvironmentScope, p.TimeRestrictions)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.CodeConflict, "profile name %q already exists", p.Name)
		}
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// checkInheritanceCycle walks the proposed parent chain and rejects writes
// that would revisit the profile being saved or exceed depth 5.
func (s *Store) checkInheritanceCycle(ctx context.Context, profileID, parentID string) error {
	const maxDepth = 5
	seen := map[string]bool{profileID: true}
	current := parentID
	for depth := 0; current != ""; depth++ {
		if depth >= maxDepth {
			return apperr.New(apperr.CodeUnprocessable, "profile inheritance exceeds maximum depth")
		}
		if seen[current] {
			return apperr.New(apperr.CodeCycleDetected, "profile inheritance cycle detected")
		}
		seen[current] = true

		var next sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT inherited_from FROM tool_profiles WHERE profile_id = ?`, current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Newf(apperr.CodeNotFound, "parent profile %s not found", current)
		}
		if err != nil {
			return fmt.Errorf("failed to walk profile chain: %w", err)
		}
		current = next.String
	}
	return nil
}

// GetProfile loads one profile by ID.
func (s *Store) GetProfile(ctx context.Context, profileID string) (*ToolProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM tool_profiles WHERE profile_id = ?`, profileID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*ToolProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM tool_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*ToolProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile. Clients referencing it fall back to no
// profile via ON DELETE SET NULL.
func (s *Store) DeleteProfile(ctx context.Context, profileID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_profiles WHERE profile_id = ?`, profileID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return requireRow(res, "profile")
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
