package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrMigration marks schema migration failures so the CLI can map them to
// a dedicated exit code.
var ErrMigration = errors.New("schema migration failed")

// Migration is one ordered schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS users (
					user_id TEXT PRIMARY KEY,
					username TEXT UNIQUE NOT NULL,
					password_hash TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'active',
					vault_salt BLOB NOT NULL,
					display_name TEXT NOT NULL DEFAULT '',
					email TEXT,
					is_admin INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS tool_profiles (
					profile_id TEXT PRIMARY KEY,
					name TEXT UNIQUE NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					allowed_tools TEXT NOT NULL DEFAULT '[]',
					denied_tools TEXT NOT NULL DEFAULT '[]',
					rate_limits TEXT NOT NULL DEFAULT '{}',
					inherited_from TEXT REFERENCES tool_profiles(profile_id) ON DELETE SET NULL,
					environment_scope TEXT NOT NULL DEFAULT '',
					time_restrictions TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE IF NOT EXISTS clients (
					client_id TEXT PRIMARY KEY,
					client_name TEXT NOT NULL,
					key_prefix TEXT NOT NULL,
					key_hash TEXT UNIQUE NOT NULL,
					user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
					profile_id TEXT REFERENCES tool_profiles(profile_id) ON DELETE SET NULL,
					status TEXT NOT NULL DEFAULT 'active',
					created_at TEXT NOT NULL,
					expires_at TEXT,
					last_used_at TEXT,
					metadata TEXT NOT NULL DEFAULT '{}'
				)`,
				`CREATE INDEX IF NOT EXISTS idx_clients_key_prefix ON clients(key_prefix)`,
				`CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id)`,
				`CREATE TABLE IF NOT EXISTS admin_keys (
					id TEXT PRIMARY KEY,
					key_hash TEXT NOT NULL,
					recovery_token_hash TEXT NOT NULL,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at TEXT NOT NULL,
					rotated_at TEXT
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_admin_keys_single_active
					ON admin_keys(is_active) WHERE is_active = 1`,
				`CREATE TABLE IF NOT EXISTS mcp_catalog (
					mcp_id TEXT PRIMARY KEY,
					name TEXT UNIQUE NOT NULL,
					display_name TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					transport_type TEXT NOT NULL,
					config TEXT NOT NULL DEFAULT '{}',
					isolation_mode TEXT NOT NULL DEFAULT 'shared',
					requires_user_credentials INTEGER NOT NULL DEFAULT 0,
					credential_schema TEXT,
					tool_catalog TEXT,
					validation_status TEXT NOT NULL DEFAULT 'pending',
					status TEXT NOT NULL DEFAULT 'draft',
					auth_type TEXT NOT NULL DEFAULT 'none',
					oauth_config TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS groups (
					group_id TEXT PRIMARY KEY,
					name TEXT UNIQUE NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'active'
				)`,
				`CREATE TABLE IF NOT EXISTS group_members (
					user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
					group_id TEXT NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
					UNIQUE(user_id, group_id)
				)`,
				`CREATE TABLE IF NOT EXISTS group_mcps (
					mcp_id TEXT NOT NULL REFERENCES mcp_catalog(mcp_id) ON DELETE CASCADE,
					group_id TEXT NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
					UNIQUE(mcp_id, group_id)
				)`,
				`CREATE TABLE IF NOT EXISTS subscriptions (
					subscription_id TEXT PRIMARY KEY,
					client_id TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
					mcp_id TEXT NOT NULL REFERENCES mcp_catalog(mcp_id) ON DELETE CASCADE,
					selected_tools TEXT NOT NULL DEFAULT '[]',
					status TEXT NOT NULL DEFAULT 'active',
					subscribed_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					UNIQUE(client_id, mcp_id)
				)`,
				`CREATE TABLE IF NOT EXISTS user_mcp_credentials (
					credential_id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
					mcp_id TEXT NOT NULL REFERENCES mcp_catalog(mcp_id) ON DELETE CASCADE,
					encrypted_credentials BLOB NOT NULL,
					encryption_iv BLOB NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					UNIQUE(user_id, mcp_id)
				)`,
				`CREATE TABLE IF NOT EXISTS user_sessions (
					session_id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
					client_id TEXT,
					status TEXT NOT NULL DEFAULT 'active',
					issued_at TEXT NOT NULL,
					expires_at TEXT NOT NULL,
					hmac_signature TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_user ON user_sessions(user_id)`,
				`CREATE TABLE IF NOT EXISTS audit_events (
					event_id TEXT PRIMARY KEY,
					timestamp TEXT NOT NULL,
					event_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					session_id TEXT,
					client_id TEXT,
					user_id TEXT,
					source_ip TEXT,
					action TEXT NOT NULL,
					authz_decision TEXT,
					authz_policy TEXT,
					metadata TEXT NOT NULL DEFAULT '{}',
					response_summary TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
			)
		},
	},
}

// Migrate applies pending migrations in order.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
			m.Version, NowUTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
