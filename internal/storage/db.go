// Package storage persists ambassador entities in a SQLite database under
// the data directory. All mutations go through transactions; foreign keys
// are enforced so user deletion cascades to clients, sessions, credentials
// and subscriptions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	// modernc.org/sqlite is a pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// DatabaseFilename is the relational store file under the data directory.
const DatabaseFilename = "ambassador.db"

// Open opens (creating if needed) the ambassador database in dataDir and
// applies pending migrations.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, DatabaseFilename)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; serialize access through a single connection
	// instead of relying on busy retries.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := Migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Store wraps the SQLite handle with entity-level operations.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components that run their own transactions,
// such as credential master-key rotation.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

// NowUTC returns the current time formatted the way every timestamp column
// stores it: ISO-8601 UTC.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
