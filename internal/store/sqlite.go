package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hyperengineering/satchel/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed persistence layer for the sync subsystem.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// It enables WAL mode, runs migrations, and seeds the initial sync state
// (random device ID, LOCAL_ONLY tier) on first run.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.seedSyncState(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed sync state: %w", err)
	}

	return s, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// seedSyncState inserts the first-run sync state rows if absent.
func (s *SQLiteStore) seedSyncState(ctx context.Context) error {
	seeds := map[string]string{
		metaDeviceID: uuid.NewString(),
		metaTier:     string(types.TierLocalOnly),
	}
	for key, value := range seeds {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO sync_state (key, value) VALUES (?, ?)
		`, key, value)
		if err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
