// Package sqlitestore is a checkpoint.Store backed by an embedded SQLite
// database, grounded on the teacher's SQLiteStore (graph/store/sqlite.go):
// same pure-Go driver, same WAL/busy-timeout pragmas, same
// create-tables-on-open migration.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dshills/workflow-core/checkpoint"
)

// Store is a SQLite-backed checkpoint.Store. A single file holds every
// session's checkpoint tree plus the idempotency-key index.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path (":memory:" for an
// ephemeral in-process database) and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers; one connection avoids lock contention.

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (session_id, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session_parent ON checkpoints(session_id, parent_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value TEXT NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// CreateCheckpoint implements checkpoint.Store.
func (s *Store) CreateCheckpoint(ctx context.Context, info checkpoint.Info, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, checkpoint_id, parent_id, step, label, created_at, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.SessionID, info.ID, info.ParentID, info.Step, info.Label, info.Timestamp, value)
	if err != nil {
		if isUniqueViolation(err) {
			return checkpoint.ErrAlreadyExists
		}
		return fmt.Errorf("sqlitestore: create checkpoint: %w", err)
	}
	return nil
}

// RetrieveCheckpoint implements checkpoint.Store.
func (s *Store) RetrieveCheckpoint(ctx context.Context, sessionID, checkpointID string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM checkpoints WHERE session_id = ? AND checkpoint_id = ?`,
		sessionID, checkpointID).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: retrieve checkpoint: %w", err)
	}
	return value, nil
}

// RetrieveIndex implements checkpoint.Store.
func (s *Store) RetrieveIndex(ctx context.Context, sessionID string, parentID *string) ([]checkpoint.Info, error) {
	var rows *sql.Rows
	var err error
	if parentID != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT checkpoint_id, parent_id, step, label, created_at FROM checkpoints
			 WHERE session_id = ? AND parent_id = ?`, sessionID, *parentID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT checkpoint_id, parent_id, step, label, created_at FROM checkpoints
			 WHERE session_id = ?`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: retrieve index: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Info
	for rows.Next() {
		var info checkpoint.Info
		info.SessionID = sessionID
		if err := rows.Scan(&info.ID, &info.ParentID, &info.Step, &info.Label, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan index row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// CheckIdempotency implements checkpoint.Store.
func (s *Store) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT key_value FROM idempotency_keys WHERE key_value = ?`, key).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlitestore: check idempotency: %w", err)
	}
	return true, nil
}

// MarkIdempotency implements checkpoint.Store.
func (s *Store) MarkIdempotency(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO idempotency_keys (key_value) VALUES (?)`, key)
	if err != nil {
		return fmt.Errorf("sqlitestore: mark idempotency: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations as a plain error
	// whose message contains the SQLite error text; there is no typed
	// sentinel to compare against.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
