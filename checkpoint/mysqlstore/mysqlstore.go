// Package mysqlstore is a checkpoint.Store backed by MySQL/MariaDB,
// grounded on the teacher's MySQLStore (graph/store/mysql.go) — same
// connection pooling and table shape, narrowed to the checkpoint-blob
// schema. Intended for shared/networked durability, unlike sqlitestore's
// single-host file.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/workflow-core/checkpoint"
)

// Store is a MySQL-backed checkpoint.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (e.g. "user:password@tcp(127.0.0.1:3306)/workflows?parseTime=true")
// and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	s := &Store{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			parent_id VARCHAR(255) NOT NULL DEFAULT '',
			step INT NOT NULL,
			label VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			value LONGBLOB NOT NULL,
			PRIMARY KEY (session_id, checkpoint_id),
			INDEX idx_session_parent (session_id, parent_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value VARCHAR(255) NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysqlstore: create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// CreateCheckpoint implements checkpoint.Store.
func (s *Store) CreateCheckpoint(ctx context.Context, info checkpoint.Info, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, checkpoint_id, parent_id, step, label, created_at, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.SessionID, info.ID, info.ParentID, info.Step, info.Label, info.Timestamp, value)
	if err != nil {
		if isDuplicateKey(err) {
			return checkpoint.ErrAlreadyExists
		}
		return fmt.Errorf("mysqlstore: create checkpoint: %w", err)
	}
	return nil
}

// RetrieveCheckpoint implements checkpoint.Store.
func (s *Store) RetrieveCheckpoint(ctx context.Context, sessionID, checkpointID string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM checkpoints WHERE session_id = ? AND checkpoint_id = ?`,
		sessionID, checkpointID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: retrieve checkpoint: %w", err)
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
		return nil, fmt.Errorf("mysqlstore: retrieve index: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Info
	for rows.Next() {
		var info checkpoint.Info
		info.SessionID = sessionID
		if err := rows.Scan(&info.ID, &info.ParentID, &info.Step, &info.Label, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan index row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// CheckIdempotency implements checkpoint.Store.
func (s *Store) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT key_value FROM idempotency_keys WHERE key_value = ?`, key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mysqlstore: check idempotency: %w", err)
	}
	return true, nil
}

// MarkIdempotency implements checkpoint.Store.
func (s *Store) MarkIdempotency(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `INSERT IGNORE INTO idempotency_keys (key_value) VALUES (?)`, key)
	if err != nil {
		return fmt.Errorf("mysqlstore: mark idempotency: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	// go-sql-driver/mysql surfaces constraint violations as *mysql.MySQLError
	// (code 1062); matching on the message avoids importing the driver's
	// internal error type just to compare one error code.
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}
