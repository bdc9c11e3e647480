// Package history records each operation the tool runs (processing cycles,
// snapshots, restores, sweeps) in a SQLite database so past runs can be
// inspected and summarized.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itsvetkov1/Sentient-Inbox/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Operation statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Operation is one recorded run of a command.
type Operation struct {
	ID         string
	Kind       string // "run", "snapshot", "restore", "verify", "rotate", "sweep"
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Skipped    int
	Failed     int
	Detail     string
}

// Store persists operations in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the history database at path and applies pending
// migrations. path can be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite ships with foreign keys off for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// StartOperation inserts a new running operation and returns its ID.
func (s *Store) StartOperation(ctx context.Context, kind string, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id, kind, StatusRunning, startedAt)
	if err != nil {
		return "", fmt.Errorf("recording operation start: %w", err)
	}
	return id, nil
}

// FinishOperation marks an operation as completed or failed with its counts.
func (s *Store) FinishOperation(ctx context.Context, id, status string, finishedAt time.Time, processed, skipped, failed int, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, finished_at = ?, processed = ?, skipped = ?, failed = ?, detail = ? WHERE id = ?`,
		status, finishedAt, processed, skipped, failed, detail, id)
	if err != nil {
		return fmt.Errorf("recording operation finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking operation update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation not found: %s", id)
	}
	return nil
}

// Recent returns the most recent operations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, status, started_at, finished_at, processed, skipped, failed, detail
		 FROM operations ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var finishedAt sql.NullTime
		if err := rows.Scan(&op.ID, &op.Kind, &op.Status, &op.StartedAt, &finishedAt,
			&op.Processed, &op.Skipped, &op.Failed, &op.Detail); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			op.FinishedAt = &t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}
	return ops, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
