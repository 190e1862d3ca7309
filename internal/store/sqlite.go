package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seantiz/taskloop/internal/snapshot"

	_ "modernc.org/sqlite"
)

const createTaskTable = `
CREATE TABLE IF NOT EXISTS task_table (
    position     INTEGER PRIMARY KEY,
    task_id      TEXT NOT NULL,
    status       TEXT NOT NULL,
    description  TEXT NOT NULL,
    duration     TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    error        TEXT NOT NULL,
    info         TEXT NOT NULL
)`

const createSnapshotMeta = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    rendered_at DATETIME NOT NULL,
    row_count   INTEGER NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// snapshot rewrites.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTaskTable, createSnapshotMeta} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Write replaces the stored task table with rows in a single transaction.
func (s *SQLiteStore) Write(ctx context.Context, rows []snapshot.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_table"); err != nil {
		return fmt.Errorf("clear task table: %w", err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO task_table (
				position, task_id, status, description, duration,
				created_at, completed_at, error, info
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare row insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				i, r.TaskID, r.Status, r.Description, r.Duration,
				r.CreatedAt, r.CompletedAt, r.Error, r.Info,
			); err != nil {
				return fmt.Errorf("insert row for task %s: %w", r.TaskID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, rendered_at, row_count) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rendered_at = excluded.rendered_at, row_count = excluded.row_count`,
		s.now().UTC(), len(rows),
	); err != nil {
		return fmt.Errorf("update snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Rows returns the stored task table in row order.
func (s *SQLiteStore) Rows(ctx context.Context) ([]snapshot.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, status, description, duration,
			created_at, completed_at, error, info
		FROM task_table ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list task rows: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Row
	for rows.Next() {
		var r snapshot.Row
		if err := rows.Scan(
			&r.TaskID, &r.Status, &r.Description, &r.Duration,
			&r.CreatedAt, &r.CompletedAt, &r.Error, &r.Info,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

// Stats returns row counts per status and the time of the last snapshot.
func (s *SQLiteStore) Stats(ctx context.Context) (*TableStats, error) {
	stats := &TableStats{
		CountByStatus: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM task_table GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var renderedAt time.Time
	err = s.db.QueryRowContext(ctx, "SELECT rendered_at FROM snapshot_meta WHERE id = 1").Scan(&renderedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("get snapshot meta: %w", err)
	default:
		stats.RenderedAt = &renderedAt
	}

	return stats, nil
}
