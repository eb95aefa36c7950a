package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/use-agent/serpcrawl/models"
)

// SQLiteStore persists records in a single SQLite file. The full record is
// kept as JSON next to the columns used for listing and filtering;
// timestamps are Unix nanoseconds.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	engine      TEXT NOT NULL,
	query       TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	error_code  TEXT,
	record_json TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs(updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Terminal rows are never overwritten.
const upsertJob = `
INSERT INTO jobs (id, engine, query, status, attempts, error_code, record_json, created_at, updated_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status      = excluded.status,
	attempts    = excluded.attempts,
	error_code  = excluded.error_code,
	record_json = excluded.record_json,
	updated_at  = excluded.updated_at,
	finished_at = excluded.finished_at
WHERE jobs.status NOT IN ('completed', 'failed')
`

// OpenSQLite opens or creates the database at path, creating its directory.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, rec *models.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	var finished sql.NullInt64
	if rec.FinishedAt != nil {
		finished = sql.NullInt64{Int64: rec.FinishedAt.UnixNano(), Valid: true}
	}
	created := rec.Job.CreatedAt
	if created.IsZero() {
		created = rec.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, upsertJob,
		rec.Job.ID,
		string(rec.Job.Engine),
		rec.Job.Query(),
		string(rec.Status),
		rec.Attempts,
		nullString(rec.ErrorCode),
		string(data),
		created.UnixNano(),
		rec.UpdatedAt.UnixNano(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("store: save job %s: %w", rec.Job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.JobRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT record_json FROM jobs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load job %s: %w", id, err)
	}
	return decodeRecord([]byte(data))
}

// List returns the most recently updated records first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT record_json FROM jobs ORDER BY updated_at DESC, rowid DESC LIMIT ?", listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.JobRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
