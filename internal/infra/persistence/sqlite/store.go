// Package sqlite persists the run ledger to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"dispensecore/pkg/domain"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.RunStore = (*Store)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "dispensecore.db"

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	payload BLOB NOT NULL
)`

// Store keeps one row per run with the full record as a JSON payload.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating when needed) the SQLite file at path and ensures
// the runs table exists.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file backing the store.
func (s *Store) Path() string { return s.path }

// SaveRun upserts the run row.
func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs(id, name, status, started_at, payload) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, started_at=excluded.started_at, payload=excluded.payload`,
		run.ID, run.Name, string(run.Status), run.StartedAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, domain.ErrRunNotFound{ID: id}
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("select run %s: %w", id, err)
	}
	return decodeRun(payload)
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Run, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		run, err := decodeRun(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// DeleteRun removes the run row and reports whether one existed.
func (s *Store) DeleteRun(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeRun(payload []byte) (domain.Run, error) {
	var run domain.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return domain.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}
