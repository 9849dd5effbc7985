// Package state persists download history in a sqlite database.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// ErrNotFound is returned when no row matches the requested id.
var ErrNotFound = errors.New("download not found")

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	dest_path    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	total_size   INTEGER NOT NULL DEFAULT -1,
	downloaded   INTEGER NOT NULL DEFAULT 0,
	mime         TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_downloads_started_at ON downloads(started_at);
`

const columns = `id, url, filename, dest_path, status, total_size, downloaded, mime, error, started_at, completed_at`

// Store is the download history table.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serialises writers; sqlite allows one at a time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		utils.Debug("state: pragma failed: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	utils.Debug("state: opened %s", path)
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts or replaces the row for e.ID.
func (s *Store) Upsert(ctx context.Context, e types.DownloadEntry) error {
	if e.ID == "" {
		return errors.New("entry without id")
	}
	if e.StartedAt == 0 {
		e.StartedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	url = excluded.url,
	filename = excluded.filename,
	dest_path = excluded.dest_path,
	status = excluded.status,
	total_size = excluded.total_size,
	downloaded = excluded.downloaded,
	mime = excluded.mime,
	error = excluded.error,
	started_at = excluded.started_at,
	completed_at = excluded.completed_at`,
		e.ID, e.URL, e.Filename, e.DestPath, e.Status, e.TotalSize, e.Downloaded,
		e.Mime, e.Error, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save download %s: %w", e.ID, err)
	}
	return nil
}

// UpdateStatus changes only the status and error of a row.
func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE downloads SET status = ?, error = ? WHERE id = ?`, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update download %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the row for id.
func (s *Store) Get(ctx context.Context, id string) (*types.DownloadEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM downloads WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListSince returns rows started at or after t, oldest first.
func (s *Store) ListSince(ctx context.Context, t time.Time) ([]types.DownloadEntry, error) {
	return s.query(ctx, `SELECT `+columns+` FROM downloads WHERE started_at >= ? ORDER BY started_at, id`, t.UnixMilli())
}

// ListAll returns every row, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]types.DownloadEntry, error) {
	return s.query(ctx, `SELECT `+columns+` FROM downloads ORDER BY started_at, id`)
}

// Remove deletes the row for id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove download %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]types.DownloadEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.DownloadEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*types.DownloadEntry, error) {
	var e types.DownloadEntry
	err := sc.Scan(&e.ID, &e.URL, &e.Filename, &e.DestPath, &e.Status, &e.TotalSize,
		&e.Downloaded, &e.Mime, &e.Error, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
