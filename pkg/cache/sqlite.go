package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		relevance_score REAL NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at);
`

// SQLiteStore is the default durable tier
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create cache directory: %v", ErrCacheIO, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrCacheIO, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL mode: %v", ErrCacheIO, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrCacheIO, err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Save(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (id, payload, created_at, size_bytes, compressed, relevance_score, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			size_bytes = excluded.size_bytes,
			compressed = excluded.compressed,
			relevance_score = excluded.relevance_score,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed`,
		e.ID, e.Payload, e.CreatedAt.UnixNano(), e.SizeBytes, e.Compressed,
		e.RelevanceScore, e.AccessCount, e.LastAccessed.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrCacheIO, e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Entry, error) {
	var (
		e                 Entry
		created, accessed int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, payload, created_at, size_bytes, compressed, relevance_score, access_count, last_accessed
		FROM cache_entries WHERE id = ?`, id,
	).Scan(&e.ID, &e.Payload, &created, &e.SizeBytes, &e.Compressed, &e.RelevanceScore, &e.AccessCount, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrCacheIO, id, err)
	}
	e.CreatedAt = time.Unix(0, created)
	e.LastAccessed = time.Unix(0, accessed)
	return &e, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrCacheIO, id, err)
	}
	return nil
}

func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM cache_entries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: list ids: %v", ErrCacheIO, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %v", ErrCacheIO, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list ids: %v", ErrCacheIO, err)
	}
	return ids, nil
}

// FreeRatio returns freelist_count / page_count
func (s *SQLiteStore) FreeRatio(ctx context.Context) (float64, error) {
	var free, pages int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA freelist_count").Scan(&free); err != nil {
		return 0, fmt.Errorf("%w: freelist_count: %v", ErrCacheIO, err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("%w: page_count: %v", ErrCacheIO, err)
	}
	if pages == 0 {
		return 0, nil
	}
	return float64(free) / float64(pages), nil
}

// Compact rewrites the database file
func (s *SQLiteStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("%w: vacuum: %v", ErrCacheIO, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
