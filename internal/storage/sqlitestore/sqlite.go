//go:build sqlite

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pastebin-lite/internal/storage"
)

// Store implements storage.Backend using SQLite. TTLs are kept in the
// expires_at column (unix milliseconds) and enforced on read.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get fetches a live value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `
SELECT value FROM kv
WHERE key = ? AND (expires_at IS NULL OR expires_at > ?);
`
	var value []byte
	if err := s.db.QueryRowContext(ctx, q, key, s.nowMillis()).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query kv: %w", err)
	}
	return value, nil
}

// Set inserts or replaces a value. A live expiry is kept; a lapsed one is dropped.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, NULL)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    expires_at = CASE WHEN kv.expires_at IS NOT NULL AND kv.expires_at <= ? THEN NULL ELSE kv.expires_at END;
`
	if _, err := s.db.ExecContext(ctx, q, key, value, s.nowMillis()); err != nil {
		return fmt.Errorf("save kv: %w", err)
	}
	return nil
}

// Expire sets the TTL of an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Del(ctx, key)
	}
	const q = `UPDATE kv SET expires_at = ? WHERE key = ?;`
	if _, err := s.db.ExecContext(ctx, q, s.now().Add(ttl).UnixMilli(), key); err != nil {
		return fmt.Errorf("expire kv: %w", err)
	}
	return nil
}

// Del removes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	const q = `DELETE FROM kv WHERE key = ?;`
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

// CompareAndSwap updates the row only when the stored bytes still match.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	const q = `
UPDATE kv SET value = ?
WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?);
`
	res, err := s.db.ExecContext(ctx, q, next, key, old, s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("swap kv: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// DeleteExpired removes all keys whose TTL elapsed at or before the given time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?;`
	res, err := s.db.ExecContext(ctx, q, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

var (
	_ storage.Backend = (*Store)(nil)
	_ storage.Swapper = (*Store)(nil)
	_ storage.Sweeper = (*Store)(nil)
)
