package respcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMiss is returned by Store.Get when no response is cached for a key.
var ErrMiss = errors.New("cache miss")

// Entry is a stored copy of a response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store persists cached responses in SQLite, partitioned by cache name so
// whole generations can be dropped at once.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, cacheName, key string) (*Entry, error) {
	var (
		e        Entry
		header   string
		storedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, header, body, stored_at FROM response_cache
		WHERE cache_name = ? AND request_key = ?
	`, cacheName, key).Scan(&e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached response: %w", err)
	}

	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("failed to decode cached headers: %w", err)
	}
	if e.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt); err != nil {
		return nil, fmt.Errorf("failed to decode cached timestamp: %w", err)
	}
	return &e, nil
}

func (s *Store) Put(ctx context.Context, cacheName, key string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO response_cache (cache_name, request_key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, request_key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, cacheName, key, e.Status, string(header), body, e.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}
	return nil
}

// Names lists every cache generation that holds at least one entry.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cache_name FROM response_cache ORDER BY cache_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating caches: %w", err)
	}
	return names, nil
}

// DeleteCache drops a whole generation and reports how many entries it held.
func (s *Store) DeleteCache(ctx context.Context, cacheName string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_name = ?`, cacheName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache %s: %w", cacheName, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
