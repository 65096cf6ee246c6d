package llm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taleteller/taleteller/internal/hashing"
)

// Cache is a content-addressed KV store for raw LLM responses. Keys are
// composite hashes (MakeCacheKey); values are the raw response strings.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS llm_cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    created_at REAL NOT NULL
);
`

// OpenCache opens (or creates) the cache database at path. ttlSeconds <= 0
// means entries never expire.
func OpenCache(path string, ttlSeconds int) (*Cache, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Cache{db: db, ttl: time.Duration(ttlSeconds) * time.Second}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key. Expired entries are deleted on read
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value string
	var createdAt float64
	err := c.db.QueryRowContext(ctx,
		"SELECT value, created_at FROM llm_cache WHERE key = ?", key).Scan(&value, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if c.ttl > 0 {
		age := time.Since(time.Unix(0, int64(createdAt*float64(time.Second))))
		if age > c.ttl {
			if _, err := c.db.ExecContext(ctx, "DELETE FROM llm_cache WHERE key = ?", key); err != nil {
				return "", false, err
			}
			return "", false, nil
		}
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO llm_cache (key, value, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at
	`, key, value, now)
	return err
}

// Delete removes an entry. Used when a cached payload fails to parse, so a
// corrupt entry is never served twice.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, "DELETE FROM llm_cache WHERE key = ?", key)
	return err
}

// MakeCacheKey builds a content-addressed key by joining parts with "::"
// and hashing.
func MakeCacheKey(parts ...string) string {
	return hashing.Composite(parts...)
}
