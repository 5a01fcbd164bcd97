// Package cache stores derived, rebuildable values in the cache database.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultTTL bounds how long an entry can outlive a missed invalidation
const DefaultTTL = 24 * time.Hour

// Cache is a key/value store with expiration backed by the cache table.
// Values are msgpack encoded.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// New creates a cache with DefaultTTL
func New(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		ttl: DefaultTTL,
		now: time.Now,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// WithTTL returns a copy of the cache using ttl for new entries
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	cp := *c
	cp.ttl = ttl
	return &cp
}

// Get decodes the entry stored under key into dest. It reports false when the
// key is missing or expired.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx, "SELECT value, expires_at FROM cache WHERE key = ?", key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if c.now().Unix() >= expiresAt {
		return false, nil
	}

	if err := msgpack.Unmarshal(value, dest); err != nil {
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any previous entry
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %s: %w", key, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, data, c.now().Add(c.ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Delete removes a cache entry
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes all entries whose key starts with prefix and returns
// how many were removed
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache prefix %s: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpired removes expired entries
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM cache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.log.Debug().Int64("entries", n).Msg("Purged expired cache entries")
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
