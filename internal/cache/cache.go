// Package cache implements the durable fetch cache backed by SQLite. Entries
// are immutable once written: a refresh after TTL expiry replaces the row
// wholesale. Fetch provides the stampede guard: at most one in-flight fetch
// per key, with concurrent callers sharing the first result.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key         TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	fetched_at  INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

// Store is a durable key/value cache with per-entry TTL.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	group  singleflight.Group

	// now is swappable for expiry tests.
	now func() time.Time
}

// Open initializes the cache database at the given path, creating parent
// directories and the schema as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key derives the cache key for a fetch: hash(source, query, params).
// Params are canonicalized by sorted key so equivalent fetches collide.
func Key(source, query string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(source)
	b.WriteByte('|')
	b.WriteString(query)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns the payload for key if a fresh entry exists. Expired entries
// are reported as misses; they are superseded on the next Put.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var payload []byte
	var fetchedAt, ttlSeconds int64
	err := s.db.QueryRow(
		"SELECT payload, fetched_at, ttl_seconds FROM entries WHERE key = ?", key,
	).Scan(&payload, &fetchedAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}
	expiry := time.Unix(fetchedAt, 0).Add(time.Duration(ttlSeconds) * time.Second)
	if s.now().After(expiry) {
		s.logger.Debug("cache entry expired", zap.String("key", key))
		return nil, false, nil
	}
	return payload, true, nil
}

// Put stores a payload under key, replacing any prior entry.
func (s *Store) Put(key string, payload []byte, ttl time.Duration) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (key, payload, fetched_at, ttl_seconds) VALUES (?, ?, ?, ?)",
		key, payload, s.now().Unix(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Fetch returns the cached payload for key, or invokes fn exactly once to
// produce it, writing through on success. Concurrent callers for the same key
// wait on the first in-flight fetch instead of issuing duplicates. A fetch
// error is returned to all waiters and nothing is cached.
func (s *Store) Fetch(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if payload, ok, err := s.Get(key); err != nil {
		return nil, false, err
	} else if ok {
		return payload, true, nil
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		// Re-check under the flight: a sibling may have committed between
		// our miss and acquiring the flight.
		if payload, ok, err := s.Get(key); err != nil {
			return nil, err
		} else if ok {
			return payload, nil
		}
		payload, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Put(key, payload, ttl); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		s.logger.Debug("cache fetch shared with in-flight call", zap.String("key", key))
	}
	return v.([]byte), false, nil
}
