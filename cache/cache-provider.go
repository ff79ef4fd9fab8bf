package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent raw HTTP responses
// exactly as they are sent to clients.
//
// Put must replace an entry in a single step: a concurrent Get returns either
// the previous bytes or the new ones, never a mix.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the stored bytes for the given key, if they exist.
	// A missing entry is not an error.
	Get(key string) ([]byte, bool, error)
	// Put stores bytes under the given key, replacing any previous entry.
	Put(key string, storedAt time.Time, bytes []byte) error
	// Has checks if the specified key exists in the cache.
	Has(key string) bool
	// Purge removes the cache entry for the given key.
	// Purging a missing key is not an error.
	Purge(key string) error
	// AllKeys calls the given callback for each key with the given prefix.
	AllKeys(prefix string, cb func(string)) error
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			stored_at INTEGER,
			bytes BLOB
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE key = ?", key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(key string, storedAt time.Time, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (key, stored_at, bytes) VALUES (?, ?, ?)", key, storedAt.Unix(), bytes)
	return err
}

func (s SQLiteCache) Has(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) AllKeys(prefix string, cb func(string)) error {
	// keys contain "_", which LIKE treats as a wildcard
	rows, err := s.db.Query("SELECT key FROM cache WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
