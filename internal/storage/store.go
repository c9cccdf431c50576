package storage

import (
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when the key has no row.
var ErrNotFound = errors.New("storage: key not found")

// Change describes a single mutation delivered to watchers.
type Change struct {
	Key     string
	Value   string
	Removed bool
}

// Store is a flat string key/value store with change notification.
// Watchers observe mutations made through this process only.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
	Watch(fn func(Change)) (cancel func())
}

type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		watchers: make(map[int]func(Change)),
	}
}

func (s *SQLiteStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	s.notify(Change{Key: key, Value: value})
	return nil
}

func (s *SQLiteStore) Remove(key string) error {
	res, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(Change{Key: key, Removed: true})
	}
	return nil
}

func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Watch registers fn for every subsequent mutation. Callbacks run
// synchronously on the mutating goroutine, so they must not call back
// into the store's write methods.
func (s *SQLiteStore) Watch(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *SQLiteStore) notify(ch Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
