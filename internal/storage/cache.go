package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CacheStore keeps short-lived API responses keyed by request.
type CacheStore struct {
	db  *Database
	now func() time.Time
}

// NewCacheStore creates a new cache store.
func NewCacheStore(db *Database) *CacheStore {
	return &CacheStore{db: db, now: time.Now}
}

// Get returns the cached value for key if it has not expired.
func (s *CacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := s.db.Rebind(`SELECT value FROM cache WHERE key = ? AND expires_at > ?`)
	err := s.db.GetContext(ctx, &value, query, key, s.now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key for ttl.
func (s *CacheStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := s.db.Rebind(`
		INSERT INTO cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`)
	_, err := s.db.ExecContext(ctx, query, key, value, s.now().Add(ttl).UTC())
	return err
}

// PurgeExpired removes expired entries and returns how many were dropped.
func (s *CacheStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`DELETE FROM cache WHERE expires_at <= ?`)
	result, err := s.db.ExecContext(ctx, query, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
