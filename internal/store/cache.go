package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/offsync/internal/models"
)

// PutCacheEntry inserts or replaces the snapshot for a resource.
func (s *Store) PutCacheEntry(e *models.CacheEntry) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO cache_entries (resource_kind, resource_id, data, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ResourceKind, e.ResourceID, []byte(e.Data), formatTime(e.UpdatedAt), formatTime(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put cache %s/%s: %w", e.ResourceKind, e.ResourceID, err)
	}
	return nil
}

// GetCacheEntry returns the snapshot for a resource, or nil on a miss.
// Entries past their expiry read as a miss but are not deleted; eviction is
// the sweep's job.
func (s *Store) GetCacheEntry(resourceKind, resourceID string, now time.Time) (*models.CacheEntry, error) {
	row := s.conn.QueryRow(`
		SELECT resource_kind, resource_id, data, updated_at, expires_at
		FROM cache_entries WHERE resource_kind = ? AND resource_id = ?`,
		resourceKind, resourceID)

	var e models.CacheEntry
	var data []byte
	var updatedAt, expiresAt string
	err := row.Scan(&e.ResourceKind, &e.ResourceID, &data, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache %s/%s: %w", resourceKind, resourceID, err)
	}
	e.Data = data
	if e.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("cache %s/%s: %w", resourceKind, resourceID, err)
	}
	if e.ExpiresAt, err = parseTimestamp(expiresAt); err != nil {
		return nil, fmt.Errorf("cache %s/%s: %w", resourceKind, resourceID, err)
	}
	if e.Expired(now) {
		return nil, nil
	}
	return &e, nil
}

// DeleteCacheEntry removes the snapshot for a resource. No-op if absent.
func (s *Store) DeleteCacheEntry(resourceKind, resourceID string) error {
	if _, err := s.conn.Exec(`DELETE FROM cache_entries WHERE resource_kind = ? AND resource_id = ?`,
		resourceKind, resourceID); err != nil {
		return fmt.Errorf("delete cache %s/%s: %w", resourceKind, resourceID, err)
	}
	return nil
}

// SweepExpiredCache evicts entries whose expiry is before now. The queue and
// ledger are untouched.
func (s *Store) SweepExpiredCache(now time.Time) (int, error) {
	res, err := s.conn.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep cache: rows affected: %w", err)
	}
	return int(n), nil
}
