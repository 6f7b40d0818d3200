package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/offsync/internal/models"
)

// AddConflict inserts a new, unresolved ledger entry.
func (s *Store) AddConflict(e *models.ConflictLedgerEntry) error {
	fields, err := json.Marshal(e.FieldConflicts)
	if err != nil {
		return fmt.Errorf("add conflict %s: marshal fields: %w", e.ID, err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO conflicts (id, mutation_id, field_conflicts, created_at)
		VALUES (?, ?, ?, ?)`,
		e.ID, e.MutationID, fields, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add conflict %s: %w", e.ID, err)
	}
	return nil
}

// GetConflict returns the ledger entry with the given id, or nil if absent.
func (s *Store) GetConflict(id string) (*models.ConflictLedgerEntry, error) {
	row := s.conn.QueryRow(`
		SELECT id, mutation_id, field_conflicts, created_at, COALESCE(resolved_at, ''), COALESCE(resolution, '')
		FROM conflicts WHERE id = ?`, id)
	e, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}
	return e, nil
}

// ResolveConflict sets resolved_at and resolution in a single write so the
// two can never diverge. Fails if the entry is missing or already resolved.
func (s *Store) ResolveConflict(id string, res models.Resolution, at time.Time) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: marshal resolution: %w", id, err)
	}
	r, err := s.conn.Exec(`
		UPDATE conflicts SET resolved_at = ?, resolution = ?
		WHERE id = ? AND resolved_at IS NULL`,
		formatTime(at), data, id,
	)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve conflict %s: not found or already resolved", id)
	}
	return nil
}

// UnresolvedConflicts returns open ledger entries, oldest first.
func (s *Store) UnresolvedConflicts() ([]models.ConflictLedgerEntry, error) {
	return s.queryConflicts(`
		SELECT id, mutation_id, field_conflicts, created_at, COALESCE(resolved_at, ''), COALESCE(resolution, '')
		FROM conflicts WHERE resolved_at IS NULL ORDER BY created_at ASC, id ASC`)
}

// AllConflicts returns the full ledger, oldest first.
func (s *Store) AllConflicts() ([]models.ConflictLedgerEntry, error) {
	return s.queryConflicts(`
		SELECT id, mutation_id, field_conflicts, created_at, COALESCE(resolved_at, ''), COALESCE(resolution, '')
		FROM conflicts ORDER BY created_at ASC, id ASC`)
}

// ConflictByMutation returns the newest unresolved entry for a mutation, or
// nil if there is none.
func (s *Store) ConflictByMutation(mutationID string) (*models.ConflictLedgerEntry, error) {
	row := s.conn.QueryRow(`
		SELECT id, mutation_id, field_conflicts, created_at, COALESCE(resolved_at, ''), COALESCE(resolution, '')
		FROM conflicts WHERE mutation_id = ? AND resolved_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, mutationID)
	e, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conflict by mutation %s: %w", mutationID, err)
	}
	return e, nil
}

func (s *Store) queryConflicts(query string) ([]models.ConflictLedgerEntry, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.ConflictLedgerEntry
	for rows.Next() {
		e, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanConflict(row rowScanner) (*models.ConflictLedgerEntry, error) {
	var e models.ConflictLedgerEntry
	var fields []byte
	var createdAt, resolvedAt, resolution string
	if err := row.Scan(&e.ID, &e.MutationID, &fields, &createdAt, &resolvedAt, &resolution); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &e.FieldConflicts); err != nil {
		return nil, fmt.Errorf("conflict %s: unmarshal fields: %w", e.ID, err)
	}
	ts, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("conflict %s: %w", e.ID, err)
	}
	e.CreatedAt = ts
	if resolvedAt != "" {
		rt, err := parseTimestamp(resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("conflict %s: %w", e.ID, err)
		}
		e.ResolvedAt = &rt
	}
	if resolution != "" {
		var res models.Resolution
		if err := json.Unmarshal([]byte(resolution), &res); err != nil {
			return nil, fmt.Errorf("conflict %s: unmarshal resolution: %w", e.ID, err)
		}
		e.Resolution = &res
	}
	return &e, nil
}
