package store

import (
	"database/sql"
	"fmt"

	"github.com/marcus/offsync/internal/models"
)

// AddMutation inserts a new mutation record. Fails if the id already exists.
func (s *Store) AddMutation(m *models.MutationRecord) error {
	_, err := s.conn.Exec(`
		INSERT INTO mutations (id, kind, resource_kind, payload, prior_payload, recorded_at, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.ResourceKind, []byte(m.Payload), nullableJSON(m.PriorPayload),
		formatTime(m.RecordedAt), string(m.Status), m.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("add mutation %s: %w", m.ID, err)
	}
	return nil
}

// GetMutation returns the mutation with the given id, or nil if absent.
func (s *Store) GetMutation(id string) (*models.MutationRecord, error) {
	row := s.conn.QueryRow(`
		SELECT id, kind, resource_kind, payload, COALESCE(prior_payload, ''), recorded_at, status, retry_count
		FROM mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation %s: %w", id, err)
	}
	return m, nil
}

// PutMutation fully replaces an existing mutation record.
func (s *Store) PutMutation(m *models.MutationRecord) error {
	res, err := s.conn.Exec(`
		UPDATE mutations
		SET kind = ?, resource_kind = ?, payload = ?, prior_payload = ?, recorded_at = ?, status = ?, retry_count = ?
		WHERE id = ?`,
		string(m.Kind), m.ResourceKind, []byte(m.Payload), nullableJSON(m.PriorPayload),
		formatTime(m.RecordedAt), string(m.Status), m.RetryCount, m.ID,
	)
	if err != nil {
		return fmt.Errorf("put mutation %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put mutation %s: rows affected: %w", m.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("put mutation %s: not found", m.ID)
	}
	return nil
}

// DeleteMutation removes a mutation record. No-op if absent.
func (s *Store) DeleteMutation(id string) error {
	if _, err := s.conn.Exec(`DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete mutation %s: %w", id, err)
	}
	return nil
}

// MutationsByStatus returns all mutations with the given status, ordered by
// recorded_at ascending.
func (s *Store) MutationsByStatus(status models.Status) ([]models.MutationRecord, error) {
	rows, err := s.conn.Query(`
		SELECT id, kind, resource_kind, payload, COALESCE(prior_payload, ''), recorded_at, status, retry_count
		FROM mutations WHERE status = ? ORDER BY recorded_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query mutations by status %s: %w", status, err)
	}
	return collectMutations(rows)
}

// AllMutations returns every mutation ordered by recorded_at ascending.
func (s *Store) AllMutations() ([]models.MutationRecord, error) {
	rows, err := s.conn.Query(`
		SELECT id, kind, resource_kind, payload, COALESCE(prior_payload, ''), recorded_at, status, retry_count
		FROM mutations ORDER BY recorded_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all mutations: %w", err)
	}
	return collectMutations(rows)
}

// CountByStatus returns the number of mutations per status.
func (s *Store) CountByStatus() (map[models.Status]int, error) {
	rows, err := s.conn.Query(`SELECT status, COUNT(*) FROM mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count mutations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// PruneCompleted deletes all completed mutations and returns how many were
// removed. Conflict ledger entries referencing them are left intact.
func (s *Store) PruneCompleted() (int, error) {
	res, err := s.conn.Exec(`DELETE FROM mutations WHERE status = ?`, string(models.StatusCompleted))
	if err != nil {
		return 0, fmt.Errorf("prune completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune completed: rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*models.MutationRecord, error) {
	var m models.MutationRecord
	var kind, status, recordedAt, prior string
	var payload []byte
	if err := row.Scan(&m.ID, &kind, &m.ResourceKind, &payload, &prior, &recordedAt, &status, &m.RetryCount); err != nil {
		return nil, err
	}
	m.Kind = models.MutationKind(kind)
	m.Status = models.Status(status)
	m.Payload = payload
	if prior != "" {
		m.PriorPayload = []byte(prior)
	}
	ts, err := parseTimestamp(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("mutation %s: %w", m.ID, err)
	}
	m.RecordedAt = ts
	return &m, nil
}

func collectMutations(rows *sql.Rows) ([]models.MutationRecord, error) {
	defer rows.Close()
	var out []models.MutationRecord
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// nullableJSON maps empty payloads to NULL so optional columns stay NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
