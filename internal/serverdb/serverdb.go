// Package serverdb is the storage layer of the reference sync server: the
// authoritative resource table plus an applied-mutation log that makes
// replayed mutation ids idempotent.
package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
    kind       TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       JSON NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (kind, id)
);

-- One row per successfully applied mutation id. Conflict outcomes are not
-- recorded: a later forced replay of the same id must be re-evaluated.
CREATE TABLE IF NOT EXISTS applied_mutations (
    mutation_id TEXT PRIMARY KEY,
    outcome     JSON NOT NULL,
    applied_at  TEXT NOT NULL
);
`

// DB wraps the server-side SQLite database.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the server database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return NewWithConn(conn)
}

// NewWithConn wraps an existing connection (tests use in-memory databases)
// and ensures the schema exists.
func NewWithConn(conn *sql.DB) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ApplyRequest is one mutation to apply to the authoritative state.
type ApplyRequest struct {
	MutationID   string
	Kind         string // create | update | delete
	ResourceKind string
	ResourceID   string
	Payload      json.RawMessage
	RecordedAt   time.Time
	Force        bool
}

// FieldDiff is one divergent field in a conflict outcome.
type FieldDiff struct {
	Field       string          `json:"field"`
	LocalValue  json.RawMessage `json:"local_value"`
	ServerValue json.RawMessage `json:"server_value"`
}

// Outcome is the result of applying (or refusing) a mutation.
type Outcome struct {
	Conflict        bool            `json:"conflict,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ServerData      json.RawMessage `json:"server_data,omitempty"`
	ServerUpdatedAt time.Time       `json:"server_updated_at,omitempty"`
	Conflicts       []FieldDiff     `json:"conflicts,omitempty"`
}

// Apply runs one mutation against the resource table inside a transaction.
// Replaying an already-applied mutation id returns the recorded outcome
// without touching state. Without the force flag, a resource modified more
// recently than RecordedAt is refused with a conflict outcome.
func (db *DB) Apply(req *ApplyRequest) (*Outcome, error) {
	if req.MutationID == "" {
		return nil, fmt.Errorf("apply: empty mutation id")
	}
	if req.ResourceKind == "" || req.ResourceID == "" {
		return nil, fmt.Errorf("apply: empty resource kind or id")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Idempotent replay
	var recorded []byte
	err = tx.QueryRow(`SELECT outcome FROM applied_mutations WHERE mutation_id = ?`, req.MutationID).Scan(&recorded)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup applied mutation: %w", err)
	}
	if err == nil {
		var out Outcome
		if err := json.Unmarshal(recorded, &out); err != nil {
			return nil, fmt.Errorf("unmarshal recorded outcome: %w", err)
		}
		return &out, nil
	}

	var existing []byte
	var updatedAtStr string
	exists := true
	err = tx.QueryRow(`SELECT data, updated_at FROM resources WHERE kind = ? AND id = ?`,
		req.ResourceKind, req.ResourceID).Scan(&existing, &updatedAtStr)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}

	if exists && !req.Force {
		updatedAt, err := time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse resource timestamp: %w", err)
		}
		if updatedAt.After(req.RecordedAt) {
			// Refused: someone else wrote after this mutation was recorded.
			return &Outcome{
				Conflict:        true,
				ServerData:      existing,
				ServerUpdatedAt: updatedAt,
				Conflicts:       diffFields(req.Payload, existing),
			}, nil
		}
	}

	now := time.Now().UTC()
	out := Outcome{}

	switch req.Kind {
	case "delete":
		if _, err := tx.Exec(`DELETE FROM resources WHERE kind = ? AND id = ?`,
			req.ResourceKind, req.ResourceID); err != nil {
			return nil, fmt.Errorf("delete resource: %w", err)
		}
		out.Data, _ = json.Marshal(map[string]any{"id": req.ResourceID, "deleted": true})

	case "create", "update":
		data := req.Payload
		if req.Kind == "update" && exists {
			merged, err := mergeFields(existing, req.Payload)
			if err != nil {
				return nil, fmt.Errorf("merge resource: %w", err)
			}
			data = merged
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO resources (kind, id, data, updated_at)
			VALUES (?, ?, ?, ?)`,
			req.ResourceKind, req.ResourceID, []byte(data), now.Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("upsert resource: %w", err)
		}
		out.Data = data

	default:
		return nil, fmt.Errorf("apply: unknown mutation kind %q", req.Kind)
	}

	outcomeJSON, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO applied_mutations (mutation_id, outcome, applied_at)
		VALUES (?, ?, ?)`,
		req.MutationID, outcomeJSON, now.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("record applied mutation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

// GetResource returns a resource's current data and timestamp, or nil data
// when the resource does not exist.
func (db *DB) GetResource(kind, id string) (json.RawMessage, time.Time, error) {
	var data []byte
	var updatedAtStr string
	err := db.conn.QueryRow(`SELECT data, updated_at FROM resources WHERE kind = ? AND id = ?`,
		kind, id).Scan(&data, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get resource %s/%s: %w", kind, id, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse resource timestamp: %w", err)
	}
	return data, updatedAt, nil
}

// TouchResource overwrites a resource directly, bypassing the mutation
// path. Test and admin use only.
func (db *DB) TouchResource(kind, id string, data json.RawMessage, at time.Time) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO resources (kind, id, data, updated_at)
		VALUES (?, ?, ?, ?)`,
		kind, id, []byte(data), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("touch resource %s/%s: %w", kind, id, err)
	}
	return nil
}

// mergeFields overlays payload fields onto the existing resource data.
func mergeFields(existing, payload json.RawMessage) (json.RawMessage, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(payload, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// diffFields reports fields present in both documents with differing
// values. The engine re-restricts this to its own allow-list; the server
// reports everything it sees.
func diffFields(local, server json.RawMessage) []FieldDiff {
	var lf, sf map[string]json.RawMessage
	if json.Unmarshal(local, &lf) != nil || json.Unmarshal(server, &sf) != nil {
		return nil
	}
	keys := make([]string, 0, len(lf))
	for k := range lf {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []FieldDiff
	for _, k := range keys {
		lv := lf[k]
		sv, ok := sf[k]
		if !ok {
			continue
		}
		var a, b any
		if json.Unmarshal(lv, &a) != nil || json.Unmarshal(sv, &b) != nil {
			continue
		}
		ac, _ := json.Marshal(a)
		bc, _ := json.Marshal(b)
		if string(ac) != string(bc) {
			out = append(out, FieldDiff{Field: k, LocalValue: lv, ServerValue: sv})
		}
	}
	return out
}
