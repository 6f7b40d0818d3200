package models

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// MutationKind classifies what a mutation does to its resource.
type MutationKind string

const (
	KindCreate MutationKind = "create"
	KindUpdate MutationKind = "update"
	KindDelete MutationKind = "delete"
)

// IsValidMutationKind checks if the given kind string is valid.
func IsValidMutationKind(k string) bool {
	switch MutationKind(k) {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Status represents the sync lifecycle state of a mutation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSyncing    Status = "syncing"
	StatusCompleted  Status = "completed"
	StatusConflicted Status = "conflicted"
)

// MutationRecord is the unit of offline work: a single create/update/delete
// intent recorded locally, possibly while disconnected. The ID doubles as
// the idempotency key for every sync attempt of this record.
type MutationRecord struct {
	ID           string          `json:"id"`
	Kind         MutationKind    `json:"kind"`
	ResourceKind string          `json:"resource_kind"`
	Payload      json.RawMessage `json:"payload"`
	PriorPayload json.RawMessage `json:"prior_payload,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"` // immutable once written
	Status       Status          `json:"status"`
	RetryCount   int             `json:"retry_count"`
}

// ResolutionChoice is the caller's decision for a conflicted mutation.
type ResolutionChoice string

const (
	ChoiceLocal  ResolutionChoice = "local"
	ChoiceServer ResolutionChoice = "server"
	ChoiceMerge  ResolutionChoice = "merge"
)

// IsValidResolutionChoice checks if the given choice string is valid.
func IsValidResolutionChoice(c string) bool {
	switch ResolutionChoice(c) {
	case ChoiceLocal, ChoiceServer, ChoiceMerge:
		return true
	}
	return false
}

// Resolution is how a caller settles a conflict. MergedPayload is required
// for ChoiceMerge and ignored otherwise; the engine never merges on its own.
type Resolution struct {
	Choice        ResolutionChoice `json:"choice"`
	MergedPayload json.RawMessage  `json:"merged_payload,omitempty"`
}

// FieldConflict describes one field that diverged between the local payload
// and the server's current state. Purely informational: the engine records
// it, the caller interprets it.
type FieldConflict struct {
	Field           string          `json:"field"`
	LocalValue      json.RawMessage `json:"local_value"`
	ServerValue     json.RawMessage `json:"server_value"`
	LocalTimestamp  time.Time       `json:"local_timestamp"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

// ConflictLedgerEntry is the durable record of a detected conflict and its
// eventual resolution. It outlives the originating mutation so history
// survives pruning. ResolvedAt and Resolution are set together or not at all.
type ConflictLedgerEntry struct {
	ID             string          `json:"id"`
	MutationID     string          `json:"mutation_id"`
	FieldConflicts []FieldConflict `json:"field_conflicts"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	Resolution     *Resolution     `json:"resolution,omitempty"`
}

// Resolved reports whether this entry has been closed out.
func (e *ConflictLedgerEntry) Resolved() bool {
	return e.ResolvedAt != nil && e.Resolution != nil
}

// CacheEntry is a last-known-good snapshot of a remote resource, written
// only by the sync processor on successful sync.
type CacheEntry struct {
	ResourceKind string          `json:"resource_kind"`
	ResourceID   string          `json:"resource_id"`
	Data         json.RawMessage `json:"data"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// NewID generates a random identifier with the given prefix, e.g. "mu-a1b2c3d4e5f6".
func NewID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// a timestamp so we still produce something unique-ish.
		return prefix + hex.EncodeToString([]byte(time.Now().UTC().Format("150405.000")))[:12]
	}
	return prefix + hex.EncodeToString(b)
}

// ResourceIDFromPayload extracts the "id" field from a JSON payload.
// Returns "" when the payload has no usable id.
func ResourceIDFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ID
}
