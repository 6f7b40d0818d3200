// Package events defines the typed event surface of the sync engine and an
// in-process bus for delivering those events to observers (CLI, TUI, tests)
// without polling.
package events

import (
	"encoding/json"
	"time"

	"github.com/marcus/offsync/internal/models"
)

// Kind identifies the concrete type of an Event.
type Kind string

const (
	KindInitialized      Kind = "initialized"
	KindOnline           Kind = "online"
	KindOffline          Kind = "offline"
	KindActionRecorded   Kind = "action_recorded"
	KindSyncStarted      Kind = "sync_started"
	KindSyncCompleted    Kind = "sync_completed"
	KindConflictDetected Kind = "conflict_detected"
	KindConflictResolved Kind = "conflict_resolved"
	KindSyncFailed       Kind = "sync_failed"
)

// Event is the closed set of notifications the engine publishes. Subscribers
// switch on the concrete type; EventKind exists for logging and display.
type Event interface {
	EventKind() Kind
}

// Initialized is published once when the engine is constructed.
type Initialized struct {
	At time.Time
}

// Online is published on an offline-to-online transition.
type Online struct{}

// Offline is published on an online-to-offline transition.
type Offline struct{}

// ActionRecorded is published after a mutation is durably queued.
type ActionRecorded struct {
	Mutation models.MutationRecord
}

// SyncStarted is published at the beginning of a drain cycle.
type SyncStarted struct {
	Pending int
}

// SyncCompleted summarises one full drain cycle.
type SyncCompleted struct {
	Processed int
	Conflicts int
}

// ConflictDetected is published when the server reports a write-write
// conflict for a mutation.
type ConflictDetected struct {
	Mutation   models.MutationRecord
	Conflicts  []models.FieldConflict
	ConflictID string
}

// ConflictResolved is published after a forced sync closes out a conflict.
type ConflictResolved struct {
	ConflictID string
	Resolution models.Resolution
	FinalData  json.RawMessage
}

// SyncFailed is published exactly once when a mutation exhausts its retry
// budget. The mutation stays pending until the caller intervenes.
type SyncFailed struct {
	Mutation models.MutationRecord
	Err      error
}

func (Initialized) EventKind() Kind      { return KindInitialized }
func (Online) EventKind() Kind           { return KindOnline }
func (Offline) EventKind() Kind          { return KindOffline }
func (ActionRecorded) EventKind() Kind   { return KindActionRecorded }
func (SyncStarted) EventKind() Kind      { return KindSyncStarted }
func (SyncCompleted) EventKind() Kind    { return KindSyncCompleted }
func (ConflictDetected) EventKind() Kind { return KindConflictDetected }
func (ConflictResolved) EventKind() Kind { return KindConflictResolved }
func (SyncFailed) EventKind() Kind       { return KindSyncFailed }
