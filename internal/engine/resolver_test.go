package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/syncclient"
)

// conflictFixture drains one conflicting mutation and returns the open
// ledger entry id.
func conflictFixture(t *testing.T, h *harness) string {
	t.Helper()
	queueMutation(t, h, "mu-1", time.Now().UTC(), models.KindUpdate, "note", `{"id":"n1","title":"local","body":"same"}`)
	h.transport.script("mu-1", &syncclient.SyncResponse{
		Type:       syncclient.ResponseTypeConflict,
		ServerData: []byte(`{"id":"n1","title":"server","body":"same"}`),
	}, nil)
	if _, err := h.engine.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	open, err := h.engine.UnresolvedConflicts()
	if err != nil || len(open) != 1 {
		t.Fatalf("expected one open conflict, got %d (err %v)", len(open), err)
	}
	h.drainEvents()
	return open[0].ID
}

func TestResolveKeepLocal(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)

	final, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceLocal})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(final) != `{"id":"n1","title":"local","body":"same"}` {
		t.Errorf("final data: got %s, want the local payload", final)
	}

	// The replay must carry the force flag.
	reqs := h.transport.requests
	last := reqs[len(reqs)-1]
	if !last.Force {
		t.Error("forced sync request missing force flag")
	}

	if got := h.queue.status(t, "mu-1"); got != models.StatusCompleted {
		t.Errorf("mutation status: got %s, want completed", got)
	}
	entry, _ := h.ledger.GetConflict(conflictID)
	if !entry.Resolved() {
		t.Error("ledger entry should be closed")
	}
	if entry.Resolution.Choice != models.ChoiceLocal {
		t.Errorf("recorded choice: got %s, want local", entry.Resolution.Choice)
	}

	resolved := h.eventsOfKind(events.KindConflictResolved)
	if len(resolved) != 1 {
		t.Errorf("ConflictResolved events: got %d, want 1", len(resolved))
	}

	cached, _ := h.engine.CachedResource("note", "n1")
	if cached == nil {
		t.Fatal("no cache entry after resolution")
	}
	if string(cached.Data) != string(final) {
		t.Errorf("cache holds %s, want %s", cached.Data, final)
	}
}

func TestResolveAcceptServer(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)

	final, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceServer})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Server values overlay the conflicting fields only.
	if string(final) != `{"body":"same","id":"n1","title":"server"}` {
		t.Errorf("final data: got %s", final)
	}
}

func TestResolveMerge(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)

	merged := []byte(`{"id":"n1","title":"local+server","body":"same"}`)
	final, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{
		Choice:        models.ChoiceMerge,
		MergedPayload: merged,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(final) != string(merged) {
		t.Errorf("final data: got %s, want the merged payload", final)
	}
}

func TestResolveMergeRequiresPayload(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)

	_, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceMerge})
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("got %v, want ErrInvalidResolution", err)
	}
}

func TestResolveInvalidChoice(t *testing.T) {
	h := setupEngine(t, Policy{})

	_, err := h.engine.Resolve(context.Background(), "cf-x", models.Resolution{Choice: "coinflip"})
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("got %v, want ErrInvalidResolution", err)
	}
}

func TestResolveMissingConflict(t *testing.T) {
	h := setupEngine(t, Policy{})

	_, err := h.engine.Resolve(context.Background(), "cf-ghost", models.Resolution{Choice: models.ChoiceLocal})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestResolveAlreadyResolved(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)

	if _, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceLocal}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceServer})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("got %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveFailedForcedSyncKeepsConflictOpen(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)
	h.transport.script("mu-1", nil, syncclient.ErrTransient)

	_, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceLocal})
	if err == nil {
		t.Fatal("expected error when forced sync fails")
	}

	entry, _ := h.ledger.GetConflict(conflictID)
	if entry.Resolved() {
		t.Error("ledger entry must stay open after a failed forced sync")
	}
	if got := h.queue.status(t, "mu-1"); got != models.StatusConflicted {
		t.Errorf("mutation status: got %s, want conflicted", got)
	}
}

func TestResolveServerRejectsForcedWrite(t *testing.T) {
	h := setupEngine(t, Policy{})
	conflictID := conflictFixture(t, h)
	h.transport.script("mu-1", &syncclient.SyncResponse{
		Type:       syncclient.ResponseTypeConflict,
		ServerData: []byte(`{"id":"n1","title":"even newer"}`),
	}, nil)

	_, err := h.engine.Resolve(context.Background(), conflictID, models.Resolution{Choice: models.ChoiceLocal})
	if err == nil {
		t.Fatal("expected error when server conflicts on a forced write")
	}
	entry, _ := h.ledger.GetConflict(conflictID)
	if entry.Resolved() {
		t.Error("ledger entry must stay open")
	}
}
