package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/syncclient"
)

// Resolve applies a caller's decision to an open conflict. The resolved
// payload is replayed with the force flag so the server skips its
// optimistic-concurrency check, then the ledger entry is closed and the
// mutation completed.
//
// A missing ledger entry or mutation returns ErrNotFound; that can happen
// legitimately after pruning and callers should treat it as non-fatal. A
// failed forced sync is returned as an error and the mutation remains
// conflicted; an unresolved conflict never re-enters the retry path.
func (e *Engine) Resolve(ctx context.Context, conflictID string, res models.Resolution) (json.RawMessage, error) {
	if !models.IsValidResolutionChoice(string(res.Choice)) {
		return nil, fmt.Errorf("%w: unknown choice %q", ErrInvalidResolution, res.Choice)
	}

	entry, err := e.ledger.GetConflict(conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("conflict %s: %w", conflictID, ErrNotFound)
	}
	if entry.Resolved() {
		return nil, fmt.Errorf("conflict %s: %w", conflictID, ErrAlreadyResolved)
	}

	m, err := e.queue.GetMutation(entry.MutationID)
	if err != nil {
		return nil, fmt.Errorf("load mutation: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("mutation %s: %w", entry.MutationID, ErrNotFound)
	}

	final, err := finalPayload(m, entry, res)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.Sync(ctx, &syncclient.SyncRequest{
		ID:           m.ID,
		Kind:         string(m.Kind),
		ResourceKind: m.ResourceKind,
		Payload:      final,
		RecordedAt:   m.RecordedAt,
		Force:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("forced sync: %w", err)
	}
	if resp.Conflict() {
		// The server must not conflict on a forced write; treat it as a
		// resolution failure rather than re-queueing.
		return nil, fmt.Errorf("forced sync: server rejected forced write for mutation %s", m.ID)
	}

	now := e.now().UTC()
	if err := e.ledger.ResolveConflict(conflictID, res, now); err != nil {
		return nil, fmt.Errorf("close ledger entry: %w", err)
	}

	resourceID := models.ResourceIDFromPayload(resp.Data)
	if resourceID == "" {
		resourceID = models.ResourceIDFromPayload(final)
	}
	if resourceID != "" && len(resp.Data) > 0 {
		err := e.cache.PutCacheEntry(&models.CacheEntry{
			ResourceKind: m.ResourceKind,
			ResourceID:   resourceID,
			Data:         resp.Data,
			UpdatedAt:    now,
			ExpiresAt:    now.Add(e.policy.CacheTTL),
		})
		if err != nil {
			slog.Warn("write cache after resolution", "mutation", m.ID, "err", err)
		}
	}

	m.Status = models.StatusCompleted
	if err := e.queue.PutMutation(m); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	e.bus.Publish(events.ConflictResolved{
		ConflictID: conflictID,
		Resolution: res,
		FinalData:  resp.Data,
	})
	return resp.Data, nil
}

// finalPayload computes the payload a resolution will replay. The engine
// never merges on its own: merge requires a caller-supplied payload.
func finalPayload(m *models.MutationRecord, entry *models.ConflictLedgerEntry, res models.Resolution) (json.RawMessage, error) {
	switch res.Choice {
	case models.ChoiceLocal:
		return m.Payload, nil
	case models.ChoiceServer:
		final, err := OverlayServerValues(m.Payload, entry.FieldConflicts)
		if err != nil {
			return nil, fmt.Errorf("overlay server values: %w", err)
		}
		return final, nil
	case models.ChoiceMerge:
		if len(res.MergedPayload) == 0 {
			return nil, fmt.Errorf("%w: merge requires a merged payload", ErrInvalidResolution)
		}
		return res.MergedPayload, nil
	default:
		return nil, fmt.Errorf("%w: unknown choice %q", ErrInvalidResolution, res.Choice)
	}
}
