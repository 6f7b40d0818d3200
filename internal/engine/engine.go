// Package engine implements the offline-first sync processor: it drains the
// durable mutation queue in causal order, replays each mutation against the
// remote authority, and routes the outcome into the cache, the conflict
// ledger, or the retry path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/syncclient"
)

// Sentinel errors returned to callers.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrInvalidInput      = errors.New("invalid input")
)

// QueueStore is the durable mutation queue the processor drains.
type QueueStore interface {
	AddMutation(m *models.MutationRecord) error
	GetMutation(id string) (*models.MutationRecord, error)
	PutMutation(m *models.MutationRecord) error
	DeleteMutation(id string) error
	MutationsByStatus(status models.Status) ([]models.MutationRecord, error)
	AllMutations() ([]models.MutationRecord, error)
	PruneCompleted() (int, error)
}

// CacheStore holds last-known-good snapshots of remote resources.
type CacheStore interface {
	PutCacheEntry(e *models.CacheEntry) error
	GetCacheEntry(resourceKind, resourceID string, now time.Time) (*models.CacheEntry, error)
	DeleteCacheEntry(resourceKind, resourceID string) error
	SweepExpiredCache(now time.Time) (int, error)
}

// LedgerStore is the durable conflict history.
type LedgerStore interface {
	AddConflict(e *models.ConflictLedgerEntry) error
	GetConflict(id string) (*models.ConflictLedgerEntry, error)
	ResolveConflict(id string, res models.Resolution, at time.Time) error
	UnresolvedConflicts() ([]models.ConflictLedgerEntry, error)
}

// Transport submits a single mutation to the remote authority.
type Transport interface {
	Sync(ctx context.Context, req *syncclient.SyncRequest) (*syncclient.SyncResponse, error)
}

// Policy carries the tunable constants of the engine. The retry cap and
// interval are configuration, not load-bearing requirements.
type Policy struct {
	// RetryLimit caps automatic retries of a transiently failing mutation.
	RetryLimit int
	// SyncInterval is how often the monitor attempts a drain while online.
	SyncInterval time.Duration
	// CacheTTL is how long cached snapshots serve offline reads.
	CacheTTL time.Duration
	// ConflictFields maps a resource kind to the fields that matter for
	// conflict reporting. Kinds without an entry compare every field
	// present on both sides.
	ConflictFields map[string][]string
}

// DefaultPolicy returns the stock policy values.
func DefaultPolicy() Policy {
	return Policy{
		RetryLimit:   3,
		SyncInterval: 30 * time.Second,
		CacheTTL:     24 * time.Hour,
	}
}

// Options bundles the engine's injected dependencies.
type Options struct {
	Queue     QueueStore
	Cache     CacheStore
	Ledger    LedgerStore
	Transport Transport
	Bus       *events.Bus
	Policy    Policy
	Now       func() time.Time // defaults to time.Now
}

// Engine owns all status transitions of queued mutations and all cache
// writes. Exactly one drain cycle runs at a time.
type Engine struct {
	queue     QueueStore
	cache     CacheStore
	ledger    LedgerStore
	transport Transport
	bus       *events.Bus
	policy    Policy
	now       func() time.Time

	draining atomic.Bool
	online   atomic.Bool
}

// New validates dependencies and constructs an Engine. Publishes Initialized.
func New(opts Options) (*Engine, error) {
	if opts.Queue == nil || opts.Cache == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("engine: queue, cache, and ledger stores are required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("engine: transport is required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Policy.RetryLimit <= 0 {
		opts.Policy.RetryLimit = DefaultPolicy().RetryLimit
	}
	if opts.Policy.SyncInterval <= 0 {
		opts.Policy.SyncInterval = DefaultPolicy().SyncInterval
	}
	if opts.Policy.CacheTTL <= 0 {
		opts.Policy.CacheTTL = DefaultPolicy().CacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		queue:     opts.Queue,
		cache:     opts.Cache,
		ledger:    opts.Ledger,
		transport: opts.Transport,
		bus:       opts.Bus,
		policy:    opts.Policy,
		now:       opts.Now,
	}
	e.bus.Publish(events.Initialized{At: e.now().UTC()})
	return e, nil
}

// Bus returns the engine's event bus for subscribers.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Policy returns the engine's effective policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Online reports the last connectivity state set by the monitor.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// SetOnline records a connectivity transition and publishes the matching
// event. Returns true if the state actually changed.
func (e *Engine) SetOnline(online bool) bool {
	if e.online.Swap(online) == online {
		return false
	}
	if online {
		e.bus.Publish(events.Online{})
	} else {
		e.bus.Publish(events.Offline{})
	}
	return true
}

// RecordActionInput is the caller-facing shape of a new mutation.
type RecordActionInput struct {
	Kind         models.MutationKind
	ResourceKind string
	Payload      []byte
	PriorPayload []byte // optional pre-image
}

// RecordAction durably queues a mutation and returns its id. When online
// and idle, an opportunistic drain is kicked off in the background.
func (e *Engine) RecordAction(ctx context.Context, in RecordActionInput) (string, error) {
	if !models.IsValidMutationKind(string(in.Kind)) {
		return "", fmt.Errorf("%w: unknown mutation kind %q", ErrInvalidInput, in.Kind)
	}
	if in.ResourceKind == "" {
		return "", fmt.Errorf("%w: empty resource kind", ErrInvalidInput)
	}
	if len(in.Payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}

	rec := models.MutationRecord{
		ID:           models.NewID("mu-"),
		Kind:         in.Kind,
		ResourceKind: in.ResourceKind,
		Payload:      in.Payload,
		PriorPayload: in.PriorPayload,
		RecordedAt:   e.now().UTC(),
		Status:       models.StatusPending,
	}
	if err := e.queue.AddMutation(&rec); err != nil {
		// A failed queue write means the mutation may not be durable;
		// the caller must know.
		return "", fmt.Errorf("record action: %w", err)
	}

	e.bus.Publish(events.ActionRecorded{Mutation: rec})

	if e.Online() {
		go func() {
			if _, err := e.Drain(context.WithoutCancel(ctx)); err != nil {
				slog.Debug("opportunistic drain", "err", err)
			}
		}()
	}
	return rec.ID, nil
}

// DrainSummary is the result of one drain cycle.
type DrainSummary struct {
	Processed int
	Conflicts int
	Failed    int
	// Skipped is true when another drain cycle was already running and
	// this call returned without doing anything.
	Skipped bool
}

// Drain runs one pass over all pending mutations in recorded-at order.
// Single-flight: concurrent calls return immediately with Skipped set.
// Mutations are processed strictly sequentially; causal order across
// resource kinds is worth more than throughput here.
func (e *Engine) Drain(ctx context.Context) (DrainSummary, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainSummary{Skipped: true}, nil
	}
	defer e.draining.Store(false)

	// A mutation stuck in syncing means a previous run crashed mid-flight.
	// Its id is stable, so replaying is safe.
	stranded, err := e.queue.MutationsByStatus(models.StatusSyncing)
	if err != nil {
		return DrainSummary{}, fmt.Errorf("load stranded mutations: %w", err)
	}
	for i := range stranded {
		m := stranded[i]
		m.Status = models.StatusPending
		if err := e.queue.PutMutation(&m); err != nil {
			return DrainSummary{}, fmt.Errorf("reset stranded mutation %s: %w", m.ID, err)
		}
	}

	pending, err := e.queue.MutationsByStatus(models.StatusPending)
	if err != nil {
		return DrainSummary{}, fmt.Errorf("load pending mutations: %w", err)
	}
	// Global causal order across all resource kinds: a later mutation may
	// reference an id created by an earlier one of a different kind.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].RecordedAt.Before(pending[j].RecordedAt)
	})

	eligible := pending[:0:0]
	for _, m := range pending {
		if m.RetryCount < e.policy.RetryLimit {
			eligible = append(eligible, m)
		}
	}

	e.bus.Publish(events.SyncStarted{Pending: len(eligible)})

	var summary DrainSummary
	for i := range eligible {
		if ctx.Err() != nil {
			break // finish nothing new; the in-flight mutation already completed
		}
		outcome := e.processOne(ctx, &eligible[i])
		switch outcome {
		case outcomeCompleted:
			summary.Processed++
		case outcomeConflicted:
			summary.Processed++
			summary.Conflicts++
		case outcomeFailed:
			summary.Failed++
		}
	}

	e.bus.Publish(events.SyncCompleted{Processed: summary.Processed, Conflicts: summary.Conflicts})
	return summary, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeConflicted
	outcomeFailed
)

// processOne walks a single mutation through syncing and into its terminal
// state for this cycle. Store write failures are treated as "retry later":
// the record is left pending and the pass moves on.
func (e *Engine) processOne(ctx context.Context, m *models.MutationRecord) outcome {
	m.Status = models.StatusSyncing
	if err := e.queue.PutMutation(m); err != nil {
		slog.Warn("mark syncing", "mutation", m.ID, "err", err)
		return outcomeFailed
	}

	resp, err := e.transport.Sync(ctx, &syncclient.SyncRequest{
		ID:           m.ID,
		Kind:         string(m.Kind),
		ResourceKind: m.ResourceKind,
		Payload:      m.Payload,
		RecordedAt:   m.RecordedAt,
	})
	if err != nil {
		return e.rollbackTransient(m, err)
	}
	if resp.Conflict() {
		return e.recordConflict(m, resp)
	}
	return e.complete(m, resp.Data)
}

// complete writes the authoritative data into the cache and closes out the
// mutation.
func (e *Engine) complete(m *models.MutationRecord, data []byte) outcome {
	now := e.now().UTC()
	resourceID := models.ResourceIDFromPayload(data)
	if resourceID == "" {
		resourceID = models.ResourceIDFromPayload(m.Payload)
	}

	if resourceID != "" {
		if m.Kind == models.KindDelete {
			if err := e.cache.DeleteCacheEntry(m.ResourceKind, resourceID); err != nil {
				slog.Warn("evict cache", "mutation", m.ID, "err", err)
			}
		} else if len(data) > 0 {
			err := e.cache.PutCacheEntry(&models.CacheEntry{
				ResourceKind: m.ResourceKind,
				ResourceID:   resourceID,
				Data:         data,
				UpdatedAt:    now,
				ExpiresAt:    now.Add(e.policy.CacheTTL),
			})
			if err != nil {
				slog.Warn("write cache", "mutation", m.ID, "err", err)
			}
		}
	}

	m.Status = models.StatusCompleted
	if err := e.queue.PutMutation(m); err != nil {
		slog.Warn("mark completed", "mutation", m.ID, "err", err)
		return outcomeFailed
	}
	return outcomeCompleted
}

// recordConflict builds the allow-listed field diff, writes the ledger
// entry, and parks the mutation as conflicted.
func (e *Engine) recordConflict(m *models.MutationRecord, resp *syncclient.SyncResponse) outcome {
	conflicts := BuildFieldConflicts(
		m.Payload, resp.ServerData,
		e.policy.ConflictFields[m.ResourceKind],
		m.RecordedAt, resp.ServerUpdatedAt,
	)

	entry := models.ConflictLedgerEntry{
		ID:             models.NewID("cf-"),
		MutationID:     m.ID,
		FieldConflicts: conflicts,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.ledger.AddConflict(&entry); err != nil {
		// Without a ledger entry the conflict is unresolvable; retry the
		// whole mutation later instead.
		slog.Warn("write conflict ledger", "mutation", m.ID, "err", err)
		m.Status = models.StatusPending
		if perr := e.queue.PutMutation(m); perr != nil {
			slog.Warn("roll back to pending", "mutation", m.ID, "err", perr)
		}
		return outcomeFailed
	}

	m.Status = models.StatusConflicted
	if err := e.queue.PutMutation(m); err != nil {
		slog.Warn("mark conflicted", "mutation", m.ID, "err", err)
		return outcomeFailed
	}

	e.bus.Publish(events.ConflictDetected{
		Mutation:   *m,
		Conflicts:  conflicts,
		ConflictID: entry.ID,
	})
	return outcomeConflicted
}

// rollbackTransient returns the mutation to pending and bumps its retry
// count. Reaching the cap publishes exactly one SyncFailed; the record
// stays pending until the caller retries or discards it.
func (e *Engine) rollbackTransient(m *models.MutationRecord, cause error) outcome {
	m.Status = models.StatusPending
	m.RetryCount++
	if err := e.queue.PutMutation(m); err != nil {
		slog.Warn("roll back to pending", "mutation", m.ID, "err", err)
		return outcomeFailed
	}
	if m.RetryCount == e.policy.RetryLimit {
		slog.Info("mutation exhausted retries", "mutation", m.ID, "retries", m.RetryCount)
		e.bus.Publish(events.SyncFailed{Mutation: *m, Err: cause})
	}
	return outcomeFailed
}

// PendingMutations returns queued mutations awaiting sync, oldest first.
func (e *Engine) PendingMutations() ([]models.MutationRecord, error) {
	return e.queue.MutationsByStatus(models.StatusPending)
}

// ConflictedMutations returns mutations parked on an open conflict.
func (e *Engine) ConflictedMutations() ([]models.MutationRecord, error) {
	return e.queue.MutationsByStatus(models.StatusConflicted)
}

// UnresolvedConflicts returns open conflict ledger entries, oldest first.
func (e *Engine) UnresolvedConflicts() ([]models.ConflictLedgerEntry, error) {
	return e.ledger.UnresolvedConflicts()
}

// PruneCompleted removes completed mutations from the queue. Explicit only;
// the processor never prunes on its own, so the audit trail survives until
// the caller chooses otherwise.
func (e *Engine) PruneCompleted() (int, error) {
	return e.queue.PruneCompleted()
}

// RetryMutation resets the retry budget of a pending mutation that
// exhausted it, so the next drain picks it up again.
func (e *Engine) RetryMutation(id string) error {
	m, err := e.queue.GetMutation(id)
	if err != nil {
		return fmt.Errorf("retry mutation: %w", err)
	}
	if m == nil {
		return fmt.Errorf("retry mutation %s: %w", id, ErrNotFound)
	}
	if m.Status != models.StatusPending {
		return fmt.Errorf("%w: mutation %s is %s, not pending", ErrInvalidInput, id, m.Status)
	}
	m.RetryCount = 0
	return e.queue.PutMutation(m)
}

// DiscardMutation removes a pending or conflicted mutation from the queue.
func (e *Engine) DiscardMutation(id string) error {
	m, err := e.queue.GetMutation(id)
	if err != nil {
		return fmt.Errorf("discard mutation: %w", err)
	}
	if m == nil {
		return fmt.Errorf("discard mutation %s: %w", id, ErrNotFound)
	}
	if m.Status == models.StatusSyncing {
		return fmt.Errorf("%w: mutation %s is in flight", ErrInvalidInput, id)
	}
	return e.queue.DeleteMutation(id)
}

// CachedResource returns the last-known-good snapshot for a resource, or
// nil when nothing usable is cached. Serves reads while offline.
func (e *Engine) CachedResource(resourceKind, resourceID string) (*models.CacheEntry, error) {
	return e.cache.GetCacheEntry(resourceKind, resourceID, e.now().UTC())
}

// SweepCache evicts expired cache entries.
func (e *Engine) SweepCache() (int, error) {
	return e.cache.SweepExpiredCache(e.now().UTC())
}
