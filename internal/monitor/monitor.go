// Package monitor tracks connectivity and drives the sync engine: it probes
// the server, publishes online/offline transitions, triggers drains on a
// recurring timer, and attempts a best-effort flush at teardown.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcus/offsync/internal/engine"
)

// Syncer is the slice of the engine the monitor drives.
type Syncer interface {
	Drain(ctx context.Context) (engine.DrainSummary, error)
	SetOnline(online bool) bool
	Online() bool
}

// Prober checks whether the remote authority is reachable right now.
// A nil error means online.
type Prober func(ctx context.Context) error

const (
	defaultProbeTimeout = 5 * time.Second
	defaultFlushTimeout = 3 * time.Second
)

// Monitor owns the connectivity state machine and the drain schedule.
type Monitor struct {
	syncer       Syncer
	probe        Prober
	interval     time.Duration
	probeTimeout time.Duration
	flushTimeout time.Duration
}

// New creates a Monitor. interval is how often to probe and drain while
// running; zero falls back to the engine default of 30s.
func New(s Syncer, probe Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = engine.DefaultPolicy().SyncInterval
	}
	return &Monitor{
		syncer:       s,
		probe:        probe,
		interval:     interval,
		probeTimeout: defaultProbeTimeout,
		flushTimeout: defaultFlushTimeout,
	}
}

// Run blocks until ctx is cancelled. Each tick probes connectivity; the
// offline-to-online transition and every online tick attempt a drain (the
// engine's single-flight guard makes overlapping attempts harmless). On
// teardown one last flush is attempted with a short deadline. That flush is
// advisory, never guaranteed: the next startup drain is the source of truth.
func (m *Monitor) Run(ctx context.Context) error {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush()
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// Poke forces an immediate probe-and-drain outside the timer, e.g. after
// the caller recorded a mutation.
func (m *Monitor) Poke(ctx context.Context) {
	m.tick(ctx)
}

func (m *Monitor) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.probe(probeCtx)
	cancel()

	online := err == nil
	changed := m.syncer.SetOnline(online)
	if !online {
		if changed {
			slog.Info("connectivity lost")
		}
		return
	}
	if changed {
		slog.Info("connectivity restored")
	}

	summary, err := m.syncer.Drain(ctx)
	if err != nil {
		slog.Warn("drain", "err", err)
		return
	}
	if !summary.Skipped && summary.Processed > 0 {
		slog.Debug("drain complete", "processed", summary.Processed, "conflicts", summary.Conflicts)
	}
}

// flush makes one fire-and-forget drain attempt with a short deadline.
// Delivery is explicitly unreliable; failures are logged and dropped.
func (m *Monitor) flush() {
	if !m.syncer.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
	defer cancel()
	if _, err := m.syncer.Drain(ctx); err != nil {
		slog.Debug("teardown flush", "err", err)
	}
}
