// Package reaper runs the two background retention sweeps every pod
// performs independently: failing sessions abandoned mid-run by a crashed
// pod, and purging terminal sessions past their retention window.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reqflow/reqflow/pkg/clock"
	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/events"
	"github.com/reqflow/reqflow/pkg/metrics"
)

// Sessions narrows the session store down to the three operations the
// reaper needs, so it can be driven by an in-memory fake in tests.
type Sessions interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
	UpdatePhase(ctx context.Context, id string, phase domain.Phase, terr *domain.TerminalError, now time.Time) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls sweep cadence and thresholds.
type Config struct {
	// StaleThreshold: a non-terminal session with no activity for this long
	// is presumed abandoned by a crashed pod and failed.
	StaleThreshold time.Duration
	// SweepInterval is how often both sweeps run.
	SweepInterval time.Duration
	// PurgeAfter: a terminal session older than this is deleted outright.
	PurgeAfter time.Duration
}

// DefaultConfig returns the reaper's default cadence.
func DefaultConfig() Config {
	return Config{
		StaleThreshold: 15 * time.Minute,
		SweepInterval:  5 * time.Minute,
		PurgeAfter:     7 * 24 * time.Hour,
	}
}

// Reaper periodically fails sessions abandoned by a crashed pod and purges
// old terminal sessions past their retention window. All operations are
// idempotent and safe to run from every pod concurrently — there is no
// leader election, only repeated harmless no-ops once a session is already
// terminal or already purged.
type Reaper struct {
	cfg      Config
	sessions Sessions
	bus      *events.Bus
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	cronEngine *cron.Cron
}

// New builds a Reaper. bus may be nil, in which case reaped sessions are
// persisted but no terminal event is published (e.g. a pod running without
// live subscribers).
func New(cfg Config, sessions Sessions, bus *events.Bus, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		cfg:        cfg,
		sessions:   sessions,
		bus:        bus,
		clock:      clock.New(),
		log:        log,
		cronEngine: cron.New(),
	}
}

// WithMetrics attaches a Metrics recorder, returning r for chaining.
func (r *Reaper) WithMetrics(m *metrics.Metrics) *Reaper {
	r.metrics = m
	return r
}

// Start schedules the sweep on a fixed-delay cron entry and starts the
// engine, returning immediately. The first sweep runs after one
// SweepInterval elapses, matching robfig/cron's Every semantics; call Sweep
// directly first if a startup pass is wanted before that.
func (r *Reaper) Start() {
	r.cronEngine.Schedule(cron.Every(r.cfg.SweepInterval), cron.FuncJob(func() {
		r.Sweep(context.Background())
	}))
	r.cronEngine.Start()
}

// Stop halts the cron engine and blocks until any in-flight sweep finishes.
func (r *Reaper) Stop() {
	<-r.cronEngine.Stop().Done()
}

// Sweep runs one stale-session reap and one retention purge immediately,
// independent of the cron schedule.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.clock.Now().UTC()

	reaped, err := r.reapStale(ctx, now)
	if err != nil {
		r.log.Error("reaper: stale sweep failed", "error", err)
		r.metrics.ReaperSweepCompleted("error", reaped, 0)
		return
	}

	purged, err := r.purgeOld(ctx, now)
	if err != nil {
		r.log.Error("reaper: purge sweep failed", "error", err)
		r.metrics.ReaperSweepCompleted("error", reaped, int(purged))
		return
	}

	if reaped > 0 || purged > 0 {
		r.log.Info("reaper: sweep completed", "reaped", reaped, "purged", purged)
	}
	r.metrics.ReaperSweepCompleted("ok", reaped, int(purged))
}

func (r *Reaper) reapStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.cfg.StaleThreshold)
	stale, err := r.sessions.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reaper: list stale sessions: %w", err)
	}

	count := 0
	for _, sess := range stale {
		terr := &domain.TerminalError{
			Kind:    domain.ErrKindStaleSession,
			Message: fmt.Sprintf("no activity from pod %q since %s", sess.PodID, sess.LastActivityAt.Format(time.RFC3339)),
		}
		if err := r.sessions.UpdatePhase(ctx, sess.ID, domain.PhaseFailed, terr, now); err != nil {
			r.log.Error("reaper: failed to mark stale session", "session_id", sess.ID, "error", err)
			continue
		}
		if r.bus != nil {
			_, _ = r.bus.Publish(ctx, sess.ID, domain.EventKindTerminal, domain.PhasePayload{Phase: domain.PhaseFailed, Error: terr})
		}
		r.log.Warn("reaper: session marked stale", "session_id", sess.ID, "pod_id", sess.PodID)
		count++
	}
	return count, nil
}

func (r *Reaper) purgeOld(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.cfg.PurgeAfter)
	n, err := r.sessions.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reaper: purge old sessions: %w", err)
	}
	return int(n), nil
}
