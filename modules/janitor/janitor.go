// Package janitor runs the retention and cleanup sweeps: stale execution
// locks, released lock rows, orphaned signals of failed runs, and old load
// history. Every sweep is idempotent, so all replicas run all loops.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/signalworks/sigflow/pkg/schedule"
	"github.com/signalworks/sigflow/sigdb"
)

// LockSweeper is the lock-table slice the janitor needs.
type LockSweeper interface {
	CleanupStale(ctx context.Context, staleBefore, now time.Time) (int64, error)
	PurgeReleased(ctx context.Context, releasedBefore time.Time) (int64, error)
}

// SignalSweeper deletes signals left behind by failed runs.
type SignalSweeper interface {
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// HistoryPruner deletes history rows past retention.
type HistoryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Janitor struct {
	services.Service

	cfg     Config
	locking sigdb.LockingConfig
	locks   LockSweeper
	signals SignalSweeper
	history HistoryPruner
	logger  log.Logger

	now func() time.Time
}

func New(cfg Config, locking sigdb.LockingConfig, locks LockSweeper, signals SignalSweeper, history HistoryPruner, logger log.Logger) (*Janitor, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid janitor config: %w", err)
	}
	if err := sigdb.ValidateLockingConfig(&locking); err != nil {
		return nil, fmt.Errorf("invalid locking config: %w", err)
	}

	j := &Janitor{
		cfg:     cfg,
		locking: locking,
		locks:   locks,
		signals: signals,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
	j.Service = services.NewBasicService(nil, j.running, nil)
	return j, nil
}

func (j *Janitor) running(ctx context.Context) error {
	releasedPurgeAt, _ := schedule.ParseDailyAt(j.cfg.ReleasedLockPurgeAt)
	historyPurgeAt, _ := schedule.ParseDailyAt(j.cfg.LoadHistoryPurgeAt)

	var wg sync.WaitGroup
	loops := []struct {
		name         string
		sched        schedule.Schedule
		initialDelay time.Duration
		sweep        func(context.Context) (int64, error)
	}{
		{"stale_locks", schedule.Every(j.cfg.StaleLockInterval), j.cfg.StaleLockInitialDelay, j.sweepStaleLocks},
		{"released_locks", releasedPurgeAt, -1, j.purgeReleasedLocks},
		{"orphaned_signals", schedule.HourlyAt(j.cfg.OrphanSweepMinute), -1, j.sweepOrphanedSignals},
		{"load_history", historyPurgeAt, -1, j.pruneLoadHistory},
	}

	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.runLoop(ctx, loop.name, loop.sched, loop.initialDelay, loop.sweep)
		}()
	}

	wg.Wait()
	return nil
}

// runLoop fires sweep on the schedule until the context ends. A negative
// initial delay means the first firing comes from the schedule itself.
func (j *Janitor) runLoop(ctx context.Context, name string, sched schedule.Schedule, initialDelay time.Duration, sweep func(context.Context) (int64, error)) {
	level.Info(j.logger).Log("msg", "janitor loop started", "sweep", name, "schedule", sched)

	next := sched.Next(j.now())
	if initialDelay >= 0 {
		next = j.now().Add(initialDelay)
	}

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		j.runSweep(ctx, name, sweep)

		next = sched.Next(j.now())
		timer.Reset(time.Until(next))
	}
}

func (j *Janitor) runSweep(ctx context.Context, name string, sweep func(context.Context) (int64, error)) {
	start := time.Now()
	deleted, err := sweep(ctx)
	metricSweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metricSweepErrors.WithLabelValues(name).Inc()
		level.Error(j.logger).Log("msg", "janitor sweep failed", "sweep", name, "err", err)
		return
	}

	metricRowsDeleted.WithLabelValues(name).Add(float64(deleted))
	if deleted > 0 {
		level.Info(j.logger).Log("msg", "janitor sweep complete", "sweep", name, "rows", deleted)
	}
}

func (j *Janitor) sweepStaleLocks(ctx context.Context) (int64, error) {
	now := j.now().UTC()
	return j.locks.CleanupStale(ctx, now.Add(-j.locking.StaleLockThreshold), now)
}

func (j *Janitor) purgeReleasedLocks(ctx context.Context) (int64, error) {
	return j.locks.PurgeReleased(ctx, j.now().UTC().Add(-j.locking.ReleasedLockRetention))
}

func (j *Janitor) sweepOrphanedSignals(ctx context.Context) (int64, error) {
	return j.signals.DeleteOrphaned(ctx)
}

// pruneLoadHistory sweeps orphans first: deleting a failed history row
// before its signals would sever the link the orphan sweep depends on.
func (j *Janitor) pruneLoadHistory(ctx context.Context) (int64, error) {
	if _, err := j.signals.DeleteOrphaned(ctx); err != nil {
		return 0, err
	}
	return j.history.DeleteOlderThan(ctx, j.now().UTC().Add(-j.cfg.LoadHistoryRetention))
}
