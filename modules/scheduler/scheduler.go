// Package scheduler owns the dispatch loop: every tick it recovers failed
// loaders, selects the due ones, takes the cross-replica lock and hands each
// winner to a bounded worker pool under a hard deadline. Every replica runs
// the same loop; the lock table decides who executes.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/sigdb"
)

// LoaderStore is the slice of the store the dispatch loop reads.
type LoaderStore interface {
	ListEligible(ctx context.Context) ([]*sigdb.Loader, error)
	RecoverFailed(ctx context.Context, failedBefore time.Time) (int64, error)
}

// LockStore is the cross-replica mutex.
type LockStore interface {
	TryAcquire(ctx context.Context, loaderCode, replica string, staleBefore, now time.Time) (*sigdb.ExecutionLock, error)
	Release(ctx context.Context, lockID string, now time.Time) (bool, error)
}

// Runner executes one loader under the caller's lock.
type Runner interface {
	Execute(ctx context.Context, l *sigdb.Loader) error
}

type Scheduler struct {
	services.Service

	cfg            Config
	staleThreshold time.Duration
	loaders        LoaderStore
	locks          LockStore
	runner         Runner
	replica        string
	logger         log.Logger

	tracker *tracker
	slots   chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time

	deps []services.Service
}

func New(cfg Config, staleThreshold time.Duration, loaders LoaderStore, locks LockStore, runner Runner, replica string, logger log.Logger) (*Scheduler, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		cfg:            cfg,
		staleThreshold: staleThreshold,
		loaders:        loaders,
		locks:          locks,
		runner:         runner,
		replica:        replica,
		logger:         logger,
		tracker:        newTracker(),
		slots:          make(chan struct{}, cfg.MaxWorkers),
		now:            time.Now,
	}
	s.Service = services.NewBasicService(nil, s.running, s.stopping)
	return s, nil
}

// WaitFor registers services that must reach Running before the first
// dispatch tick. Call before the scheduler starts.
func (s *Scheduler) WaitFor(deps ...services.Service) {
	s.deps = append(s.deps, deps...)
}

func (s *Scheduler) running(ctx context.Context) error {
	// Dispatching before the source registry and its read-only gate have
	// settled would run loaders against unverified sources.
	for _, dep := range s.deps {
		if err := dep.AwaitRunning(ctx); err != nil {
			level.Warn(s.logger).Log("msg", "not dispatching, dependency never reached running", "err", err)
			return nil
		}
	}

	level.Info(s.logger).Log("msg", "scheduler running", "replica", s.replica,
		"tick_interval", s.cfg.TickInterval, "max_workers", s.cfg.MaxWorkers)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(s.cfg.InitialDelay):
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// stopping drains the worker pool: no new dispatches happen once running
// returned, finished workers release their locks on the way out, and
// whatever outlives the drain timeout is cancelled. Locks of workers killed
// by a crash instead are reclaimed by the stale sweep.
func (s *Scheduler) stopping(_ error) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.DrainTimeout):
	}

	level.Warn(s.logger).Log("msg", "drain timeout reached, cancelling remaining executions", "remaining", s.tracker.len())
	s.tracker.cancelAll()
	<-done
	return nil
}

// tick runs one dispatch pass. Failures on one loader never stop the pass.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()

	if n, err := s.loaders.RecoverFailed(ctx, now.Add(-s.cfg.FailedRetryAfter)); err != nil {
		level.Error(s.logger).Log("msg", "recovering failed loaders failed", "err", err)
	} else if n > 0 {
		metricRecovered.Add(float64(n))
		level.Info(s.logger).Log("msg", "recovered failed loaders", "count", n)
	}

	loaders, err := s.loaders.ListEligible(ctx)
	if err != nil {
		metricTicks.WithLabelValues("failed").Inc()
		level.Error(s.logger).Log("msg", "listing eligible loaders failed", "err", err)
		return
	}
	metricTicks.WithLabelValues("success").Inc()
	if len(loaders) == 0 {
		return
	}

	// Idle loaders dispatch first; ties stay in code order for determinism.
	sort.SliceStable(loaders, func(i, j int) bool {
		return loaders[i].LoadStatus.Priority() < loaders[j].LoadStatus.Priority()
	})

	overdue := 0
	for _, l := range loaders {
		if s.isOverdue(l, now) {
			overdue++
			level.Warn(s.logger).Log("msg", "loader is overdue", "loader", l.Code,
				"last_load_timestamp", l.LastLoadTimestamp, "max_interval", l.MaxInterval)
		}

		if err := s.dispatch(ctx, l, now); err != nil {
			level.Error(s.logger).Log("msg", "dispatching loader failed", "loader", l.Code, "err", err)
		}

		if ctx.Err() != nil {
			return
		}
	}
	metricOverdue.Set(float64(overdue))
}

func (s *Scheduler) dispatch(ctx context.Context, l *sigdb.Loader, now time.Time) error {
	if l.LoadStatus == sigdb.StatusPaused {
		metricSkipped.WithLabelValues("paused").Inc()
		return nil
	}

	if !s.isDue(l, now) {
		metricSkipped.WithLabelValues("not_due").Inc()
		return nil
	}

	if s.tracker.inFlight(l.Code) >= l.MaxParallelExecutions {
		metricSkipped.WithLabelValues("in_flight").Inc()
		return nil
	}

	lock, err := s.locks.TryAcquire(ctx, l.Code, s.replica, now.Add(-s.staleThreshold), now)
	if err != nil {
		return errors.Wrap(err, "acquiring lock")
	}
	if lock == nil {
		// Another replica is on it. Not an error.
		metricSkipped.WithLabelValues("lock_contended").Inc()
		return nil
	}

	select {
	case s.slots <- struct{}{}:
	default:
		metricSkipped.WithLabelValues("workers_busy").Inc()
		_, err := s.locks.Release(ctx, lock.LockID, s.now())
		return errors.Wrap(err, "releasing lock after full worker pool")
	}

	// The run's context deliberately does not descend from the tick's:
	// shutdown drains workers instead of killing them with the loop.
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ExecutionTimeout)
	s.tracker.register(lock.LockID, l.Code, cancel)

	metricDispatched.WithLabelValues(l.Code).Inc()
	metricWorkers.Inc()
	s.wg.Add(1)

	go func() {
		defer func() {
			cancel()
			s.tracker.unregister(lock.LockID)

			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.locks.Release(releaseCtx, lock.LockID, s.now()); err != nil {
				level.Error(s.logger).Log("msg", "releasing execution lock failed", "loader", l.Code, "err", err)
			}
			releaseCancel()

			<-s.slots
			metricWorkers.Dec()
			s.wg.Done()
		}()

		err := s.runner.Execute(runCtx, l)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			metricTimeouts.WithLabelValues(l.Code).Inc()
			level.Error(s.logger).Log("msg", "loader execution hit the hard deadline", "loader", l.Code, "timeout", s.cfg.ExecutionTimeout)
		} else if err != nil {
			// Already recorded by the executor; log at debug to avoid
			// duplicate error noise.
			level.Debug(s.logger).Log("msg", "loader execution failed", "loader", l.Code, "err", err)
		}
	}()

	return nil
}

func (s *Scheduler) isDue(l *sigdb.Loader, now time.Time) bool {
	if l.LastLoadTimestamp == nil {
		return true
	}
	return now.Sub(*l.LastLoadTimestamp) >= l.MinInterval
}

func (s *Scheduler) isOverdue(l *sigdb.Loader, now time.Time) bool {
	if l.MaxInterval <= 0 || l.LastLoadTimestamp == nil {
		return false
	}
	return now.Sub(*l.LastLoadTimestamp) > l.MaxInterval
}
