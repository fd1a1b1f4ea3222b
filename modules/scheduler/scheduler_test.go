package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/signalworks/sigflow/sigdb"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

type fakeLoaderStore struct {
	mtx          sync.Mutex
	loaders      []*sigdb.Loader
	failedBefore time.Time
}

func (f *fakeLoaderStore) ListEligible(context.Context) ([]*sigdb.Loader, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]*sigdb.Loader(nil), f.loaders...), nil
}

func (f *fakeLoaderStore) RecoverFailed(_ context.Context, failedBefore time.Time) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.failedBefore = failedBefore
	var n int64
	for _, l := range f.loaders {
		if l.LoadStatus == sigdb.StatusFailed && l.FailedSince != nil && l.FailedSince.Before(failedBefore) {
			l.LoadStatus = sigdb.StatusIdle
			l.FailedSince = nil
			n++
		}
	}
	return n, nil
}

// fakeLockStore mirrors the live-lock invariant of the real table: one
// unreleased lock per loader, stale locks taken over.
type fakeLockStore struct {
	mtx      sync.Mutex
	live     map[string]*sigdb.ExecutionLock
	acquired int
	released int
	nextID   int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{live: map[string]*sigdb.ExecutionLock{}}
}

func (f *fakeLockStore) TryAcquire(_ context.Context, loaderCode, replica string, staleBefore, now time.Time) (*sigdb.ExecutionLock, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if held, ok := f.live[loaderCode]; ok {
		if !held.AcquiredAt.Before(staleBefore) {
			return nil, nil
		}
		delete(f.live, loaderCode)
	}

	f.nextID++
	lock := &sigdb.ExecutionLock{
		LoaderCode:  loaderCode,
		LockID:      time.Now().Format("150405.000000000") + loaderCode + replica + string(rune('0'+f.nextID%10)),
		ReplicaName: replica,
		AcquiredAt:  now,
	}
	f.live[loaderCode] = lock
	f.acquired++
	return lock, nil
}

func (f *fakeLockStore) Release(_ context.Context, lockID string, _ time.Time) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	for code, l := range f.live {
		if l.LockID == lockID {
			delete(f.live, code)
			f.released++
			return true, nil
		}
	}
	return false, nil
}

type fakeRunner struct {
	mtx      sync.Mutex
	executed []string
	block    chan struct{} // when set, Execute waits for close or ctx
	ctxErrs  atomic.Int64
}

func (f *fakeRunner) Execute(ctx context.Context, l *sigdb.Loader) error {
	f.mtx.Lock()
	f.executed = append(f.executed, l.Code)
	f.mtx.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.ctxErrs.Inc()
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeRunner) executedCodes() []string {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]string(nil), f.executed...)
}

func idleLoader(code string) *sigdb.Loader {
	return &sigdb.Loader{
		Code:                  code,
		MinInterval:           time.Minute,
		MaxQueryPeriod:        time.Hour,
		MaxParallelExecutions: 1,
		Enabled:               true,
		ApprovalStatus:        sigdb.ApprovalApproved,
		LoadStatus:            sigdb.StatusIdle,
	}
}

func testConfig() Config {
	return Config{
		TickInterval:     10 * time.Second,
		InitialDelay:     0,
		DefaultLookback:  24 * time.Hour,
		ExecutionTimeout: time.Minute,
		FailedRetryAfter: 20 * time.Minute,
		MaxWorkers:       4,
		DrainTimeout:     time.Second,
	}
}

func newTestScheduler(t *testing.T, cfg Config, loaders *fakeLoaderStore, locks *fakeLockStore, runner *fakeRunner) *Scheduler {
	t.Helper()

	s, err := New(cfg, 2*time.Hour, loaders, locks, runner, "replica-1", log.NewNopLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	return s
}

func TestTickDispatchesDueLoader(t *testing.T) {
	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, []string{"A"}, runner.executedCodes())
	require.Equal(t, 1, locks.acquired)
	require.Equal(t, 1, locks.released, "lock released after the run")
	require.Empty(t, locks.live)
}

func TestTickSkipsNotDueAndPaused(t *testing.T) {
	recent := testNow.Add(-10 * time.Second)
	fresh := idleLoader("FRESH")
	fresh.LastLoadTimestamp = &recent

	paused := idleLoader("PAUSED")
	paused.LoadStatus = sigdb.StatusPaused

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{fresh, paused}}
	locks := newFakeLockStore()
	runner := &fakeRunner{}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Empty(t, runner.executedCodes())
	require.Zero(t, locks.acquired)
}

func TestTickDueAfterMinInterval(t *testing.T) {
	old := testNow.Add(-2 * time.Minute)
	l := idleLoader("A")
	l.LastLoadTimestamp = &old

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{l}}
	locks := newFakeLockStore()
	runner := &fakeRunner{}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, []string{"A"}, runner.executedCodes())
}

func TestLockContentionSkipsSilently(t *testing.T) {
	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A")}}
	locks := newFakeLockStore()

	// Another replica holds a fresh lock.
	_, err := locks.TryAcquire(context.Background(), "A", "replica-2", testNow.Add(-2*time.Hour), testNow)
	require.NoError(t, err)

	runner := &fakeRunner{}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Empty(t, runner.executedCodes())
}

func TestAtMostOneReplicaWins(t *testing.T) {
	locks := newFakeLockStore()

	var executions atomic.Int64
	release := make(chan struct{})
	start := make(chan struct{})

	var ticks sync.WaitGroup
	var replicas []*Scheduler
	for r := 0; r < 8; r++ {
		loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("SHARED")}}
		runner := &countingRunner{n: &executions, release: release}
		s, err := New(testConfig(), 2*time.Hour, loaders, locks, runner, "replica", log.NewNopLogger())
		require.NoError(t, err)
		s.now = func() time.Time { return testNow }
		replicas = append(replicas, s)

		ticks.Add(1)
		go func() {
			defer ticks.Done()
			<-start
			s.tick(context.Background())
		}()
	}

	close(start)
	ticks.Wait()

	// Every replica has finished its tick while the winner still holds the
	// lock; losers observed contention and skipped.
	require.Equal(t, int64(1), executions.Load(), "exactly one replica may execute")

	close(release)
	for _, s := range replicas {
		s.wg.Wait()
	}
	require.Empty(t, locks.live)
}

type countingRunner struct {
	n       *atomic.Int64
	release chan struct{}
}

func (c *countingRunner) Execute(ctx context.Context, _ *sigdb.Loader) error {
	c.n.Inc()
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return nil
}

func TestFullWorkerPoolReleasesLock(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkers = 1

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A"), idleLoader("B")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(t, cfg, loaders, locks, runner)

	s.tick(context.Background())

	// A occupies the only worker; B's lock must have been given back.
	require.Eventually(t, func() bool {
		locks.mtx.Lock()
		defer locks.mtx.Unlock()
		return locks.acquired == 2 && locks.released == 1
	}, time.Second, 10*time.Millisecond)

	close(runner.block)
	s.wg.Wait()

	require.Equal(t, []string{"A"}, runner.executedCodes())
	require.Empty(t, locks.live)
}

func TestMaxParallelExecutionsGuard(t *testing.T) {
	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())

	// While A is still running on this replica a second tick must not
	// dispatch it again, independent of the lock.
	require.Eventually(t, func() bool { return s.tracker.inFlight("A") == 1 }, time.Second, 10*time.Millisecond)
	s.tick(context.Background())

	close(runner.block)
	s.wg.Wait()

	require.Equal(t, []string{"A"}, runner.executedCodes())
}

func TestRecoverFailedUsesRetryDelay(t *testing.T) {
	failedAt := testNow.Add(-21 * time.Minute)
	failed := idleLoader("F")
	failed.LoadStatus = sigdb.StatusFailed
	failed.FailedSince = &failedAt

	recentFail := testNow.Add(-19 * time.Minute)
	stillFailed := idleLoader("G")
	stillFailed.LoadStatus = sigdb.StatusFailed
	stillFailed.FailedSince = &recentFail

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{failed, stillFailed}}
	s := newTestScheduler(t, testConfig(), loaders, newFakeLockStore(), &fakeRunner{})

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, testNow.Add(-20*time.Minute), loaders.failedBefore)
	require.Equal(t, sigdb.StatusIdle, failed.LoadStatus)
	require.Nil(t, failed.FailedSince)
	require.Equal(t, sigdb.StatusFailed, stillFailed.LoadStatus)
}

func TestExecutionTimeoutCancelsRun(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("SLOW")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{block: make(chan struct{})} // never closed
	s := newTestScheduler(t, cfg, loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, int64(1), runner.ctxErrs.Load(), "run must be cancelled by the deadline")
	require.Empty(t, locks.live, "lock released even after timeout")
}

func TestStoppingDrainCancelsStragglers(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("SLOW")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{block: make(chan struct{})} // never closed
	s := newTestScheduler(t, cfg, loaders, locks, runner)

	s.tick(context.Background())
	require.Eventually(t, func() bool { return s.tracker.len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.stopping(nil))

	require.Equal(t, int64(1), runner.ctxErrs.Load())
	require.Empty(t, locks.live)
}

func TestRunningWaitsForDependencies(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 10 * time.Millisecond

	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A")}}
	locks := newFakeLockStore()
	runner := &fakeRunner{}
	s := newTestScheduler(t, cfg, loaders, locks, runner)

	// A dependency stuck in starting, released by the test.
	release := make(chan struct{})
	dep := services.NewBasicService(func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, nil)
	s.WaitFor(dep)

	require.NoError(t, dep.StartAsync(context.Background()))
	require.NoError(t, s.StartAsync(context.Background()))
	t.Cleanup(func() {
		s.StopAsync()
		dep.StopAsync()
		require.NoError(t, s.AwaitTerminated(context.Background()))
		require.NoError(t, dep.AwaitTerminated(context.Background()))
	})

	require.Never(t, func() bool {
		return len(runner.executedCodes()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond, "must not dispatch before the dependency runs")

	close(release)
	require.Eventually(t, func() bool {
		return len(runner.executedCodes()) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestStaleLockTakenOver(t *testing.T) {
	loaders := &fakeLoaderStore{loaders: []*sigdb.Loader{idleLoader("A")}}
	locks := newFakeLockStore()

	// A crashed replica left a lock older than the stale threshold.
	locks.live["A"] = &sigdb.ExecutionLock{
		LoaderCode: "A",
		LockID:     "stale",
		AcquiredAt: testNow.Add(-3 * time.Hour),
	}

	runner := &fakeRunner{}
	s := newTestScheduler(t, testConfig(), loaders, locks, runner)

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, []string{"A"}, runner.executedCodes())
}
