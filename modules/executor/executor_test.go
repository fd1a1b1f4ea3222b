package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/modules/transformer"
	"github.com/signalworks/sigflow/pkg/window"
	"github.com/signalworks/sigflow/sigdb"
)

var testNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

type fakeRunStore struct {
	begun     bool
	history   *sigdb.LoadHistory
	completed *sigdb.RunResult
	failedMsg string
	stack     string
	zeroRuns  int
}

func (f *fakeRunStore) BeginRun(_ context.Context, l *sigdb.Loader, w window.Window, replica string, now time.Time) (int64, error) {
	f.begun = true
	f.history = &sigdb.LoadHistory{
		ID:            42,
		LoaderCode:    l.Code,
		Status:        sigdb.HistoryRunning,
		StartTime:     now,
		QueryFromTime: w.From,
		QueryToTime:   w.To,
		ReplicaName:   replica,
	}
	return 42, nil
}

func (f *fakeRunStore) CompleteRun(_ context.Context, res sigdb.RunResult) (int, error) {
	f.completed = &res
	f.history.Status = sigdb.HistorySuccess
	if res.RecordsLoaded == 0 {
		f.zeroRuns++
	} else {
		f.zeroRuns = 0
	}
	return f.zeroRuns, nil
}

func (f *fakeRunStore) FailRun(_ context.Context, _ int64, _ string, errMsg, stack string, _ time.Time) error {
	f.history.Status = sigdb.HistoryFailed
	f.failedMsg = errMsg
	f.stack = stack
	return nil
}

type fakeRunner struct {
	sql  string
	res  *sources.QueryResult
	err  error
	slow time.Duration
}

func (f *fakeRunner) RunQuery(ctx context.Context, _, query string) (*sources.QueryResult, error) {
	f.sql = query
	if f.slow > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.slow):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.res == nil {
		return &sources.QueryResult{}, nil
	}
	return f.res, nil
}

type fakeWriter struct {
	signals []*sigdb.Signal
	err     error
}

func (f *fakeWriter) InsertBatch(_ context.Context, signals []*sigdb.Signal) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.signals = append(f.signals, signals...)
	return int64(len(signals)), nil
}

type seqInterner struct{ next int64 }

func (s *seqInterner) GetOrCreate(context.Context, string, sigdb.SegmentTuple) (int64, error) {
	s.next++
	return s.next, nil
}

func testLoader() *sigdb.Loader {
	return &sigdb.Loader{
		Code:                  "SALES_DAILY",
		SourceDBCode:          "erp",
		SQL:                   "SELECT * FROM sales WHERE ts >= ':fromTime' AND ts < ':toTime'",
		MinInterval:           time.Minute,
		MaxQueryPeriod:        24 * time.Hour,
		MaxParallelExecutions: 1,
		Enabled:               true,
		ApprovalStatus:        sigdb.ApprovalApproved,
		LoadStatus:            sigdb.StatusIdle,
	}
}

func newTestExecutor(t *testing.T, store *fakeRunStore, writer *fakeWriter, runner *fakeRunner) *Executor {
	t.Helper()

	tr := transformer.New(&seqInterner{}, log.NewNopLogger())
	cfg := Config{MaxZeroRecordRuns: 10}
	e, err := New(cfg, store, writer, runner, tr, window.New(24*time.Hour, func() time.Time { return testNow }), "replica-1", log.NewNopLogger())
	require.NoError(t, err)
	e.now = func() time.Time { return testNow }
	return e
}

func TestExecuteFirstRunLookback(t *testing.T) {
	store := &fakeRunStore{}
	writer := &fakeWriter{}
	runner := &fakeRunner{res: &sources.QueryResult{
		Columns: []string{"ts", "rec_count"},
		Rows: []sources.Row{
			sources.NewRow([]string{"ts", "rec_count"}, []any{int64(1707550000), int64(3)}),
		},
	}}
	e := newTestExecutor(t, store, writer, runner)

	require.NoError(t, e.Execute(context.Background(), testLoader()))

	// Never-run loader: 24 h lookback ending now.
	require.Equal(t, testNow.Add(-24*time.Hour), store.history.QueryFromTime)
	require.Equal(t, testNow, store.history.QueryToTime)
	require.Equal(t, "replica-1", store.history.ReplicaName)
	require.Equal(t, sigdb.HistorySuccess, store.history.Status)

	// Watermark advances to the window's upper bound.
	require.Equal(t, testNow, store.completed.Window.To)
	require.Equal(t, int64(1), store.completed.RecordsLoaded)
	require.Equal(t, int64(1), store.completed.RecordsIngested)

	// Every signal carries the run's history id.
	require.Len(t, writer.signals, 1)
	require.NotNil(t, writer.signals[0].LoadHistoryID)
	require.Equal(t, int64(42), *writer.signals[0].LoadHistoryID)
}

func TestExecuteCatchUpCapped(t *testing.T) {
	store := &fakeRunStore{}
	e := newTestExecutor(t, store, &fakeWriter{}, &fakeRunner{})

	l := testLoader()
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.LastLoadTimestamp = &last
	l.MaxQueryPeriod = 5 * 24 * time.Hour

	require.NoError(t, e.Execute(context.Background(), l))
	require.Equal(t, last, store.history.QueryFromTime)
	require.Equal(t, last.Add(5*24*time.Hour), store.history.QueryToTime)
}

func TestExecuteZeroRecordsStillAdvances(t *testing.T) {
	store := &fakeRunStore{}
	e := newTestExecutor(t, store, &fakeWriter{}, &fakeRunner{})

	require.NoError(t, e.Execute(context.Background(), testLoader()))

	require.Equal(t, sigdb.HistorySuccess, store.history.Status)
	require.Equal(t, int64(0), store.completed.RecordsLoaded)
	require.Equal(t, testNow, store.completed.Window.To)
	require.Equal(t, 1, store.zeroRuns)
	require.Nil(t, store.completed.ActualFrom)
}

func TestExecuteSourceFailure(t *testing.T) {
	store := &fakeRunStore{}
	e := newTestExecutor(t, store, &fakeWriter{}, &fakeRunner{err: errors.New("connection refused")})

	err := e.Execute(context.Background(), testLoader())
	require.Error(t, err)

	require.Equal(t, sigdb.HistoryFailed, store.history.Status)
	require.Contains(t, store.failedMsg, "connection refused")
	require.Nil(t, store.completed, "watermark must not advance on failure")
}

func TestExecuteTransformFailure(t *testing.T) {
	store := &fakeRunStore{}
	runner := &fakeRunner{res: &sources.QueryResult{
		Columns: []string{"value"},
		Rows:    []sources.Row{sources.NewRow([]string{"value"}, []any{int64(1)})},
	}}
	e := newTestExecutor(t, store, &fakeWriter{}, runner)

	err := e.Execute(context.Background(), testLoader())
	require.ErrorIs(t, err, transformer.ErrMissingTimestamp)
	require.Equal(t, sigdb.HistoryFailed, store.history.Status)
}

func TestExecuteInvalidWindowRecordedAsFailure(t *testing.T) {
	store := &fakeRunStore{}
	runner := &fakeRunner{}
	e := newTestExecutor(t, store, &fakeWriter{}, runner)

	l := testLoader()
	l.LastLoadTimestamp = &testNow // caught up to now, nothing to load

	err := e.Execute(context.Background(), l)
	require.ErrorIs(t, err, window.ErrInvalidWindow)
	require.Equal(t, sigdb.HistoryFailed, store.history.Status)
	require.Empty(t, runner.sql, "source must not be queried")
}

func TestExecuteTimeoutRecordedAsFailure(t *testing.T) {
	store := &fakeRunStore{}
	e := newTestExecutor(t, store, &fakeWriter{}, &fakeRunner{slow: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.Execute(ctx, testLoader())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, sigdb.HistoryFailed, store.history.Status)
}

func TestExecuteSubstitutesWindow(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestExecutor(t, &fakeRunStore{}, &fakeWriter{}, runner)

	l := testLoader()
	last := testNow.Add(-time.Hour)
	l.LastLoadTimestamp = &last

	require.NoError(t, e.Execute(context.Background(), l))
	require.NotContains(t, runner.sql, ":fromTime")
	require.NotContains(t, runner.sql, ":toTime")
	require.Contains(t, runner.sql, "2024-02-10T11:00:00Z")
	require.Contains(t, runner.sql, "2024-02-10T12:00:00Z")
}

func TestExecuteTimezoneRoundTrip(t *testing.T) {
	// Offset 4: query bounds shift back four hours, returned source-local
	// timestamps shift forward four hours.
	runner := &fakeRunner{res: &sources.QueryResult{
		Columns: []string{"ts"},
		Rows: []sources.Row{
			sources.NewRow([]string{"ts"}, []any{time.Date(2024, 2, 10, 5, 30, 0, 0, time.UTC)}),
		},
	}}
	writer := &fakeWriter{}
	e := newTestExecutor(t, &fakeRunStore{}, writer, runner)

	l := testLoader()
	l.SourceTZOffsetHours = 4
	last := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	l.LastLoadTimestamp = &last
	l.MaxQueryPeriod = time.Hour

	require.NoError(t, e.Execute(context.Background(), l))
	require.Contains(t, runner.sql, "2024-02-10T05:00:00Z")
	require.Contains(t, runner.sql, "2024-02-10T06:00:00Z")

	require.Len(t, writer.signals, 1)
	require.Equal(t, time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC), writer.signals[0].LoadTimeStamp)
}

func TestExecuteRecoversPanic(t *testing.T) {
	store := &fakeRunStore{}
	writer := &fakeWriter{err: errors.New("unused")}
	runner := &fakeRunner{res: &sources.QueryResult{
		Columns: []string{"ts"},
		Rows:    []sources.Row{sources.NewRow([]string{"ts"}, []any{struct{ bad bool }{}})},
	}}
	e := newTestExecutor(t, store, writer, runner)

	// The unsupported timestamp type errors rather than panics; force a
	// panic through a nil transformer instead.
	e.transformer = nil

	err := e.Execute(context.Background(), testLoader())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")
	require.Equal(t, sigdb.HistoryFailed, store.history.Status)
	require.True(t, strings.Contains(store.stack, "goroutine") || strings.Contains(store.stack, "panic"))
}
