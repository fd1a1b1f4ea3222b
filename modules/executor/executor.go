// Package executor runs one loader end to end: window, query, transform,
// ingest, history. The run itself is never wrapped in a transaction; only
// the start and end markers are. The orphan sweep compensates for signals a
// failed run left behind.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/modules/transformer"
	"github.com/signalworks/sigflow/pkg/sqlparam"
	"github.com/signalworks/sigflow/pkg/window"
	"github.com/signalworks/sigflow/sigdb"
)

// RunStore writes the transactional run markers.
type RunStore interface {
	BeginRun(ctx context.Context, l *sigdb.Loader, w window.Window, replica string, now time.Time) (int64, error)
	CompleteRun(ctx context.Context, res sigdb.RunResult) (int, error)
	FailRun(ctx context.Context, historyID int64, loaderCode, errMsg, stack string, now time.Time) error
}

// SignalWriter bulk-inserts transformed signals.
type SignalWriter interface {
	InsertBatch(ctx context.Context, signals []*sigdb.Signal) (int64, error)
}

type Executor struct {
	cfg         Config
	store       RunStore
	signals     SignalWriter
	sources     sources.Runner
	transformer *transformer.Transformer
	windows     window.Calculator
	replica     string
	logger      log.Logger
	now         func() time.Time
}

func New(cfg Config, store RunStore, signals SignalWriter, runner sources.Runner, tr *transformer.Transformer, windows window.Calculator, replica string, logger log.Logger) (*Executor, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}

	return &Executor{
		cfg:         cfg,
		store:       store,
		signals:     signals,
		sources:     runner,
		transformer: tr,
		windows:     windows,
		replica:     replica,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Execute runs the loader once. The caller already holds the loader's
// execution lock. Every failure after the start markers is recorded on the
// history row and the loader itself; the error is also returned so the
// scheduler can count it.
func (e *Executor) Execute(ctx context.Context, l *sigdb.Loader) error {
	start := e.now()
	logger := log.With(e.logger, "loader", l.Code)

	metricRunning.Inc()
	defer metricRunning.Dec()
	defer func() {
		metricDuration.WithLabelValues(l.Code).Observe(e.now().Sub(start).Seconds())
	}()

	w, werr := e.windows.Next(l.LastLoadTimestamp, l.MaxQueryPeriod)

	historyID, err := e.store.BeginRun(ctx, l, w, e.replica, start)
	if err != nil {
		metricExecutions.WithLabelValues(l.Code, "failed").Inc()
		return errors.Wrap(err, "writing start markers")
	}

	// An empty window is a failed run like any other, recorded on the
	// history row it just opened.
	if werr != nil {
		e.fail(ctx, historyID, l.Code, logger, werr)
		return werr
	}

	err = e.run(ctx, l, w, historyID, start, logger)
	if err != nil {
		e.fail(ctx, historyID, l.Code, logger, err)
		return err
	}

	metricExecutions.WithLabelValues(l.Code, "success").Inc()
	return nil
}

func (e *Executor) run(ctx context.Context, l *sigdb.Loader, w window.Window, historyID int64, start time.Time, logger log.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	q, err := sqlparam.Build(l.SQL, w, l.SourceTZOffsetHours)
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if q.Bound == 0 {
		level.Warn(logger).Log("msg", "loader sql has no time placeholders, every run reads the same data")
	}

	level.Debug(logger).Log("msg", "running source query", "window", w, "format", q.Format)

	res, err := e.sources.RunQuery(ctx, l.SourceDBCode, q.SQL)
	if err != nil {
		return errors.Wrap(err, "querying source")
	}
	recordsLoaded := int64(len(res.Rows))
	metricRecordsLoaded.WithLabelValues(l.Code).Add(float64(recordsLoaded))

	signals, err := e.transformer.Transform(ctx, transformer.Input{
		LoaderCode:  l.Code,
		Rows:        res.Rows,
		OffsetHours: l.SourceTZOffsetHours,
	})
	if err != nil {
		return errors.Wrap(err, "transforming rows")
	}

	actualFrom, actualTo := timestampBounds(signals)
	for _, sig := range signals {
		id := historyID
		sig.LoadHistoryID = &id
	}

	ingested, err := e.signals.InsertBatch(ctx, signals)
	if err != nil {
		return errors.Wrap(err, "ingesting signals")
	}
	metricRecordsIngested.WithLabelValues(l.Code).Add(float64(ingested))

	zeroRuns, err := e.store.CompleteRun(ctx, sigdb.RunResult{
		HistoryID:       historyID,
		LoaderCode:      l.Code,
		Window:          w,
		RecordsLoaded:   recordsLoaded,
		RecordsIngested: ingested,
		ActualFrom:      actualFrom,
		ActualTo:        actualTo,
		FinishedAt:      e.now(),
	})
	if err != nil {
		return errors.Wrap(err, "writing end markers")
	}

	metricZeroRecordRuns.WithLabelValues(l.Code).Set(float64(zeroRuns))
	if zeroRuns > e.cfg.MaxZeroRecordRuns {
		level.Warn(logger).Log("msg", "loader keeps returning empty windows", "consecutive_zero_record_runs", zeroRuns)
	}

	level.Info(logger).Log("msg", "loader run complete", "window", w,
		"records_loaded", recordsLoaded, "records_ingested", ingested,
		"duration", e.now().Sub(start))
	return nil
}

// fail writes the failure markers. The loader's watermark stays where it
// was so the same window is retried after recovery.
func (e *Executor) fail(ctx context.Context, historyID int64, loaderCode string, logger log.Logger, cause error) {
	metricExecutions.WithLabelValues(loaderCode, "failed").Inc()
	level.Error(logger).Log("msg", "loader run failed", "err", cause)

	// The run may have failed because its deadline passed; the failure
	// markers must still be written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	stack := fmt.Sprintf("%+v", cause)
	if err := e.store.FailRun(ctx, historyID, loaderCode, cause.Error(), stack, e.now()); err != nil {
		level.Error(logger).Log("msg", "writing failure markers failed", "err", err)
	}
}

func timestampBounds(signals []*sigdb.Signal) (from, to *time.Time) {
	for _, sig := range signals {
		ts := sig.LoadTimeStamp
		if from == nil || ts.Before(*from) {
			t := ts
			from = &t
		}
		if to == nil || ts.After(*to) {
			t := ts
			to = &t
		}
	}
	return from, to
}
