// Package sigdb is the persistence engine for loader definitions, execution
// locks, load history and the signals they produce. Everything lives in one
// PostgreSQL database shared by all replicas.
package sigdb

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalworks/sigflow/pkg/secrets"
	"github.com/signalworks/sigflow/pkg/window"
)

// ErrNotFound is returned when a row the caller named does not exist.
var ErrNotFound = errors.New("not found")

// Store owns the sink connection pool and hands out the per-table stores.
type Store struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger log.Logger

	Loaders  *LoadersStore
	History  *HistoryStore
	Locks    *LocksStore
	Signals  *SignalsStore
	Segments *SegmentsStore
	Sources  *SourcesStore
}

func New(ctx context.Context, cfg Config, codec *secrets.Codec, reg prometheus.Registerer, logger log.Logger) (*Store, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parsing store dsn")
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating store pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "connecting to store")
	}

	if cfg.BootstrapSchema {
		level.Info(logger).Log("msg", "bootstrapping store schema")
		if err := bootstrapSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	registerPoolMetrics(reg, pool)

	s := &Store{
		cfg:    cfg,
		pool:   pool,
		logger: logger,
	}
	s.Loaders = &LoadersStore{pool: pool, codec: codec}
	s.History = &HistoryStore{pool: pool}
	s.Locks = &LocksStore{pool: pool}
	s.Signals = &SignalsStore{pool: pool}
	s.Segments = &SegmentsStore{pool: pool}
	s.Sources = &SourcesStore{pool: pool, codec: codec}

	return s, nil
}

// Pool exposes the underlying pool for callers that need raw access.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

// BeginRun writes the start markers of an execution in one transaction: a
// RUNNING history row and the loader's RUNNING status.
func (s *Store) BeginRun(ctx context.Context, l *Loader, w window.Window, replica string, now time.Time) (int64, error) {
	defer observe("begin_run", time.Now())

	var historyID int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO loader.load_history
				(loader_code, source_db_code, status, start_time, query_from_time, query_to_time, replica_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			l.Code, l.SourceDBCode, HistoryRunning, now, w.From, w.To, replica,
		).Scan(&historyID)
		if err != nil {
			return errors.Wrap(err, "inserting history row")
		}

		_, err = tx.Exec(ctx, `
			UPDATE loader.loader SET load_status = $2, updated_at = now()
			WHERE loader_code = $1`,
			l.Code, StatusRunning)
		return errors.Wrap(err, "marking loader running")
	})
	if err != nil {
		return 0, err
	}
	return historyID, nil
}

// RunResult captures the terminal state of a successful execution.
type RunResult struct {
	HistoryID       int64
	LoaderCode      string
	Window          window.Window
	RecordsLoaded   int64
	RecordsIngested int64
	ActualFrom      *time.Time
	ActualTo        *time.Time
	FinishedAt      time.Time
}

// CompleteRun writes the success markers in one transaction. The loader's
// high water mark advances to the window's upper bound even when the run
// produced no records. Returns the consecutive zero-record run count after
// the update.
func (s *Store) CompleteRun(ctx context.Context, res RunResult) (int, error) {
	defer observe("complete_run", time.Now())

	var zeroRuns int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE loader.load_history SET
				status = $2,
				end_time = $3,
				duration_seconds = EXTRACT(EPOCH FROM ($3::timestamptz - start_time)),
				records_loaded = $4,
				records_ingested = $5,
				actual_from_time = $6,
				actual_to_time = $7
			WHERE id = $1`,
			res.HistoryID, HistorySuccess, res.FinishedAt, res.RecordsLoaded, res.RecordsIngested, res.ActualFrom, res.ActualTo)
		if err != nil {
			return errors.Wrap(err, "completing history row")
		}

		// A pause issued mid-run must survive the run finishing.
		err = tx.QueryRow(ctx, `
			UPDATE loader.loader SET
				load_status = CASE WHEN load_status = 'PAUSED' THEN load_status ELSE $2 END,
				last_load_timestamp = $3,
				failed_since = NULL,
				consecutive_zero_record_runs = CASE WHEN $4 THEN consecutive_zero_record_runs + 1 ELSE 0 END,
				updated_at = now()
			WHERE loader_code = $1
			RETURNING consecutive_zero_record_runs`,
			res.LoaderCode, StatusIdle, res.Window.To, res.RecordsLoaded == 0,
		).Scan(&zeroRuns)
		return errors.Wrap(err, "advancing loader watermark")
	})
	return zeroRuns, err
}

// FailRun writes the failure markers in one transaction. The loader's high
// water mark is left untouched so the same window is retried later.
func (s *Store) FailRun(ctx context.Context, historyID int64, loaderCode, errMsg, stack string, now time.Time) error {
	defer observe("fail_run", time.Now())

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE loader.load_history SET
				status = $2,
				end_time = $3,
				duration_seconds = EXTRACT(EPOCH FROM ($3::timestamptz - start_time)),
				error_message = $4,
				stack_trace = $5
			WHERE id = $1`,
			historyID, HistoryFailed, now, errMsg, stack)
		if err != nil {
			return errors.Wrap(err, "failing history row")
		}

		_, err = tx.Exec(ctx, `
			UPDATE loader.loader SET
				load_status = CASE WHEN load_status = 'PAUSED' THEN load_status ELSE $2 END,
				failed_since = $3,
				updated_at = now()
			WHERE loader_code = $1`,
			loaderCode, StatusFailed, now)
		return errors.Wrap(err, "marking loader failed")
	})
}

// AdjustLastLoad moves a loader's high water mark. Backward moves (or a
// clear) purge already loaded signals according to the loader's purge
// strategy. Returns the previous mark and the purged row count.
func (s *Store) AdjustLastLoad(ctx context.Context, loaderCode string, newTS *time.Time) (*time.Time, int64, error) {
	defer observe("adjust_last_load", time.Now())

	var (
		oldTS  *time.Time
		purged int64
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var strategy PurgeStrategy
		err := tx.QueryRow(ctx, `
			SELECT last_load_timestamp, purge_strategy
			FROM loader.loader WHERE loader_code = $1 FOR UPDATE`,
			loaderCode,
		).Scan(&oldTS, &strategy)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(ErrNotFound, "loader %s", loaderCode)
		} else if err != nil {
			return errors.Wrap(err, "reading loader watermark")
		}

		_, err = tx.Exec(ctx, `
			UPDATE loader.loader SET last_load_timestamp = $2, updated_at = now()
			WHERE loader_code = $1`,
			loaderCode, newTS)
		if err != nil {
			return errors.Wrap(err, "moving loader watermark")
		}

		backward := oldTS != nil && (newTS == nil || newTS.Before(*oldTS))
		if !backward {
			return nil
		}

		var tag string
		var args []any
		switch strategy {
		case PurgeWindow:
			if newTS == nil {
				tag = `DELETE FROM signals.signals_history WHERE loader_code = $1 AND load_time_stamp < $2`
				args = []any{loaderCode, *oldTS}
			} else {
				tag = `DELETE FROM signals.signals_history WHERE loader_code = $1 AND load_time_stamp >= $2 AND load_time_stamp < $3`
				args = []any{loaderCode, *newTS, *oldTS}
			}
		case PurgeAll:
			tag = `DELETE FROM signals.signals_history WHERE loader_code = $1`
			args = []any{loaderCode}
		default:
			return nil
		}

		res, err := tx.Exec(ctx, tag, args...)
		if err != nil {
			return errors.Wrap(err, "purging signals")
		}
		purged = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return oldTS, purged, nil
}
