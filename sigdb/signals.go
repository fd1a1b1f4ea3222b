package sigdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// SignalsStore writes transformed signals and sweeps the ones left behind by
// failed runs.
type SignalsStore struct {
	pool *pgxpool.Pool
}

var signalColumns = []string{
	"loader_code", "load_time_stamp", "segment_code", "rec_count",
	"max_val", "min_val", "avg_val", "sum_val", "created_at", "load_history_id",
}

// InsertBatch bulk-loads signals via COPY. All rows of a run arrive in one
// call; a failure leaves the batch partially applied, which the orphan sweep
// later repairs using the run's history id.
func (s *SignalsStore) InsertBatch(ctx context.Context, signals []*Signal) (int64, error) {
	defer observe("signals_insert_batch", time.Now())

	if len(signals) == 0 {
		return 0, nil
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"signals", "signals_history"},
		signalColumns,
		pgx.CopyFromSlice(len(signals), func(i int) ([]any, error) {
			sig := signals[i]
			return []any{
				sig.LoaderCode, sig.LoadTimeStamp, sig.SegmentCode, sig.RecCount,
				sig.MaxVal, sig.MinVal, sig.AvgVal, sig.SumVal, sig.CreatedAt, sig.LoadHistoryID,
			}, nil
		}))
	if err != nil {
		return 0, errors.Wrap(err, "bulk inserting signals")
	}
	return n, nil
}

// DeleteOrphaned removes signals whose run ultimately failed. Signals with a
// NULL history id (backfills) are never touched.
func (s *SignalsStore) DeleteOrphaned(ctx context.Context) (int64, error) {
	defer observe("signals_delete_orphaned", time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM signals.signals_history s
		USING loader.load_history h
		WHERE s.load_history_id = h.id AND h.status = $1`,
		HistoryFailed)
	if err != nil {
		return 0, errors.Wrap(err, "sweeping orphaned signals")
	}
	return tag.RowsAffected(), nil
}

// CountForLoader is used by status handlers and tests.
func (s *SignalsStore) CountForLoader(ctx context.Context, loaderCode string) (int64, error) {
	defer observe("signals_count", time.Now())

	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM signals.signals_history WHERE loader_code = $1`,
		loaderCode).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "counting signals of loader %s", loaderCode)
	}
	return n, nil
}
