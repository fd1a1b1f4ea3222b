package sigdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// HistoryStore reads and prunes load history. The run markers themselves are
// written transactionally by Store.BeginRun/CompleteRun/FailRun.
type HistoryStore struct {
	pool *pgxpool.Pool
}

const historyColumns = `
	id, loader_code, source_db_code, status, start_time, end_time,
	duration_seconds, query_from_time, query_to_time, actual_from_time,
	actual_to_time, records_loaded, records_ingested, error_message,
	stack_trace, replica_name`

func scanHistory(row rowScanner) (*LoadHistory, error) {
	var h LoadHistory
	err := row.Scan(
		&h.ID, &h.LoaderCode, &h.SourceDBCode, &h.Status, &h.StartTime, &h.EndTime,
		&h.DurationSecs, &h.QueryFromTime, &h.QueryToTime, &h.ActualFrom,
		&h.ActualTo, &h.RecordsLoaded, &h.RecordsIngested, &h.ErrorMessage,
		&h.StackTrace, &h.ReplicaName,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListRecent returns the newest history rows, optionally restricted to one
// loader.
func (s *HistoryStore) ListRecent(ctx context.Context, loaderCode string, limit int) ([]*LoadHistory, error) {
	defer observe("history_list_recent", time.Now())

	query := `SELECT ` + historyColumns + ` FROM loader.load_history`
	args := []any{limit}
	if loaderCode != "" {
		query += ` WHERE loader_code = $2`
		args = append(args, loaderCode)
	}
	query += ` ORDER BY start_time DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing load history")
	}
	defer rows.Close()

	var out []*LoadHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes history rows whose run started before the cutoff.
// The janitor sweeps orphaned signals before calling this; any signal still
// referencing a pruned row keeps its data and has its history id nulled by
// the ON DELETE SET NULL foreign key.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe("history_delete_older", time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM loader.load_history
		WHERE start_time < $1
		  AND status <> $2`,
		cutoff, HistoryRunning)
	if err != nil {
		return 0, errors.Wrap(err, "pruning load history")
	}
	return tag.RowsAffected(), nil
}
