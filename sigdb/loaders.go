package sigdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/pkg/secrets"
)

// LoadersStore reads and writes loader definitions and their runtime state.
// Loader SQL is encrypted at rest; every read path decrypts.
type LoadersStore struct {
	pool  *pgxpool.Pool
	codec *secrets.Codec
}

const loaderColumns = `
	loader_code, source_db_code, loader_sql_enc,
	min_interval_seconds, COALESCE(max_interval_seconds, 0),
	max_query_period_seconds, max_parallel_executions,
	COALESCE(source_tz_offset_hours, 0), COALESCE(aggregation_period_seconds, 0),
	purge_strategy, enabled, approval_status, load_status,
	last_load_timestamp, failed_since, consecutive_zero_record_runs,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LoadersStore) scanLoader(row rowScanner) (*Loader, error) {
	var l Loader
	var encSQL string
	var minSecs, maxSecs, periodSecs, aggrSecs int64

	err := row.Scan(
		&l.Code, &l.SourceDBCode, &encSQL,
		&minSecs, &maxSecs,
		&periodSecs, &l.MaxParallelExecutions,
		&l.SourceTZOffsetHours, &aggrSecs,
		&l.PurgeStrategy, &l.Enabled, &l.ApprovalStatus, &l.LoadStatus,
		&l.LastLoadTimestamp, &l.FailedSince, &l.ConsecutiveZeroRecordRuns,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.MinInterval = time.Duration(minSecs) * time.Second
	l.MaxInterval = time.Duration(maxSecs) * time.Second
	l.MaxQueryPeriod = time.Duration(periodSecs) * time.Second
	l.AggregationPeriod = time.Duration(aggrSecs) * time.Second

	l.SQL, err = s.codec.DecryptString(encSQL)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypting sql of loader %s", l.Code)
	}
	return &l, nil
}

// ListEligible returns the loaders the scheduler may dispatch: enabled and
// approved, in any runtime state.
func (s *LoadersStore) ListEligible(ctx context.Context) ([]*Loader, error) {
	defer observe("loaders_list_eligible", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+loaderColumns+`
		FROM loader.loader
		WHERE enabled AND approval_status = $1
		ORDER BY loader_code`,
		ApprovalApproved)
	if err != nil {
		return nil, errors.Wrap(err, "listing eligible loaders")
	}
	defer rows.Close()

	return s.collect(rows)
}

// ListAll returns every loader regardless of state.
func (s *LoadersStore) ListAll(ctx context.Context) ([]*Loader, error) {
	defer observe("loaders_list_all", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+loaderColumns+`
		FROM loader.loader
		ORDER BY loader_code`)
	if err != nil {
		return nil, errors.Wrap(err, "listing loaders")
	}
	defer rows.Close()

	return s.collect(rows)
}

func (s *LoadersStore) collect(rows pgx.Rows) ([]*Loader, error) {
	var loaders []*Loader
	for rows.Next() {
		l, err := s.scanLoader(rows)
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, l)
	}
	return loaders, rows.Err()
}

func (s *LoadersStore) Get(ctx context.Context, code string) (*Loader, error) {
	defer observe("loaders_get", time.Now())

	l, err := s.scanLoader(s.pool.QueryRow(ctx, `
		SELECT `+loaderColumns+`
		FROM loader.loader
		WHERE loader_code = $1`,
		code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "loader %s", code)
	}
	return l, err
}

// Insert stores a new loader definition. The SQL is encrypted before it
// touches the wire.
func (s *LoadersStore) Insert(ctx context.Context, l *Loader) error {
	defer observe("loaders_insert", time.Now())

	if err := l.Validate(); err != nil {
		return err
	}

	encSQL, err := s.codec.EncryptString(l.SQL)
	if err != nil {
		return errors.Wrap(err, "encrypting loader sql")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loader.loader (
			loader_code, source_db_code, loader_sql_enc,
			min_interval_seconds, max_interval_seconds, max_query_period_seconds,
			max_parallel_executions, source_tz_offset_hours, aggregation_period_seconds,
			purge_strategy, enabled, approval_status, load_status, last_load_timestamp
		) VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7, $8, NULLIF($9, 0), $10, $11, $12, $13, $14)`,
		l.Code, l.SourceDBCode, encSQL,
		int64(l.MinInterval.Seconds()), int64(l.MaxInterval.Seconds()), int64(l.MaxQueryPeriod.Seconds()),
		l.MaxParallelExecutions, l.SourceTZOffsetHours, int64(l.AggregationPeriod.Seconds()),
		l.PurgeStrategy, l.Enabled, l.ApprovalStatus, l.LoadStatus, l.LastLoadTimestamp)
	return errors.Wrapf(err, "inserting loader %s", l.Code)
}

// CompareAndSetStatus flips a loader's runtime status only when it currently
// has the expected one. Returns false when the loader was in a different
// state; ErrNotFound when it does not exist.
func (s *LoadersStore) CompareAndSetStatus(ctx context.Context, code string, from, to LoadStatus) (bool, error) {
	defer observe("loaders_cas_status", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader SET
			load_status = $3,
			failed_since = CASE WHEN $3 = 'FAILED' THEN failed_since ELSE NULL END,
			updated_at = now()
		WHERE loader_code = $1 AND load_status = $2`,
		code, from, to)
	if err != nil {
		return false, errors.Wrapf(err, "updating status of loader %s", code)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish wrong-state from missing.
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT true FROM loader.loader WHERE loader_code = $1`, code).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errors.Wrapf(ErrNotFound, "loader %s", code)
	}
	return false, err
}

// SetPaused pauses a loader in any runtime state. Idempotent.
func (s *LoadersStore) SetPaused(ctx context.Context, code string) (bool, error) {
	defer observe("loaders_pause", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader SET load_status = $2, updated_at = now()
		WHERE loader_code = $1 AND load_status <> $2`,
		code, StatusPaused)
	if err != nil {
		return false, errors.Wrapf(err, "pausing loader %s", code)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT true FROM loader.loader WHERE loader_code = $1`, code).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errors.Wrapf(ErrNotFound, "loader %s", code)
	}
	return false, err
}

// RecoverFailed returns failed loaders to rotation once they have sat in
// FAILED longer than the retry delay.
func (s *LoadersStore) RecoverFailed(ctx context.Context, failedBefore time.Time) (int64, error) {
	defer observe("loaders_recover_failed", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader SET load_status = $1, failed_since = NULL, updated_at = now()
		WHERE load_status = $2 AND failed_since IS NOT NULL AND failed_since < $3`,
		StatusIdle, StatusFailed, failedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "recovering failed loaders")
	}
	return tag.RowsAffected(), nil
}
