package sigdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ErrSegmentConflict signals that a concurrent writer raced this insert.
// Callers re-read and retry.
var ErrSegmentConflict = errors.New("segment combination conflict")

// SegmentsStore allocates the per-loader numeric codes for distinct segment
// tuples. Codes are dense, starting at 1 per loader.
type SegmentsStore struct {
	pool *pgxpool.Pool
}

// Lookup finds the code of an existing tuple. Nil dimensions match NULL.
func (s *SegmentsStore) Lookup(ctx context.Context, loaderCode string, tuple SegmentTuple) (int64, bool, error) {
	defer observe("segments_lookup", time.Now())

	var code int64
	err := s.pool.QueryRow(ctx, `
		SELECT segment_code FROM signals.segment_combination
		WHERE loader_code = $1
		  AND segment1 IS NOT DISTINCT FROM $2
		  AND segment2 IS NOT DISTINCT FROM $3
		  AND segment3 IS NOT DISTINCT FROM $4
		  AND segment4 IS NOT DISTINCT FROM $5
		  AND segment5 IS NOT DISTINCT FROM $6
		  AND segment6 IS NOT DISTINCT FROM $7
		  AND segment7 IS NOT DISTINCT FROM $8
		  AND segment8 IS NOT DISTINCT FROM $9
		  AND segment9 IS NOT DISTINCT FROM $10
		  AND segment10 IS NOT DISTINCT FROM $11`,
		tupleArgs(loaderCode, tuple)...,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "looking up segment tuple of loader %s", loaderCode)
	}
	return code, true, nil
}

// Insert allocates the next code for a new tuple. Two writers can race on
// either the code or the tuple uniqueness; both surface as
// ErrSegmentConflict.
func (s *SegmentsStore) Insert(ctx context.Context, loaderCode string, tuple SegmentTuple) (int64, error) {
	defer observe("segments_insert", time.Now())

	var code int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO signals.segment_combination
			(loader_code, segment_code, segment1, segment2, segment3, segment4, segment5,
			 segment6, segment7, segment8, segment9, segment10)
		SELECT $1, COALESCE(MAX(segment_code), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM signals.segment_combination
		WHERE loader_code = $1
		RETURNING segment_code`,
		tupleArgs(loaderCode, tuple)...,
	).Scan(&code)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrSegmentConflict
		}
		return 0, errors.Wrapf(err, "inserting segment tuple of loader %s", loaderCode)
	}
	return code, nil
}

func tupleArgs(loaderCode string, tuple SegmentTuple) []any {
	args := make([]any, 0, len(tuple)+1)
	args = append(args, loaderCode)
	for _, v := range tuple {
		args = append(args, v)
	}
	return args
}
