// Package transformer maps raw source rows into canonical signal records:
// timestamps normalized to UTC, segments interned into per-loader codes,
// metrics coerced to their storage types.
package transformer

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/sigdb"
)

// ErrMissingTimestamp fails a run whose result set lacks a usable timestamp
// column.
var ErrMissingTimestamp = errors.New("row has no timestamp column")

// Interner resolves a segment tuple into its per-loader code.
type Interner interface {
	GetOrCreate(ctx context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, error)
}

// Input is one query's raw output.
type Input struct {
	LoaderCode  string
	Rows        []sources.Row
	OffsetHours int
}

type Transformer struct {
	interner Interner
	logger   log.Logger
	now      func() time.Time
}

func New(interner Interner, logger log.Logger) *Transformer {
	return &Transformer{
		interner: interner,
		logger:   logger,
		now:      time.Now,
	}
}

// Transform converts every row, preserving result-set order. A bad
// timestamp fails the whole run; a bad metric value only nulls that metric.
// The timezone offset shifts source-local timestamps back to UTC, inverting
// the shift the query builder applied to the window bounds.
func (t *Transformer) Transform(ctx context.Context, in Input) ([]*sigdb.Signal, error) {
	if len(in.Rows) == 0 {
		return nil, nil
	}

	createdAt := t.now().UTC()
	shift := time.Duration(in.OffsetHours) * time.Hour

	signals := make([]*sigdb.Signal, 0, len(in.Rows))
	for i, row := range in.Rows {
		sig, err := t.transformRow(ctx, in.LoaderCode, row, shift, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

func (t *Transformer) transformRow(ctx context.Context, loaderCode string, row sources.Row, shift time.Duration, createdAt time.Time) (*sigdb.Signal, error) {
	raw, ok := firstPresent(row, timestampAliases)
	if !ok || raw == nil {
		return nil, ErrMissingTimestamp
	}

	epoch, err := toEpochSeconds(raw)
	if err != nil {
		return nil, errors.Wrap(err, "timestamp")
	}
	loadTS := time.Unix(epoch, 0).UTC().Add(shift)

	var tuple sigdb.SegmentTuple
	for d := 0; d < len(tuple); d++ {
		if v, ok := firstPresent(row, segmentAliases[d]); ok && v != nil {
			s := toSegmentString(v)
			tuple[d] = &s
		}
	}

	code, err := t.interner.GetOrCreate(ctx, loaderCode, tuple)
	if err != nil {
		return nil, errors.Wrap(err, "interning segments")
	}

	sig := &sigdb.Signal{
		LoaderCode:    loaderCode,
		LoadTimeStamp: loadTS,
		SegmentCode:   strconv.FormatInt(code, 10),
		CreatedAt:     createdAt,
	}

	sig.RecCount = t.intMetric(row, countAliases, "rec_count")
	sig.MaxVal = t.floatMetric(row, maxAliases, "max_val")
	sig.MinVal = t.floatMetric(row, minAliases, "min_val")
	sig.AvgVal = t.floatMetric(row, avgAliases, "avg_val")
	sig.SumVal = t.floatMetric(row, sumAliases, "sum_val")

	return sig, nil
}

func (t *Transformer) intMetric(row sources.Row, aliases []string, name string) *int64 {
	v, ok := firstPresent(row, aliases)
	if !ok || v == nil {
		return nil
	}
	n, err := toInt64(v)
	if err != nil {
		level.Warn(t.logger).Log("msg", "dropping unparseable metric", "metric", name, "err", err)
		return nil
	}
	return &n
}

func (t *Transformer) floatMetric(row sources.Row, aliases []string, name string) *float64 {
	v, ok := firstPresent(row, aliases)
	if !ok || v == nil {
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		level.Warn(t.logger).Log("msg", "dropping unparseable metric", "metric", name, "err", err)
		return nil
	}
	return &f
}

func firstPresent(row sources.Row, aliases []string) (any, bool) {
	for _, a := range aliases {
		if v, ok := row.Value(a); ok {
			return v, true
		}
	}
	return nil, false
}
