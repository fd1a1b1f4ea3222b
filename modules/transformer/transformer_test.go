package transformer

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/go-test/deep"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/sigdb"
)

var testCreatedAt = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

type fakeInterner struct {
	codes map[string]int64
	next  int64
}

func (f *fakeInterner) GetOrCreate(_ context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, error) {
	key := loaderCode
	for _, v := range tuple {
		if v == nil {
			key += "|nil"
		} else {
			key += "|" + *v
		}
	}
	if f.codes == nil {
		f.codes = map[string]int64{}
	}
	if code, ok := f.codes[key]; ok {
		return code, nil
	}
	f.next++
	f.codes[key] = f.next
	return f.next, nil
}

func newTestTransformer() *Transformer {
	tr := New(&fakeInterner{}, log.NewNopLogger())
	tr.now = func() time.Time { return testCreatedAt }
	return tr
}

func row(cols []string, vals ...any) sources.Row {
	return sources.NewRow(cols, vals)
}

func i64(n int64) *int64     { return &n }
func f64(f float64) *float64 { return &f }

func TestTransformFullRow(t *testing.T) {
	tr := newTestTransformer()

	cols := []string{"ts", "segment1", "seg2", "rec_count", "max_val", "min_val", "avg_val", "sum_val"}
	out, err := tr.Transform(context.Background(), Input{
		LoaderCode: "SALES_DAILY",
		Rows: []sources.Row{
			row(cols, int64(1707555600), "eu", "web", int64(12), 99.5, 0.5, 50.0, 600.0),
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	want := &sigdb.Signal{
		LoaderCode:    "SALES_DAILY",
		LoadTimeStamp: time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC),
		SegmentCode:   "1",
		RecCount:      i64(12),
		MaxVal:        f64(99.5),
		MinVal:        f64(0.5),
		AvgVal:        f64(50.0),
		SumVal:        f64(600.0),
		CreatedAt:     testCreatedAt,
	}
	if diff := deep.Equal(want, out[0]); diff != nil {
		t.Fatal(diff)
	}
}

func TestTransformTimestampVariants(t *testing.T) {
	want := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name  string
		value any
	}{
		{"epoch seconds int", int64(1707555600)},
		{"epoch millis", int64(1707555600000)},
		{"epoch float", float64(1707555600)},
		{"decimal", decimal.NewFromInt(1707555600)},
		{"native time", want},
		{"integer string", "1707555600"},
		{"iso string", "2024-02-10T09:00:00Z"},
		{"datetime string", "2024-02-10 09:00:00"},
		{"bytes", []byte("1707555600")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTransformer()
			out, err := tr.Transform(context.Background(), Input{
				LoaderCode: "L",
				Rows:       []sources.Row{row([]string{"timestamp"}, tc.value)},
			})
			require.NoError(t, err)
			require.Equal(t, want, out[0].LoadTimeStamp)
		})
	}
}

func TestTransformTimezoneOffset(t *testing.T) {
	tr := newTestTransformer()

	// A source four hours ahead of UTC returned a row stamped 05:30 source
	// time; the signal must land at 09:30 UTC.
	out, err := tr.Transform(context.Background(), Input{
		LoaderCode:  "L",
		OffsetHours: 4,
		Rows: []sources.Row{
			row([]string{"ts"}, time.Date(2024, 2, 10, 5, 30, 0, 0, time.UTC)),
		},
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC), out[0].LoadTimeStamp)
}

func TestTransformMissingTimestampFailsRun(t *testing.T) {
	tr := newTestTransformer()

	_, err := tr.Transform(context.Background(), Input{
		LoaderCode: "L",
		Rows: []sources.Row{
			row([]string{"ts", "rec_count"}, int64(1707555600), int64(1)),
			row([]string{"rec_count"}, int64(2)),
		},
	})
	require.ErrorIs(t, err, ErrMissingTimestamp)
	require.Contains(t, err.Error(), "row 1")
}

func TestTransformBadMetricIsNulled(t *testing.T) {
	tr := newTestTransformer()

	out, err := tr.Transform(context.Background(), Input{
		LoaderCode: "L",
		Rows: []sources.Row{
			row([]string{"ts", "rec_count", "max_val"}, int64(1707555600), "not-a-number", "also-bad"),
		},
	})
	require.NoError(t, err)
	require.Nil(t, out[0].RecCount)
	require.Nil(t, out[0].MaxVal)
}

func TestTransformSegmentInterning(t *testing.T) {
	tr := newTestTransformer()

	cols := []string{"ts", "seg1"}
	out, err := tr.Transform(context.Background(), Input{
		LoaderCode: "L",
		Rows: []sources.Row{
			row(cols, int64(1707555600), "eu"),
			row(cols, int64(1707555660), "us"),
			row(cols, int64(1707555720), "eu"),
		},
	})
	require.NoError(t, err)

	// Equal tuples share a code, distinct tuples do not, and output
	// preserves row order.
	require.Equal(t, out[0].SegmentCode, out[2].SegmentCode)
	require.NotEqual(t, out[0].SegmentCode, out[1].SegmentCode)
	require.True(t, out[0].LoadTimeStamp.Before(out[1].LoadTimeStamp))
}

func TestTransformDecimalMetrics(t *testing.T) {
	tr := newTestTransformer()

	// MySQL DECIMAL columns arrive as raw bytes.
	out, err := tr.Transform(context.Background(), Input{
		LoaderCode: "L",
		Rows: []sources.Row{
			row([]string{"ts", "sum_val", "cnt"}, int64(1707555600), []byte("123.45"), []byte("7")),
		},
	})
	require.NoError(t, err)
	require.Equal(t, f64(123.45), out[0].SumVal)
	require.Equal(t, i64(7), out[0].RecCount)
}

func TestTransformEmptyResult(t *testing.T) {
	tr := newTestTransformer()

	out, err := tr.Transform(context.Background(), Input{LoaderCode: "L"})
	require.NoError(t, err)
	require.Empty(t, out)
}
