package transformer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Integer timestamps above this value cannot be plausible epoch seconds
// (the year 4967) and are treated as milliseconds.
const millisThreshold = 94_608_000_000

var stringTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// toEpochSeconds converts a driver value into Unix epoch seconds. Drivers
// hand back native timestamps, every integer and float width, DECIMAL
// strings, or raw bytes depending on product and column type.
func toEpochSeconds(v any) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Unix(), nil
	case int64:
		return normalizeEpoch(t), nil
	case int32:
		return normalizeEpoch(int64(t)), nil
	case int:
		return normalizeEpoch(int64(t)), nil
	case uint64:
		return normalizeEpoch(int64(t)), nil
	case float64:
		return normalizeEpoch(int64(t)), nil
	case float32:
		return normalizeEpoch(int64(t)), nil
	case decimal.Decimal:
		return normalizeEpoch(t.IntPart()), nil
	case []byte:
		return stringToEpoch(string(t))
	case string:
		return stringToEpoch(t)
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func stringToEpoch(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp value")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalizeEpoch(n), nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return normalizeEpoch(d.IntPart()), nil
	}

	for _, layout := range stringTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unparseable timestamp %q", s)
}

func normalizeEpoch(n int64) int64 {
	if n > millisThreshold {
		return n / 1000
	}
	return n
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case float32:
		return int64(t), nil
	case decimal.Decimal:
		return t.IntPart(), nil
	case []byte:
		return toInt64(string(t))
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return 0, err
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case decimal.Decimal:
		return t.InexactFloat64(), nil
	case []byte:
		return toFloat64(string(t))
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// toSegmentString renders a segment value. Segments are stored as text
// whatever the source column type was.
func toSegmentString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
