package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryNext(t *testing.T) {
	now := time.Date(2024, 2, 10, 12, 34, 56, 0, time.UTC)
	next := Every(30 * time.Minute).Next(now)
	assert.Equal(t, now.Add(30*time.Minute), next)
	assert.True(t, next.After(now))
}

func TestHourlyAtNext(t *testing.T) {
	tests := []struct {
		name     string
		minute   HourlyAt
		after    time.Time
		expected time.Time
	}{
		{
			name:     "before the mark",
			minute:   HourlyAt(30),
			after:    time.Date(2024, 2, 10, 12, 10, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "exactly on the mark rolls over",
			minute:   HourlyAt(0),
			after:    time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 10, 13, 0, 0, 0, time.UTC),
		},
		{
			name:     "past the mark",
			minute:   HourlyAt(0),
			after:    time.Date(2024, 2, 10, 12, 59, 59, 0, time.UTC),
			expected: time.Date(2024, 2, 10, 13, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.minute.Next(tc.after)
			assert.Equal(t, tc.expected, got)
			assert.True(t, got.After(tc.after))
		})
	}
}

func TestDailyAtNext(t *testing.T) {
	two := DailyAt{Hour: 2}

	before := time.Date(2024, 2, 10, 1, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 10, 2, 0, 0, 0, time.UTC), two.Next(before))

	at := time.Date(2024, 2, 10, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 11, 2, 0, 0, 0, time.UTC), two.Next(at))

	after := time.Date(2024, 2, 10, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 11, 2, 0, 0, 0, time.UTC), two.Next(after))
}

func TestDailyAtNextCrossesMonthEnd(t *testing.T) {
	two := DailyAt{Hour: 2}
	lastOfMonth := time.Date(2024, 2, 29, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), two.Next(lastOfMonth))
}

func TestParseDailyAt(t *testing.T) {
	d, err := ParseDailyAt("02:00")
	require.NoError(t, err)
	assert.Equal(t, DailyAt{Hour: 2, Minute: 0}, d)

	d, err = ParseDailyAt("23:59")
	require.NoError(t, err)
	assert.Equal(t, DailyAt{Hour: 23, Minute: 59}, d)

	for _, bad := range []string{"", "2", "24:00", "12:60", "aa:bb", "-1:00"} {
		_, err := ParseDailyAt(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
