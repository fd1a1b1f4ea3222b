package sigdb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLoader() *Loader {
	return &Loader{
		Code:                  "orders-hourly",
		SourceDBCode:          "erp-mysql",
		SQL:                   "SELECT 1",
		MinInterval:           time.Hour,
		MaxQueryPeriod:        6 * time.Hour,
		MaxParallelExecutions: 1,
		PurgeStrategy:         PurgeNone,
		ApprovalStatus:        ApprovalApproved,
		LoadStatus:            StatusIdle,
		Enabled:               true,
	}
}

func TestLoaderValidate(t *testing.T) {
	require.NoError(t, validLoader().Validate())

	tests := []struct {
		name   string
		mutate func(*Loader)
	}{
		{"empty code", func(l *Loader) { l.Code = "" }},
		{"code too long", func(l *Loader) { l.Code = strings.Repeat("x", 65) }},
		{"missing source", func(l *Loader) { l.SourceDBCode = "" }},
		{"zero min interval", func(l *Loader) { l.MinInterval = 0 }},
		{"negative min interval", func(l *Loader) { l.MinInterval = -time.Second }},
		{"zero query period", func(l *Loader) { l.MaxQueryPeriod = 0 }},
		{"negative max interval", func(l *Loader) { l.MaxInterval = -time.Hour }},
		{"zero parallel executions", func(l *Loader) { l.MaxParallelExecutions = 0 }},
		{"bad purge strategy", func(l *Loader) { l.PurgeStrategy = "SOMETIMES" }},
		{"enabled while pending approval", func(l *Loader) {
			l.ApprovalStatus = ApprovalPending
			l.Enabled = true
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := validLoader()
			tc.mutate(l)
			assert.Error(t, l.Validate())
		})
	}
}

func TestLoaderRunnable(t *testing.T) {
	l := validLoader()
	assert.True(t, l.Runnable())

	l.Enabled = false
	assert.False(t, l.Runnable())

	l = validLoader()
	l.ApprovalStatus = ApprovalDraft
	assert.False(t, l.Runnable())
}

func TestLoadStatusPriority(t *testing.T) {
	assert.Equal(t, 1, StatusIdle.Priority())
	assert.Equal(t, 2, StatusRunning.Priority())
	assert.Equal(t, 3, StatusFailed.Priority())
	assert.Equal(t, 4, StatusPaused.Priority())
	assert.Equal(t, 5, LoadStatus("BOGUS").Priority())
}

func TestTupleArgs(t *testing.T) {
	v := "a"
	tuple := SegmentTuple{&v}

	args := tupleArgs("loader-x", tuple)
	require.Len(t, args, 11)
	assert.Equal(t, "loader-x", args[0])
	assert.Equal(t, &v, args[1])
	assert.Nil(t, args[2])
}
