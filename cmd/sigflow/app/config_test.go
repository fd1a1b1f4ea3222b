package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_CheckConfig(t *testing.T) {
	t.Setenv("SIGFLOW_ENCRYPTION_KEY", "")

	keyed := NewDefaultConfig()
	keyed.Store.EncryptionKey = "deadbeef"

	suspect := NewDefaultConfig()
	suspect.Scheduler.ExecutionTimeout = 3 * time.Hour
	suspect.Locking.StaleLockThreshold = 2 * time.Hour
	suspect.Scheduler.TickInterval = 500 * time.Millisecond
	suspect.Store.MaxConns = 2
	suspect.Scheduler.MaxWorkers = 4

	tt := []struct {
		name   string
		config *Config
		expect []ConfigWarning
	}{
		{
			name:   "check default cfg and expect only the key warning",
			config: NewDefaultConfig(),
			expect: []ConfigWarning{warnNoEncryptionKey},
		},
		{
			name:   "keyed default cfg has no warnings",
			config: keyed,
			expect: nil,
		},
		{
			name:   "hit all warnings",
			config: suspect,
			expect: []ConfigWarning{
				warnTimeoutPastStale,
				warnTightTick,
				warnFewStoreConns,
				warnNoEncryptionKey,
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			warnings := tc.config.CheckConfig()
			assert.Equal(t, tc.expect, warnings)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 3200, cfg.HTTPListenPort)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 2*time.Hour, cfg.Locking.StaleLockThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Janitor.LoadHistoryRetention)
	assert.True(t, cfg.Store.BootstrapSchema)
}
