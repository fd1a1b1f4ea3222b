package janitor

import (
	"flag"
	"fmt"
	"time"

	"github.com/signalworks/sigflow/pkg/schedule"
	"github.com/signalworks/sigflow/pkg/util"
)

type Config struct {
	StaleLockInterval     time.Duration `yaml:"stale_lock_interval"`
	StaleLockInitialDelay time.Duration `yaml:"stale_lock_initial_delay"`
	ReleasedLockPurgeAt   string        `yaml:"released_lock_purge_at"`
	OrphanSweepMinute     int           `yaml:"orphan_sweep_minute"`
	LoadHistoryRetention  time.Duration `yaml:"load_history_retention"`
	LoadHistoryPurgeAt    string        `yaml:"load_history_purge_at"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.StaleLockInterval, util.PrefixConfig(prefix, "janitor.stale-lock-interval"), 30*time.Minute, "Interval between stale lock sweeps")
	f.DurationVar(&cfg.StaleLockInitialDelay, util.PrefixConfig(prefix, "janitor.stale-lock-initial-delay"), time.Minute, "Delay before the first stale lock sweep")
	f.StringVar(&cfg.ReleasedLockPurgeAt, util.PrefixConfig(prefix, "janitor.released-lock-purge-at"), "02:00", "UTC wall time of the daily released lock purge")
	f.IntVar(&cfg.OrphanSweepMinute, util.PrefixConfig(prefix, "janitor.orphan-sweep-minute"), 0, "Minute of every hour at which orphaned signals are swept")
	f.DurationVar(&cfg.LoadHistoryRetention, util.PrefixConfig(prefix, "janitor.load-history-retention"), 30*24*time.Hour, "How long load history rows are kept")
	f.StringVar(&cfg.LoadHistoryPurgeAt, util.PrefixConfig(prefix, "janitor.load-history-purge-at"), "03:00", "UTC wall time of the daily load history purge")
}

func ValidateConfig(cfg *Config) error {
	if cfg.StaleLockInterval <= 0 {
		return fmt.Errorf("positive stale lock interval required")
	}

	if cfg.OrphanSweepMinute < 0 || cfg.OrphanSweepMinute > 59 {
		return fmt.Errorf("orphan sweep minute must be within the hour")
	}

	if cfg.LoadHistoryRetention <= 0 {
		return fmt.Errorf("positive load history retention required")
	}

	if _, err := schedule.ParseDailyAt(cfg.ReleasedLockPurgeAt); err != nil {
		return fmt.Errorf("released lock purge: %w", err)
	}

	if _, err := schedule.ParseDailyAt(cfg.LoadHistoryPurgeAt); err != nil {
		return fmt.Errorf("load history purge: %w", err)
	}

	return nil
}
