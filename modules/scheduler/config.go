package scheduler

import (
	"flag"
	"fmt"
	"time"

	"github.com/signalworks/sigflow/pkg/util"
)

type Config struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	DefaultLookback  time.Duration `yaml:"default_lookback"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	FailedRetryAfter time.Duration `yaml:"failed_retry_after"`
	MaxWorkers       int           `yaml:"max_workers"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.TickInterval, util.PrefixConfig(prefix, "scheduler.tick-interval"), 10*time.Second, "Interval between dispatch ticks")
	f.DurationVar(&cfg.InitialDelay, util.PrefixConfig(prefix, "scheduler.initial-delay"), 5*time.Second, "Delay before the first dispatch tick")
	f.DurationVar(&cfg.DefaultLookback, util.PrefixConfig(prefix, "scheduler.default-lookback"), 24*time.Hour, "How far back the first run of a loader reaches")
	f.DurationVar(&cfg.ExecutionTimeout, util.PrefixConfig(prefix, "scheduler.execution-timeout"), time.Hour, "Hard deadline for one loader execution")
	f.DurationVar(&cfg.FailedRetryAfter, util.PrefixConfig(prefix, "scheduler.failed-retry-after"), 20*time.Minute, "How long a failed loader sits out before automatic recovery")
	f.IntVar(&cfg.MaxWorkers, util.PrefixConfig(prefix, "scheduler.max-workers"), 4, "Loader executions this replica runs concurrently")
	f.DurationVar(&cfg.DrainTimeout, util.PrefixConfig(prefix, "scheduler.drain-timeout"), 30*time.Second, "How long shutdown waits for running executions before cancelling them")
}

func ValidateConfig(cfg *Config) error {
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("positive scheduler tick interval required")
	}

	if cfg.DefaultLookback <= 0 {
		return fmt.Errorf("positive scheduler default lookback required")
	}

	if cfg.ExecutionTimeout <= 0 {
		return fmt.Errorf("positive scheduler execution timeout required")
	}

	if cfg.MaxWorkers <= 0 {
		return fmt.Errorf("positive scheduler max workers required")
	}

	return nil
}
