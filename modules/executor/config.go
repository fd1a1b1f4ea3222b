package executor

import (
	"flag"
	"fmt"

	"github.com/signalworks/sigflow/pkg/util"
)

type Config struct {
	MaxZeroRecordRuns int `yaml:"max_zero_record_runs"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxZeroRecordRuns, util.PrefixConfig(prefix, "executor.max-zero-record-runs"), 10, "Consecutive empty windows before a loader is flagged in the log")
}

func ValidateConfig(cfg *Config) error {
	if cfg.MaxZeroRecordRuns <= 0 {
		return fmt.Errorf("positive max zero record runs required")
	}

	return nil
}
