package segments

import (
	"flag"
	"fmt"

	"github.com/signalworks/sigflow/pkg/util"
)

type Config struct {
	LRUSize        int  `yaml:"lru_size"`
	UseSharedCache bool `yaml:"use_shared_cache"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.LRUSize, util.PrefixConfig(prefix, "segments.lru-size"), 4096, "Size of the per-process segment combination cache")
	f.BoolVar(&cfg.UseSharedCache, util.PrefixConfig(prefix, "segments.use-shared-cache"), true, "Use the shared cache for resolved segment codes when one is configured")
}

func ValidateConfig(cfg *Config) error {
	if cfg.LRUSize <= 0 {
		return fmt.Errorf("positive segments lru size required")
	}

	return nil
}
