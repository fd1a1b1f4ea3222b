package sources

import (
	"flag"
	"fmt"
	"time"

	"github.com/signalworks/sigflow/pkg/util"
)

type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures int           `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type Config struct {
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RateLimit       int           `yaml:"rate_limit"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.QueryTimeout, util.PrefixConfig(prefix, "sources.query-timeout"), 10*time.Minute, "Hard timeout for a single source query")
	f.DurationVar(&cfg.PollInterval, util.PrefixConfig(prefix, "sources.poll-interval"), 0, "Interval to reload source database definitions. 0 disables periodic reload")
	f.IntVar(&cfg.MaxOpenConns, util.PrefixConfig(prefix, "sources.max-open-conns"), 8, "Maximum open connections per source pool")
	f.IntVar(&cfg.MaxIdleConns, util.PrefixConfig(prefix, "sources.max-idle-conns"), 2, "Maximum idle connections per source pool")
	f.DurationVar(&cfg.ConnMaxLifetime, util.PrefixConfig(prefix, "sources.conn-max-lifetime"), 30*time.Minute, "Maximum lifetime of a source connection")
	f.IntVar(&cfg.RateLimit, util.PrefixConfig(prefix, "sources.rate-limit"), 0, "Queries per second allowed per source. 0 disables rate limiting")

	cfg.Breaker.Enabled = true
	cfg.Breaker.MaxFailures = 5
	cfg.Breaker.OpenTimeout = time.Minute
}

func ValidateConfig(cfg *Config) error {
	if cfg.QueryTimeout <= 0 {
		return fmt.Errorf("positive source query timeout required")
	}

	if cfg.MaxOpenConns <= 0 {
		return fmt.Errorf("positive source max open conns required")
	}

	if cfg.Breaker.Enabled && cfg.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("positive breaker max failures required")
	}

	return nil
}
