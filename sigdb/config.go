package sigdb

import (
	"flag"
	"fmt"
	"time"

	"github.com/signalworks/sigflow/pkg/util"
)

type Config struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int           `yaml:"max_conns"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	BootstrapSchema   bool          `yaml:"bootstrap_schema"`
	EncryptionKey     string        `yaml:"encryption_key"`
	EncryptionKeyFile string        `yaml:"encryption_key_file"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.DSN, util.PrefixConfig(prefix, "store.dsn"), "", "PostgreSQL connection string of the signal store")
	f.IntVar(&cfg.MaxConns, util.PrefixConfig(prefix, "store.max-conns"), 16, "Maximum pool connections to the signal store")
	f.DurationVar(&cfg.ConnectTimeout, util.PrefixConfig(prefix, "store.connect-timeout"), 10*time.Second, "Timeout for the initial store connection test")
	f.BoolVar(&cfg.BootstrapSchema, util.PrefixConfig(prefix, "store.bootstrap-schema"), true, "Create the store schema on startup when missing")
}

// LockingConfig tunes the cross-replica lock lifecycle. It is shared by the
// scheduler (stale takeover inside TryAcquire) and the janitor (sweeps).
type LockingConfig struct {
	StaleLockThreshold    time.Duration `yaml:"stale_lock_threshold"`
	ReleasedLockRetention time.Duration `yaml:"released_lock_retention"`
}

func (cfg *LockingConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.StaleLockThreshold, util.PrefixConfig(prefix, "locking.stale-lock-threshold"), 2*time.Hour, "Age after which an unreleased lock is presumed abandoned and reclaimed")
	f.DurationVar(&cfg.ReleasedLockRetention, util.PrefixConfig(prefix, "locking.released-lock-retention"), 7*24*time.Hour, "How long released lock rows are kept for audit")
}

func ValidateLockingConfig(cfg *LockingConfig) error {
	if cfg.StaleLockThreshold <= 0 {
		return fmt.Errorf("positive stale lock threshold required")
	}

	if cfg.ReleasedLockRetention <= 0 {
		return fmt.Errorf("positive released lock retention required")
	}

	return nil
}

func ValidateConfig(cfg *Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("store dsn is required")
	}

	if cfg.MaxConns <= 0 {
		return fmt.Errorf("positive store max conns required")
	}

	return nil
}
