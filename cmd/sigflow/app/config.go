package app

import (
	"flag"
	"fmt"
	"os"
	"time"

	dslog "github.com/grafana/dskit/log"

	cachemod "github.com/signalworks/sigflow/modules/cache"
	"github.com/signalworks/sigflow/modules/executor"
	"github.com/signalworks/sigflow/modules/janitor"
	"github.com/signalworks/sigflow/modules/scheduler"
	"github.com/signalworks/sigflow/modules/segments"
	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/sigdb"
)

// Config is the root config for App.
type Config struct {
	Development       bool        `yaml:"development,omitempty"`
	ReplicaName       string      `yaml:"replica_name,omitempty"`
	HTTPListenAddress string      `yaml:"http_listen_address,omitempty"`
	HTTPListenPort    int         `yaml:"http_listen_port,omitempty"`
	LogLevel          dslog.Level `yaml:"log_level,omitempty"`
	LogFormat         string      `yaml:"log_format,omitempty"`

	Store     sigdb.Config        `yaml:"store,omitempty"`
	Locking   sigdb.LockingConfig `yaml:"locking,omitempty"`
	Sources   sources.Config      `yaml:"sources,omitempty"`
	Scheduler scheduler.Config    `yaml:"scheduler,omitempty"`
	Executor  executor.Config     `yaml:"executor,omitempty"`
	Janitor   janitor.Config      `yaml:"janitor,omitempty"`
	Segments  segments.Config     `yaml:"segments,omitempty"`
	Cache     cachemod.Config     `yaml:"cache,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&c.Development, "development", false, "Log read-only violations on source databases instead of refusing to start")
	f.StringVar(&c.ReplicaName, "replica.name", "", "Identity recorded on execution locks. Defaults to POD_NAME, HOSTNAME or the OS hostname")
	f.StringVar(&c.HTTPListenAddress, "server.http-listen-address", "", "HTTP server listen address")
	f.IntVar(&c.HTTPListenPort, "server.http-listen-port", 3200, "HTTP server listen port")
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Log format. Either logfmt or json")
	c.LogLevel.RegisterFlags(f)

	// Each module config carries its own option prefix.
	c.Store.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Locking.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Sources.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Scheduler.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Executor.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Janitor.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Segments.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Cache.RegisterFlagsAndApplyDefaults(prefix, f)
}

// NewDefaultConfig returns a config with all defaults applied.
func NewDefaultConfig() *Config {
	c := &Config{}
	fs := flag.NewFlagSet("", flag.PanicOnError)
	c.RegisterFlagsAndApplyDefaults("", fs)
	return c
}

// ConfigWarning bundles a warning message with an explanation of the likely
// consequence.
type ConfigWarning struct {
	Message string
	Explain string
}

var (
	warnTimeoutPastStale = ConfigWarning{
		Message: "scheduler.execution_timeout > locking.stale_lock_threshold",
		Explain: "A replica may reclaim the lock of an execution that is still running",
	}
	warnTightTick = ConfigWarning{
		Message: "scheduler.tick_interval below 1s",
		Explain: "Every replica polls the store on every tick",
	}
	warnFewStoreConns = ConfigWarning{
		Message: "store.max_conns < scheduler.max_workers",
		Explain: "Concurrent executions will queue on the store pool",
	}
	warnNoEncryptionKey = ConfigWarning{
		Message: "no encryption key configured",
		Explain: "Reading an encrypted loader SQL or source password will fail",
	}
)

// CheckConfig checks for config values that are suspect but not invalid.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.Scheduler.ExecutionTimeout > c.Locking.StaleLockThreshold {
		warnings = append(warnings, warnTimeoutPastStale)
	}

	if c.Scheduler.TickInterval < time.Second {
		warnings = append(warnings, warnTightTick)
	}

	if c.Store.MaxConns < c.Scheduler.MaxWorkers {
		warnings = append(warnings, warnFewStoreConns)
	}

	if c.Store.EncryptionKey == "" && c.Store.EncryptionKeyFile == "" && os.Getenv("SIGFLOW_ENCRYPTION_KEY") == "" {
		warnings = append(warnings, warnNoEncryptionKey)
	}

	return warnings
}

func (c *Config) httpListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPListenAddress, c.HTTPListenPort)
}
