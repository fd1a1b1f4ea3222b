package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"

	"github.com/signalworks/sigflow/cmd/sigflow/app"
	"github.com/signalworks/sigflow/pkg/secrets"
	"github.com/signalworks/sigflow/pkg/util/log"
	"github.com/signalworks/sigflow/sigdb"
)

func loadStoreConfig(g *globalOptions) (sigdb.Config, error) {
	cfg := app.NewDefaultConfig()

	if g.ConfigFile != "" {
		buff, err := os.ReadFile(g.ConfigFile)
		if err != nil {
			return sigdb.Config{}, errors.Wrap(err, "reading config file")
		}
		if err := yaml.UnmarshalStrict(buff, cfg); err != nil {
			return sigdb.Config{}, errors.Wrap(err, "parsing config file")
		}
	}

	storeCfg := cfg.Store
	if g.DSN != "" {
		storeCfg.DSN = g.DSN
	}

	// The CLI reads, it never bootstraps.
	storeCfg.BootstrapSchema = false
	return storeCfg, nil
}

func loadStore(ctx context.Context, g *globalOptions) (*sigdb.Store, error) {
	storeCfg, err := loadStoreConfig(g)
	if err != nil {
		return nil, err
	}

	codec, err := secrets.NewCodecFromConfig(storeCfg.EncryptionKey, storeCfg.EncryptionKeyFile)
	if errors.Is(err, secrets.ErrNoKey) {
		codec = secrets.Disabled()
	} else if err != nil {
		return nil, err
	}

	return sigdb.New(ctx, storeCfg, codec, prometheus.NewRegistry(), log.Logger)
}

func tsString(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func durString(secs *float64) string {
	if secs == nil {
		return "-"
	}
	return (time.Duration(*secs * float64(time.Second))).Truncate(time.Millisecond).String()
}

func errString(msg *string) string {
	if msg == nil {
		return ""
	}
	if len(*msg) > 60 {
		return (*msg)[:57] + "..."
	}
	return *msg
}

func boolString(b bool) string {
	return fmt.Sprintf("%t", b)
}
