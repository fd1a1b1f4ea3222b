package sources

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrWritableSource aborts startup when a source grants write privileges.
var ErrWritableSource = errors.New("source database is not read-only")

// Gate verifies at startup that every source pool is read-only. In
// production a violation fails the service, which takes the whole process
// down with exit code 1. In development it logs loudly and lets the process
// run.
type Gate struct {
	services.Service

	registry    *Registry
	development bool
	logger      log.Logger
}

func NewGate(registry *Registry, development bool, logger log.Logger) *Gate {
	g := &Gate{
		registry:    registry,
		development: development,
		logger:      logger,
	}
	g.Service = services.NewIdleService(g.starting, nil)
	return g
}

func (g *Gate) starting(ctx context.Context) error {
	// The pools only exist once the registry is running.
	if err := g.registry.AwaitRunning(ctx); err != nil {
		return errors.Wrap(err, "waiting for source registry")
	}

	reports, err := g.registry.InspectAll(ctx)
	if err != nil {
		return errors.Wrap(err, "probing source permissions")
	}

	var violation error
	for _, rep := range reports {
		if rep.ReadOnly {
			level.Info(g.logger).Log("msg", "source permission probe passed", "db_code", rep.DBCode)
			continue
		}

		level.Warn(g.logger).Log("msg", "!!! SOURCE DATABASE IS WRITABLE !!!", "report", rep.String())
		violation = multierr.Append(violation, errors.Wrap(ErrWritableSource, rep.DBCode))
	}

	if violation == nil {
		return nil
	}
	if g.development {
		level.Warn(g.logger).Log("msg", "running in development mode, continuing despite writable sources", "err", violation)
		return nil
	}
	return violation
}
