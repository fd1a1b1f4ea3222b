// Package loaders is the admin surface over loader state: pause, resume,
// watermark adjustment, and the plain-text status pages. The HTTP and auth
// plumbing in front of it lives outside this service.
package loaders

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/sigdb"
)

// ErrInvalidState rejects a transition the loader's current status does not
// allow.
var ErrInvalidState = errors.New("invalid loader state for this operation")

// LoaderStore is the loader slice of the store.
type LoaderStore interface {
	Get(ctx context.Context, code string) (*sigdb.Loader, error)
	ListAll(ctx context.Context) ([]*sigdb.Loader, error)
	SetPaused(ctx context.Context, code string) (bool, error)
	CompareAndSetStatus(ctx context.Context, code string, from, to sigdb.LoadStatus) (bool, error)
}

// WatermarkStore moves a loader's high water mark, purging signals per the
// loader's purge strategy on backward moves.
type WatermarkStore interface {
	AdjustLastLoad(ctx context.Context, loaderCode string, newTS *time.Time) (*time.Time, int64, error)
}

// LockLister feeds the locks status page.
type LockLister interface {
	ListLive(ctx context.Context) ([]*sigdb.ExecutionLock, error)
}

// SourceViewer feeds the sources status page.
type SourceViewer interface {
	Sources() []*sigdb.SourceDatabase
}

type Admin struct {
	loaders LoaderStore
	marks   WatermarkStore
	locks   LockLister
	sources SourceViewer
	logger  log.Logger
}

func NewAdmin(loaders LoaderStore, marks WatermarkStore, locks LockLister, sources SourceViewer, logger log.Logger) *Admin {
	return &Admin{
		loaders: loaders,
		marks:   marks,
		locks:   locks,
		sources: sources,
		logger:  logger,
	}
}

// Pause takes the loader out of rotation. Idempotent: pausing a paused
// loader is a no-op. A RUNNING loader finishes its in-flight execution; the
// scheduler simply stops dispatching it afterwards.
func (a *Admin) Pause(ctx context.Context, code string) error {
	changed, err := a.loaders.SetPaused(ctx, code)
	if err != nil {
		return err
	}
	if changed {
		level.Info(a.logger).Log("msg", "loader paused", "loader", code)
	}
	return nil
}

// Resume returns a paused loader to rotation. It does not force an
// immediate run; the next due tick picks the loader up.
func (a *Admin) Resume(ctx context.Context, code string) error {
	ok, err := a.loaders.CompareAndSetStatus(ctx, code, sigdb.StatusPaused, sigdb.StatusIdle)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrInvalidState, "loader %s is not paused", code)
	}

	level.Info(a.logger).Log("msg", "loader resumed", "loader", code)
	return nil
}

// AdjustTimestamp overwrites the loader's high water mark. nil clears it, so
// the next run applies the default lookback. Backward moves replay history
// and purge already loaded signals according to the loader's purge
// strategy; forward moves skip data. Deliberately not serialized against
// the scheduler: an in-flight run may still land its own watermark.
func (a *Admin) AdjustTimestamp(ctx context.Context, code string, newTS *time.Time) error {
	oldTS, purged, err := a.marks.AdjustLastLoad(ctx, code, newTS)
	if err != nil {
		return err
	}

	level.Info(a.logger).Log("msg", "loader watermark adjusted", "loader", code,
		"old", tsString(oldTS), "new", tsString(newTS), "signals_purged", purged)
	return nil
}

func tsString(ts *time.Time) string {
	if ts == nil {
		return "none"
	}
	return ts.UTC().Format(time.RFC3339)
}
