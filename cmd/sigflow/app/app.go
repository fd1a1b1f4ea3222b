package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	cachemod "github.com/signalworks/sigflow/modules/cache"
	"github.com/signalworks/sigflow/modules/executor"
	"github.com/signalworks/sigflow/modules/janitor"
	"github.com/signalworks/sigflow/modules/loaders"
	"github.com/signalworks/sigflow/modules/scheduler"
	"github.com/signalworks/sigflow/modules/segments"
	"github.com/signalworks/sigflow/modules/sources"
	"github.com/signalworks/sigflow/modules/transformer"
	pkgcache "github.com/signalworks/sigflow/pkg/cache"
	"github.com/signalworks/sigflow/pkg/secrets"
	"github.com/signalworks/sigflow/pkg/util"
	"github.com/signalworks/sigflow/pkg/util/log"
	"github.com/signalworks/sigflow/pkg/window"
	"github.com/signalworks/sigflow/sigdb"
)

// App is the root datastructure: the store, every service built on it, and
// the ops HTTP server.
type App struct {
	cfg     Config
	replica string

	store     *sigdb.Store
	registry  *sources.Registry
	gate      *sources.Gate
	caches    pkgcache.Provider
	scheduler *scheduler.Scheduler
	janitor   *janitor.Janitor
	admin     *loaders.Admin
	server    *httpServer

	router     *mux.Router
	serviceMap map[string]services.Service
}

// New wires every module together. The store connection is established here;
// everything else starts in Run.
func New(cfg Config) (*App, error) {
	t := &App{
		cfg:     cfg,
		replica: util.ReplicaName(cfg.ReplicaName),
	}

	codec, err := secrets.NewCodecFromConfig(cfg.Store.EncryptionKey, cfg.Store.EncryptionKeyFile)
	if errors.Is(err, secrets.ErrNoKey) {
		codec = secrets.Disabled()
	} else if err != nil {
		return nil, errors.Wrap(err, "loading encryption key")
	}

	t.store, err = sigdb.New(context.Background(), cfg.Store, codec, prometheus.DefaultRegisterer, log.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to the signal store")
	}

	t.registry, err = sources.NewRegistry(cfg.Sources, t.store.Sources, log.Logger)
	if err != nil {
		return nil, err
	}
	t.gate = sources.NewGate(t.registry, cfg.Development, log.Logger)

	t.caches, err = cachemod.NewProvider(&cfg.Cache, prometheus.DefaultRegisterer, log.Logger)
	if err != nil {
		return nil, err
	}

	var shared pkgcache.Cache
	if cfg.Segments.UseSharedCache {
		shared = t.caches.CacheFor(pkgcache.RoleSegments)
	}
	interner, err := segments.New(cfg.Segments, t.store.Segments, shared, log.Logger)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(cfg.Executor, t.store, t.store.Signals, t.registry,
		transformer.New(interner, log.Logger),
		window.New(cfg.Scheduler.DefaultLookback, nil),
		t.replica, log.Logger)
	if err != nil {
		return nil, err
	}

	t.scheduler, err = scheduler.New(cfg.Scheduler, cfg.Locking.StaleLockThreshold,
		t.store.Loaders, t.store.Locks, exec, t.replica, log.Logger)
	if err != nil {
		return nil, err
	}
	// No dispatching until the sources are connected and verified read-only.
	t.scheduler.WaitFor(t.registry, t.gate)

	t.janitor, err = janitor.New(cfg.Janitor, cfg.Locking,
		t.store.Locks, t.store.Signals, t.store.History, log.Logger)
	if err != nil {
		return nil, err
	}

	t.admin = loaders.NewAdmin(t.store.Loaders, t.store, t.store.Locks, t.registry, log.Logger)

	t.router = mux.NewRouter()
	t.router.Path("/metrics").Handler(promhttp.Handler())
	t.router.Path("/config").HandlerFunc(t.configHandler)
	t.router.Path("/status/loaders").HandlerFunc(t.admin.StatusHandler)
	t.router.Path("/status/locks").HandlerFunc(t.admin.LocksHandler)
	t.router.Path("/status/sources").HandlerFunc(t.admin.SourcesHandler)
	t.server = newHTTPServer(cfg.httpListenAddr(), t.router, log.Logger)

	t.serviceMap = map[string]services.Service{
		"sources":   t.registry,
		"gate":      t.gate,
		"cache":     t.caches,
		"scheduler": t.scheduler,
		"janitor":   t.janitor,
		"server":    t.server,
	}

	return t, nil
}

// Run starts every service and blocks until a signal arrives or a service
// fails. The returned error is non-nil when any service failed, so main can
// exit non-zero.
func (t *App) Run() error {
	defer t.store.Close()

	servs := make([]services.Service, 0, len(t.serviceMap))
	for _, s := range t.serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to create service manager %w", err)
	}

	t.router.Path("/ready").Handler(t.readyHandler(sm))

	healthy := func() {
		level.Info(log.Logger).Log("msg", "sigflow started", "replica", t.replica)
	}
	stopped := func() { level.Info(log.Logger).Log("msg", "sigflow stopped") }
	serviceFailed := func(service services.Service) {
		// if any service fails, stop everything
		sm.StopAsync()

		for m, s := range t.serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "service failed", "service", m, "err", service.FailureCase())
				return
			}
		}
		level.Error(log.Logger).Log("msg", "service failed", "service", "unknown", "err", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	// If a signal arrives, stop the manager, which stops all the services.
	handler := signals.NewHandler(log.Logger)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	if err := sm.StartAsync(context.Background()); err != nil {
		return fmt.Errorf("failed to start service manager %w", err)
	}
	if err := sm.AwaitStopped(context.Background()); err != nil {
		return err
	}

	var failures error
	for m, s := range t.serviceMap {
		if cause := s.FailureCase(); cause != nil && !errors.Is(cause, context.Canceled) {
			failures = multierr.Append(failures, errors.Wrap(cause, m))
		}
	}
	return failures
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !sm.IsHealthy() {
			var notRunning []string
			for m, s := range t.serviceMap {
				if s.State() != services.Running {
					notRunning = append(notRunning, m)
				}
			}
			http.Error(w, fmt.Sprintf("some services are not Running: %v", notRunning), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

func (t *App) configHandler(w http.ResponseWriter, _ *http.Request) {
	// Keep key material out of the rendered config.
	cfg := t.cfg
	cfg.Store.EncryptionKey = ""

	out, err := yaml.Marshal(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
