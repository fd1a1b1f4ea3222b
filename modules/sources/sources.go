// Package sources maintains one connection pool per registered source
// database and executes loader queries against them. Sources are read from
// the signal store and can be reloaded at runtime without dropping in-flight
// queries.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/signalworks/sigflow/sigdb"
)

var (
	// ErrUnknownSource is returned when a loader references a db code that is
	// not (or no longer) registered.
	ErrUnknownSource = errors.New("unknown source database")

	// ErrSourceUnavailable wraps breaker rejections and connection failures.
	// Runs failing with it are transient and retried by auto recovery.
	ErrSourceUnavailable = errors.New("source database unavailable")
)

// SourceLister is the slice of the store the registry needs.
type SourceLister interface {
	List(ctx context.Context) ([]*sigdb.SourceDatabase, error)
}

// Runner executes one read query against a named source.
type Runner interface {
	RunQuery(ctx context.Context, dbCode, query string) (*QueryResult, error)
}

type pool struct {
	source  *sigdb.SourceDatabase
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Registry owns the source pools. It is a service: starting performs the
// initial load, running optionally reloads on a ticker.
type Registry struct {
	services.Service

	cfg    Config
	store  SourceLister
	logger log.Logger

	mtx   sync.RWMutex
	pools map[string]*pool

	onReload []func([]*sigdb.SourceDatabase)
}

var _ Runner = (*Registry)(nil)

func NewRegistry(cfg Config, store SourceLister, logger log.Logger) (*Registry, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid sources config: %w", err)
	}

	r := &Registry{
		cfg:    cfg,
		store:  store,
		logger: logger,
		pools:  map[string]*pool{},
	}
	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)
	return r, nil
}

// OnReload registers a callback invoked with the new source set after every
// successful reload. Must be called before the service starts.
func (r *Registry) OnReload(fn func([]*sigdb.SourceDatabase)) {
	r.onReload = append(r.onReload, fn)
}

func (r *Registry) starting(ctx context.Context) error {
	return r.ReloadAll(ctx)
}

func (r *Registry) running(ctx context.Context) error {
	if r.cfg.PollInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ReloadAll(ctx); err != nil {
				level.Error(r.logger).Log("msg", "reloading sources failed", "err", err)
			}
		}
	}
}

func (r *Registry) stopping(_ error) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, p := range r.pools {
		_ = p.db.Close()
	}
	r.pools = map[string]*pool{}
	return nil
}

// ReloadAll rebuilds the pool map from the current source records and swaps
// it in atomically. Pools of retired sources are closed; surviving sources
// keep their pool and its warm connections.
func (r *Registry) ReloadAll(ctx context.Context) error {
	srcs, err := r.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing source databases")
	}

	next := make(map[string]*pool, len(srcs))

	r.mtx.Lock()
	for _, src := range srcs {
		if old, ok := r.pools[src.Code]; ok && sameSource(old.source, src) {
			next[src.Code] = old
			continue
		}

		p, err := r.openPool(src)
		if err != nil {
			r.mtx.Unlock()
			return errors.Wrapf(err, "opening pool for source %s", src.Code)
		}
		next[src.Code] = p
	}

	var retired []*pool
	for code, p := range r.pools {
		if next[code] != p {
			retired = append(retired, p)
		}
	}
	r.pools = next
	r.mtx.Unlock()

	for _, p := range retired {
		_ = p.db.Close()
	}

	metricSourcesLoaded.Inc()
	metricSourcePools.Set(float64(len(next)))
	level.Info(r.logger).Log("msg", "sources loaded", "count", len(srcs), "retired", len(retired))

	for _, fn := range r.onReload {
		fn(srcs)
	}
	return nil
}

func sameSource(a, b *sigdb.SourceDatabase) bool {
	return a.Product == b.Product && a.Host == b.Host && a.Port == b.Port &&
		a.Database == b.Database && a.Username == b.Username && a.Password == b.Password
}

func (r *Registry) openPool(src *sigdb.SourceDatabase) (*pool, error) {
	driver, dsn, err := buildDSN(src)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(r.cfg.MaxOpenConns)
	db.SetMaxIdleConns(r.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)

	return r.newPool(src, db), nil
}

// newPool wraps an already opened handle. Split from openPool so tests can
// inject sqlmock-backed handles.
func (r *Registry) newPool(src *sigdb.SourceDatabase, db *sqlx.DB) *pool {
	p := &pool{source: src, db: db}

	if r.cfg.Breaker.Enabled {
		maxFailures := uint32(r.cfg.Breaker.MaxFailures)
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    src.Code,
			Timeout: r.cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metricBreakerState.WithLabelValues(name).Set(float64(to))
				level.Warn(r.logger).Log("msg", "source breaker state changed", "db_code", name, "from", from, "to", to)
			},
		})
	}

	if r.cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit), r.cfg.RateLimit)
	}
	return p
}

func buildDSN(src *sigdb.SourceDatabase) (driver, dsn string, err error) {
	switch src.Product {
	case sigdb.ProductMySQL:
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			src.Username, src.Password, src.Host, src.Port, src.Database), nil
	case sigdb.ProductPostgreSQL:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(src.Username, src.Password),
			Host:     fmt.Sprintf("%s:%d", src.Host, src.Port),
			Path:     "/" + src.Database,
			RawQuery: "sslmode=disable",
		}
		return "postgres", u.String(), nil
	default:
		return "", "", fmt.Errorf("unsupported source product %q", src.Product)
	}
}

func (r *Registry) pool(dbCode string) *pool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.pools[dbCode]
}

// Sources returns the descriptors of the currently registered sources.
func (r *Registry) Sources() []*sigdb.SourceDatabase {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]*sigdb.SourceDatabase, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p.source)
	}
	return out
}

// RunQuery executes one forward-only read against the named source and
// materializes the result. The query runs under the configured per-query
// timeout; the caller's context carries the outer execution deadline.
func (r *Registry) RunQuery(ctx context.Context, dbCode, query string) (*QueryResult, error) {
	p := r.pool(dbCode)
	if p == nil {
		return nil, errors.Wrap(ErrUnknownSource, dbCode)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var res *QueryResult
	run := func() (err error) {
		res, err = runQuery(ctx, p.db, query, r.cfg.QueryTimeout)
		return err
	}

	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(func() (any, error) { return nil, run() })
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errors.Wrapf(ErrSourceUnavailable, "%s: %s", dbCode, err)
		}
	} else {
		err = run()
	}

	status := "success"
	if err != nil {
		status = "failed"
	}
	metricQueryDuration.WithLabelValues(dbCode, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, errors.Wrapf(err, "querying source %s", dbCode)
	}
	return res, nil
}

func runQuery(ctx context.Context, db *sqlx.DB, query string, timeout time.Duration) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	res := &QueryResult{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.WithStack(err)
		}
		res.Rows = append(res.Rows, NewRow(cols, values))
	}
	return res, errors.WithStack(rows.Err())
}
