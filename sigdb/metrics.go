package sigdb

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sigflow",
	Subsystem: "sigdb",
	Name:      "request_duration_seconds",
	Help:      "Time spent on signal store operations.",
	Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
}, []string{"operation"})

func observe(operation string, start time.Time) {
	metricRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func registerPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	if reg == nil {
		return
	}

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Subsystem: "sigdb",
		Name:      "pool_total_conns",
		Help:      "Total connections in the store pool.",
	}, func() float64 { return float64(pool.Stat().TotalConns()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Subsystem: "sigdb",
		Name:      "pool_acquired_conns",
		Help:      "Connections currently checked out of the store pool.",
	}, func() float64 { return float64(pool.Stat().AcquiredConns()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Subsystem: "sigdb",
		Name:      "pool_idle_conns",
		Help:      "Idle connections in the store pool.",
	}, func() float64 { return float64(pool.Stat().IdleConns()) })
}
