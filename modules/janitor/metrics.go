package janitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigflow",
		Name:      "janitor_sweep_duration_seconds",
		Help:      "Duration of maintenance sweeps",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"sweep"})
	metricRowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "janitor_rows_deleted_total",
		Help:      "Rows removed by maintenance sweeps",
	}, []string{"sweep"})
	metricSweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "janitor_sweep_errors_total",
		Help:      "Maintenance sweeps that failed",
	}, []string{"sweep"})
)
