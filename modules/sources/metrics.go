package sources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSourcesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "sources_loaded_total",
		Help:      "Total number of source registry reloads",
	})
	metricSourcePools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "source_pools",
		Help:      "Number of source database pools currently open",
	})
	metricQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigflow",
		Name:      "source_query_duration_seconds",
		Help:      "Duration of source queries",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"db_code", "status"})
	metricBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "source_breaker_state",
		Help:      "Circuit breaker state per source. 0 closed, 1 half open, 2 open",
	}, []string{"db_code"})
	metricPermissionViolations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "source_permission_violations",
		Help:      "Number of write privileges detected on a source during the startup probe",
	}, []string{"db_code"})
)
