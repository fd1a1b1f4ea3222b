package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "executor_executions_total",
		Help:      "Completed loader executions by outcome",
	}, []string{"loader_code", "status"})
	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigflow",
		Name:      "executor_execution_duration_seconds",
		Help:      "Wall time of one loader execution",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	}, []string{"loader_code"})
	metricRecordsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "executor_records_loaded_total",
		Help:      "Rows returned by source queries",
	}, []string{"loader_code"})
	metricRecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "executor_records_ingested_total",
		Help:      "Signal rows written to the store",
	}, []string{"loader_code"})
	metricRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "executor_running_loaders",
		Help:      "Loader executions currently in flight on this replica",
	})
	metricZeroRecordRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "executor_consecutive_zero_record_runs",
		Help:      "Consecutive runs of a loader that returned no rows",
	}, []string{"loader_code"})
)
