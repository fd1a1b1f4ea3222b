package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "scheduler_ticks_total",
		Help:      "Dispatch ticks by outcome",
	}, []string{"status"})
	metricDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "scheduler_dispatched_total",
		Help:      "Loader executions handed to the worker pool",
	}, []string{"loader_code"})
	metricSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "scheduler_skipped_total",
		Help:      "Loaders skipped during a tick by reason",
	}, []string{"reason"})
	metricRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "scheduler_recovered_loaders_total",
		Help:      "Failed loaders returned to rotation by auto recovery",
	})
	metricWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "scheduler_busy_workers",
		Help:      "Worker slots currently executing a loader",
	})
	metricTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "scheduler_execution_timeouts_total",
		Help:      "Executions cancelled by the hard deadline",
	}, []string{"loader_code"})
	metricOverdue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigflow",
		Name:      "scheduler_overdue_loaders",
		Help:      "Loaders whose last successful run is older than their max interval",
	})
)
