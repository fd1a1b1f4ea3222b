package segments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "segment_resolutions_total",
		Help:      "Segment tuple resolutions by the tier that answered them",
	}, []string{"tier"})
	metricAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "segment_allocations_total",
		Help:      "Newly allocated segment codes per loader",
	}, []string{"loader_code"})
	metricConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigflow",
		Name:      "segment_allocation_conflicts_total",
		Help:      "Allocation races lost to a sibling replica and retried",
	})
)
