package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepDurationMetric = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_sweep_duration_seconds",
			Help:    "aggregation sweep duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	recordsAggregatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_records_aggregated_total",
		Help: "The number of tracking records that reached an acceptance decision",
	}, []string{"kind", "accepted"})
	retriesDispatchedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_retries_dispatched_total",
		Help: "The number of best-of-three retry runs dispatched",
	}, []string{"job"})
	recordsPrunedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_records_pruned_total",
		Help: "The number of superseded nightly records deleted by the pruning sweep",
	})
)

func init() {
	prometheus.MustRegister(sweepDurationMetric)
	prometheus.MustRegister(recordsAggregatedCounter)
	prometheus.MustRegister(retriesDispatchedCounter)
	prometheus.MustRegister(recordsPrunedCounter)
}
