package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics. Stage label: "internal", "external", "merge", "fallback".
var (
	RetrievalStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Duration of a retrieval stage in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	RetrievalStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_failures_total",
			Help:      "Retrieval stage failures absorbed as empty results",
		},
		[]string{"stage", "reason"},
	)

	RetrievalFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallbacks_total",
			Help:      "Fallback paths taken by the retrieval pipeline",
		},
		[]string{"kind"}, // "naive_merge" / "internal_only"
	)

	ExternalCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_cache_total",
			Help:      "Materialized external cache hits and misses",
		},
		[]string{"result"},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of results returned per search, by origin",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
		[]string{"origin"},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers retrieval metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(RetrievalStageDuration)
	prometheus.MustRegister(RetrievalStageFailuresTotal)
	prometheus.MustRegister(RetrievalFallbacksTotal)
	prometheus.MustRegister(ExternalCacheTotal)
	prometheus.MustRegister(RetrievalResults)
	retrievalMetricsRegistered = true
}
