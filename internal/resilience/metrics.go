package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_operation_attempts_total",
			Help: "Operation attempts by policy and outcome",
		},
		[]string{"operation", "outcome"},
	)

	mtxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_operation_retries_total",
			Help: "Retries scheduled by policy",
		},
		[]string{"operation"},
	)

	mtxBreakerOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_breaker_rejections_total",
			Help: "Calls rejected by an open circuit",
		},
		[]string{"operation"},
	)

	mtxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_operation_duration_seconds",
			Help:    "End-to-end operation duration including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(mtxAttempts, mtxRetries, mtxBreakerOpen, mtxDuration)
}
