package backend

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const outcomeOK = "ok"

var (
	selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_backend_selections_total",
			Help: "Total number of times each backend was selected.",
		},
		[]string{"backend"},
	)

	pathExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_path_executions_total",
			Help: "Total number of execution path runs by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	pathDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hybridsched_path_duration_seconds",
			Help:    "Execution path run duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	dispatchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_dispatch_retries_total",
			Help: "Total number of backoff retries after a backend reported resource exhaustion.",
		},
		[]string{"backend"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hybridsched_breaker_state",
			Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open).",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(selectionsTotal)
	prometheus.MustRegister(pathExecutionsTotal)
	prometheus.MustRegister(pathDuration)
	prometheus.MustRegister(dispatchRetriesTotal)
	prometheus.MustRegister(breakerState)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, id := range Priority {
		selectionsTotal.WithLabelValues(string(id))
		pathExecutionsTotal.WithLabelValues(string(id), outcomeOK)
	}
}
