package mitigation

import "github.com/prometheus/client_golang/prometheus"

var (
	errorRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hybridsched_hardware_error_rate",
			Help: "Mean of the most recent hardware error-rate samples.",
		},
	)

	samplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hybridsched_hardware_error_samples_total",
			Help: "Total number of hardware error-rate samples recorded.",
		},
	)

	mitigationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hybridsched_mitigations_total",
			Help: "Total number of circuits rewritten by error mitigation.",
		},
	)

	insertedOpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hybridsched_mitigation_inserted_ops_total",
			Help: "Total number of decoupling operations inserted by error mitigation.",
		},
	)
)

func init() {
	prometheus.MustRegister(errorRate)
	prometheus.MustRegister(samplesTotal)
	prometheus.MustRegister(mitigationsTotal)
	prometheus.MustRegister(insertedOpsTotal)
}
