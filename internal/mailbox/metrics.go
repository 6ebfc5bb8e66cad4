package mailbox

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcome label values.
const (
	outcomeDelivered     = "delivered"
	outcomeRejected      = "rejected"
	outcomeUndeliverable = "undeliverable"
)

var (
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_mailbox_deliveries_total",
			Help: "Total number of mailbox deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_mailbox_retries_total",
			Help: "Total number of mailbox delivery retries by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(deliveriesTotal)
	prometheus.MustRegister(retriesTotal)

	for _, o := range []string{outcomeDelivered, outcomeRejected, outcomeUndeliverable} {
		deliveriesTotal.WithLabelValues(o)
	}
	retriesTotal.WithLabelValues("integrity")
	retriesTotal.WithLabelValues("transport")
}
