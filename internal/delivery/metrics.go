package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveries counts finished cycles by outcome.
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Delivery cycles by outcome (delivered, skipped, retry, abandoned).",
		},
		[]string{"outcome"},
	)

	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_send_duration_seconds",
			Help:    "Duration of email send attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_pending",
			Help: "Sampled number of tasks in the issue delivery queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveries, sendDuration, queuePending)
}
