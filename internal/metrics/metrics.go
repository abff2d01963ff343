package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReadingsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pat_readings_ingested_total",
			Help: "Total number of telemetry readings ingested.",
		},
		[]string{"kind", "source", "result"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pat_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts.",
		},
		[]string{"result"},
	)

	WebhookDeliveryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pat_webhook_delivery_duration_seconds",
			Help:    "Duration of outbound webhook calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pat_notifications_dropped_total",
			Help: "Total number of notifications dropped before delivery.",
		},
		[]string{"stage"},
	)

	StreamPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pat_stream_published_total",
			Help: "Total number of telemetry events handed to the stream.",
		},
		[]string{"result"},
	)
)

// Result labels shared by the counters above.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ReadingsIngestedTotal,
		WebhookDeliveriesTotal,
		WebhookDeliveryDurationSeconds,
		NotificationsDroppedTotal,
		StreamPublishedTotal,
	)
}
