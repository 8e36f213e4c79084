// Package observability provides Prometheus metrics, health checks, and logging.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the delivery engine.
// Metrics are automatically registered via promauto.
//
// Key metrics for monitoring:
//   - deliveries_created_total: fan-out rate from published events
//   - deliveries_delivered_total: successful delivery rate
//   - deliveries_failed_total: terminal failures (alerts)
//   - attempt_duration_seconds: receiver latency distribution
//   - queue_waiting: backlog per queue
type Metrics struct {
	EventsPublished     prometheus.Counter
	DeliveriesCreated   prometheus.Counter
	DeliveriesDelivered prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveriesRetrying  prometheus.Counter
	DeliveriesExpired   prometheus.Counter
	AttemptsTotal       prometheus.Counter
	AttemptDuration     prometheus.Histogram
	RecordsPurged       prometheus.Counter

	QueueWaiting *prometheus.GaugeVec
	QueueDelayed *prometheus.GaugeVec
	QueueActive  *prometheus.GaugeVec
	JobDuration  *prometheus.HistogramVec
	JobFailures  *prometheus.CounterVec

	ThrottledDeliveries *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// The namespace prefixes all metric names (e.g., "hookrelay_deliveries_delivered_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events accepted for delivery fan-out",
		}),
		DeliveriesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Total number of delivery records created",
		}),
		DeliveriesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_delivered_total",
			Help:      "Total number of deliveries confirmed by the receiver",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of deliveries that reached terminal failure",
		}),
		DeliveriesRetrying: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_retrying_total",
			Help:      "Total number of delivery attempts scheduled for retry",
		}),
		DeliveriesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_expired_total",
			Help:      "Total number of stuck deliveries expired by the sweeper",
		}),
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of HTTP delivery attempts made",
		}),
		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of webhook delivery attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RecordsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_purged_total",
			Help:      "Total number of terminal delivery records removed by the sweeper",
		}),

		QueueWaiting: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting",
			Help:      "Jobs ready to be claimed per queue",
		}, []string{"queue"}),
		QueueDelayed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_delayed",
			Help:      "Jobs waiting for their activation time per queue",
		}, []string{"queue"}),
		QueueActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active",
			Help:      "Jobs currently held by workers per queue",
		}, []string{"queue"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of queue job executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		JobFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Total number of queue job runs that returned an error",
		}, []string{"queue"}),

		ThrottledDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_deliveries_total",
			Help:      "Deliveries deferred by rate limiting or an open circuit breaker",
		}, []string{"endpoint_id", "reason"}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
