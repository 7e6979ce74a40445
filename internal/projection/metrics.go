package projection

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// QueueStats exposes the batch processor load
type QueueStats interface {
	QueueDepth() int
	InFlight() int
}

// Metrics holds the dispatch Prometheus metrics. It is fed by events and by
// the rate limiter's wait observations.
type Metrics struct {
	notifications   *prometheus.CounterVec
	batches         *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	rateLimitWait   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// NewMetrics registers the metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Notifications that reached a status, by channel",
			},
			[]string{"channel", "status"},
		),
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_batches_total",
				Help: "Batches that finished processing, by channel and final status",
			},
			[]string{"channel", "status"},
		),
		batchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_batch_size",
				Help:    "Number of notifications in finished batches",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"channel"},
		),
		rateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate limit slot",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"service"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RegisterQueue exposes processor load as gauges read at scrape time
func (m *Metrics) RegisterQueue(reg prometheus.Registerer, q QueueStats) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "batch_processor_queue_depth",
		Help: "Batches waiting for a worker",
	}, func() float64 { return float64(q.QueueDepth()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "batch_processor_in_flight",
		Help: "Batches queued or being processed",
	}, func() float64 { return float64(q.InFlight()) })
}

// Handle updates counters from dispatch events
func (m *Metrics) Handle(_ context.Context, event domain.Event) error {
	switch e := event.(type) {
	case domain.NotificationSentEvent:
		m.notifications.WithLabelValues(string(e.Channel), string(domain.StatusSent)).Inc()
	case domain.NotificationFailedEvent:
		m.notifications.WithLabelValues(string(e.Channel), string(domain.StatusFailed)).Inc()
	case domain.NotificationDeliveredEvent:
		m.notifications.WithLabelValues(string(e.Channel), string(domain.StatusDelivered)).Inc()
	case domain.BatchCompletedEvent:
		m.batches.WithLabelValues(string(e.Channel), string(e.Status)).Inc()
		m.batchSize.WithLabelValues(string(e.Channel)).Observe(float64(e.Total))
	}
	return nil
}

// ObserveRateLimitWait records how long a caller waited for the limiter
func (m *Metrics) ObserveRateLimitWait(service string, waited time.Duration) {
	m.rateLimitWait.WithLabelValues(service).Observe(waited.Seconds())
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpRequestTime.WithLabelValues(method, path).Observe(duration.Seconds())
}
