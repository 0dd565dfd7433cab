package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ProvisionRuns     *prometheus.CounterVec
	ProvisionPolls    prometheus.Histogram
	WebhookEvents     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ProvisionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simgate_provision_runs_total",
			Help: "Provisioning orchestrations by outcome",
		}, []string{"outcome"}),
		ProvisionPolls: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "simgate_provision_poll_attempts",
			Help:    "Poll attempts needed before a profile carried an ICCID",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simgate_webhook_events_total",
			Help: "Vendor webhook deliveries by event type and result",
		}, []string{"event", "result"}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simgate_notifications_total",
			Help: "Notifications published by audience and result",
		}, []string{"audience", "result"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simgate_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveProvisionRun records one orchestration outcome.
func (m *Metrics) ObserveProvisionRun(outcome string) {
	m.ProvisionRuns.WithLabelValues(outcome).Inc()
}

// ObservePollAttempts records how many polls a successful run needed.
func (m *Metrics) ObservePollAttempts(attempts int) {
	m.ProvisionPolls.Observe(float64(attempts))
}

// ObserveWebhookEvent records one webhook delivery.
func (m *Metrics) ObserveWebhookEvent(event, result string) {
	m.WebhookEvents.WithLabelValues(event, result).Inc()
}

// ObserveNotification records one notification publish attempt.
func (m *Metrics) ObserveNotification(audience, result string) {
	m.NotificationsSent.WithLabelValues(audience, result).Inc()
}

// ObserveRequest records request latency for a route.
func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	m.RequestLatency.WithLabelValues(route).Observe(d.Seconds())
}
