package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records inbound notification handling.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook collectors on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_notifications_total",
		Help: "Inbound payment notifications by type and result.",
	}, []string{"type", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_webhook_duration_seconds",
		Help:    "Time spent handling inbound notifications.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	reg.MustRegister(received, duration)
	return &WebhookMetrics{received: received, duration: duration}
}

// Observe counts one notification outcome and its handling time.
func (m *WebhookMetrics) Observe(eventType, result string, elapsed time.Duration) {
	if m == nil || m.received == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.received.WithLabelValues(eventType, normalizeLabel(result)).Inc()
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
