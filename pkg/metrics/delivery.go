package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics records outbound queue activity.
type DeliveryMetrics struct {
	attempts    *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	depth       prometheus.Gauge
	deferred    prometheus.Counter
}

// NewDeliveryMetrics registers the delivery collectors on the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_attempts_total",
		Help: "Outbound delivery attempts by event name and outcome.",
	}, []string{"event", "outcome"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_dead_letters_total",
		Help: "Outbound events moved to the dead letter sink.",
	}, []string{"event", "reason"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_delivery_latency_seconds",
		Help:    "Duration of individual sink calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_delivery_queue_depth",
		Help: "Events currently held by the delivery queue.",
	})
	deferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_rate_limited_total",
		Help: "Scans deferred by the rate limiter.",
	})
	reg.MustRegister(attempts, deadLetters, latency, depth, deferred)
	return &DeliveryMetrics{
		attempts:    attempts,
		deadLetters: deadLetters,
		latency:     latency,
		depth:       depth,
		deferred:    deferred,
	}
}

// ObserveAttempt records one sink call.
func (m *DeliveryMetrics) ObserveAttempt(event, outcome string, elapsed time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	event = normalizeLabel(event)
	m.attempts.WithLabelValues(event, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(event).Observe(elapsed.Seconds())
}

// IncDeadLetter counts a dead-lettered event.
func (m *DeliveryMetrics) IncDeadLetter(event, reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(event), normalizeLabel(reason)).Inc()
}

// SetDepth publishes the current queue size.
func (m *DeliveryMetrics) SetDepth(n int) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.Set(float64(n))
}

// IncDeferred counts a scan stopped by the rate limiter.
func (m *DeliveryMetrics) IncDeferred() {
	if m == nil || m.deferred == nil {
		return
	}
	m.deferred.Inc()
}
