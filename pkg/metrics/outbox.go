package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	DeliveryPublished = "published"
	DeliveryRetry     = "retry"
	DeliveryTerminal  = "terminal"
)

// OutboxMetrics tracks how the publisher settled each outbox row.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	publish    prometheus.Histogram
	lag        prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saf",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox rows settled by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		publish: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "saf",
			Subsystem: "outbox",
			Name:      "publish_duration_seconds",
			Help:      "Broker publish latency for a single row.",
			Buckets:   prometheus.DefBuckets,
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "saf",
			Subsystem: "outbox",
			Name:      "delivery_lag_seconds",
			Help:      "Time from commit to successful publish.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}
	reg.MustRegister(m.deliveries, m.publish, m.lag)
	return m
}

// ObserveDelivery records how one row was settled. lag is only recorded
// for published rows.
func (m *OutboxMetrics) ObserveDelivery(eventType, outcome string, took, lag time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
	if took > 0 {
		m.publish.Observe(took.Seconds())
	}
	if outcome == DeliveryPublished && lag > 0 {
		m.lag.Observe(lag.Seconds())
	}
}
