package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics counts order transitions and rejected transition attempts.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewLifecycleMetrics registers the order lifecycle counters on the provided registerer.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Applied order status transitions.",
	}, []string{"from", "to"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Order transitions refused because the order was not in the expected status.",
	}, []string{"operation"})
	reg.MustRegister(transitions, rejected)
	return &LifecycleMetrics{transitions: transitions, rejected: rejected}
}

// ObserveTransition records one applied transition.
func (m *LifecycleMetrics) ObserveTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// ObserveRejected records one refused transition.
func (m *LifecycleMetrics) ObserveRejected(operation string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(operation)).Inc()
}

// DependencyMetrics times calls to external collaborators (gateway, oracle, registry).
type DependencyMetrics struct {
	latency *prometheus.HistogramVec
}

// NewDependencyMetrics registers the dependency latency histogram.
func NewDependencyMetrics(reg prometheus.Registerer) *DependencyMetrics {
	if reg == nil {
		return &DependencyMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dependency_call_duration_seconds",
		Help:    "Duration of calls to external dependencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"dependency", "operation", "outcome"})
	reg.MustRegister(latency)
	return &DependencyMetrics{latency: latency}
}

// Observe records one call; outcome is "ok" or "error".
func (m *DependencyMetrics) Observe(dependency, operation string, err error, duration time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.latency.WithLabelValues(normalizeLabel(dependency), normalizeLabel(operation), outcome).Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
