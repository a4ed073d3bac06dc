package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// CronJobMetrics tracks scheduled job runs and the orders, payments or
// outbox rows each run touched.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "saf", Subsystem: "cron", Name: name, Help: help}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(opts("job_runs_total", "Cron job runs by outcome."), []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "saf",
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a single cron job run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		items: prometheus.NewCounterVec(opts("items_processed_total", "Items a cron job acted on by outcome."), []string{"job", "outcome"}),
	}
	reg.MustRegister(m.runs, m.duration, m.items)
	return m
}

// ObserveRun records one run of job. A nil err counts as ok.
func (m *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.runs.WithLabelValues(job, outcome).Inc()
}

// AddProcessed adds n to the item counter. Non-positive n is ignored so
// idle runs do not create empty series.
func (m *CronJobMetrics) AddProcessed(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(normalizeLabel(job), outcome).Add(float64(n))
}
