package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetentionMetrics records retention job runs and how many rows they removed.
type RetentionMetrics struct {
	runs    *prometheus.CounterVec
	removed *prometheus.CounterVec
	elapsed *prometheus.HistogramVec
}

// NewRetentionMetrics registers the retention collectors on the provided registerer.
func NewRetentionMetrics(reg prometheus.Registerer) *RetentionMetrics {
	if reg == nil {
		return &RetentionMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_retention_runs_total",
		Help: "Retention job executions by result.",
	}, []string{"job", "result"})
	removed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_retention_rows_deleted_total",
		Help: "Rows removed by retention jobs.",
	}, []string{"job"})
	elapsed := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_retention_duration_seconds",
		Help:    "Duration of retention jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	reg.MustRegister(runs, removed, elapsed)
	return &RetentionMetrics{runs: runs, removed: removed, elapsed: elapsed}
}

// ObserveRun records one job execution.
func (m *RetentionMetrics) ObserveRun(job string, err error, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, result).Inc()
	m.elapsed.WithLabelValues(job).Observe(duration.Seconds())
}

// AddDeleted counts rows removed by a job.
func (m *RetentionMetrics) AddDeleted(job string, rows int64) {
	if m == nil || m.removed == nil || rows <= 0 {
		return
	}
	m.removed.WithLabelValues(normalizeLabel(job)).Add(float64(rows))
}
