package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	discrepancies prometheus.Counter
	alerts        *prometheus.CounterVec
	cleaned       prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDiscrepancies counts ledger discrepancies found by reconciliation.
func (m *Metrics) AddDiscrepancies(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.discrepancies.Add(float64(count))
}

// AddAlert counts a delivered stock alert by status.
func (m *Metrics) AddAlert(status string) {
	if m == nil || status == "" {
		return
	}
	m.alerts.WithLabelValues(status).Inc()
}

// AddCleaned counts idempotency keys removed by cleanup.
func (m *Metrics) AddCleaned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.cleaned.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	discrepancies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_ledger_discrepancies_total",
		Help: "Ledger discrepancies found by reconciliation runs.",
	})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_stock_alerts_total",
		Help: "Stock alerts handled by the worker, by threshold status.",
	}, []string{"status"})
	cleaned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_idempotency_keys_cleaned_total",
		Help: "Expired idempotency keys removed.",
	})
	registerer.MustRegister(runs, failures, duration, discrepancies, alerts, cleaned)
	return &Metrics{runs: runs, failures: failures, duration: duration, discrepancies: discrepancies, alerts: alerts, cleaned: cleaned}
}
