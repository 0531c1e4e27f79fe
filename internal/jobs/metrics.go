package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for scheduled tasks, queued jobs and
// accrual outcomes.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	accruals  *prometheus.CounterVec
	reversals *prometheus.CounterVec
	disabled  *prometheus.CounterVec
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

// End finalises the tracker with a success or failure status and returns err
// untouched.
func (t *Tracker) End(err error) error {
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.finish(status)
	return err
}

// Skip finalises the tracker for a run that had nothing to do.
func (t *Tracker) Skip() {
	t.finish("skipped")
}

func (t *Tracker) finish(status string) {
	if t == nil || t.metrics == nil || t.job == "" {
		return
	}
	if status == "failure" {
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
}

// RecordAccrualRun counts one accrual rule execution by outcome
// (posted, failed, skipped).
func (m *Metrics) RecordAccrualRun(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.accruals.WithLabelValues(outcome).Inc()
}

// RecordAccrualReversal counts one auto-reversal attempt by outcome.
func (m *Metrics) RecordAccrualReversal(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.reversals.WithLabelValues(outcome).Inc()
}

// TaskDisabled counts a scheduled task switched off by the scheduler.
func (m *Metrics) TaskDisabled(code, reason string) {
	if m == nil {
		return
	}
	m.disabled.WithLabelValues(code, reason).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	accruals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_accrual_runs_total",
		Help: "Accrual rule executions grouped by outcome.",
	}, []string{"outcome"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_accrual_reversals_total",
		Help: "Accrual auto-reversals grouped by outcome.",
	}, []string{"outcome"})
	disabled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_scheduled_tasks_disabled_total",
		Help: "Scheduled tasks disabled by the scheduler.",
	}, []string{"task", "reason"})
	registerer.MustRegister(runs, failures, duration, accruals, reversals, disabled)
	return &Metrics{runs: runs, failures: failures, duration: duration, accruals: accruals, reversals: reversals, disabled: disabled}
}
