// Package metrics exposes Prometheus instrumentation for backups, restores,
// duplicate cleanups and data-loss alerts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finance_backup"

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeSkipped  = "skipped"
	OutcomeDegraded = "degraded"
)

// Metrics holds every collector, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	backups        *prometheus.CounterVec
	backupDuration prometheus.Histogram
	restores       *prometheus.CounterVec
	restoredRows   prometheus.Counter
	cleanups       *prometheus.CounterVec
	duplicates     prometheus.Counter
	alerts         *prometheus.CounterVec
	lastCount      prometheus.Gauge
	integrity      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// Labels: outcome (success, failure, skipped, degraded)
		backups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup runs by outcome",
		}, []string{"outcome"}),

		backupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Time to fetch, check and store a snapshot",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		// Labels: policy (replace, merge, merge-newer), outcome
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "runs_total",
			Help:      "Restore runs by merge policy and outcome",
		}, []string{"policy", "outcome"}),

		restoredRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "transactions_total",
			Help:      "Transactions written by restores",
		}),

		cleanups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "cleanups_total",
			Help:      "Duplicate cleanup runs by outcome",
		}, []string{"outcome"}),

		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "removed_total",
			Help:      "Duplicate transactions removed",
		}),

		// Labels: severity (low, medium, high, critical)
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "alerts_total",
			Help:      "Data-loss alerts raised",
		}, []string{"severity"}),

		lastCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "transaction_count",
			Help:      "Transaction count seen by the last integrity check",
		}),

		// Labels: result (passed, failed)
		integrity: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "checks_total",
			Help:      "Integrity checks by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BackupCompleted records one backup attempt.
func (m *Metrics) BackupCompleted(outcome string, d time.Duration) {
	m.backups.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeDegraded {
		m.backupDuration.Observe(d.Seconds())
	}
}

// RestoreCompleted records one restore attempt and the rows it wrote.
func (m *Metrics) RestoreCompleted(policy, outcome string, restored int) {
	m.restores.WithLabelValues(policy, outcome).Inc()
	m.restoredRows.Add(float64(restored))
}

// CleanupCompleted records one duplicate cleanup run.
func (m *Metrics) CleanupCompleted(outcome string, removed int) {
	m.cleanups.WithLabelValues(outcome).Inc()
	m.duplicates.Add(float64(removed))
}

// IntegrityChecked records a check result and the count it saw.
func (m *Metrics) IntegrityChecked(passed bool, count int) {
	result := "passed"
	if !passed {
		result = "failed"
	}
	m.integrity.WithLabelValues(result).Inc()
	m.lastCount.Set(float64(count))
}

// AlertRaised records a data-loss alert.
func (m *Metrics) AlertRaised(severity string) {
	m.alerts.WithLabelValues(severity).Inc()
}
