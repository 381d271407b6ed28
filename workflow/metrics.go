package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics.
//
// Metrics exposed (all namespaced with "opsflow_"):
//
// 1. transitions_total (counter): engine operations by outcome.
// Labels: operation (seed, start_run, start_step, ...), outcome (ok or an
// error code such as CONFLICT).
//
// 2. transition_latency_ms (histogram): duration of an operation including
// its commit. Labels: operation.
//
// 3. conflicts_total (counter): optimistic concurrency rejections.
// Labels: entity (org_workflow, step_run).
//
// 4. runs_started_total (counter). Labels: workflow_type.
//
// 5. runs_finished_total (counter). Labels: workflow_type, status.
//
// 6. templates_seeded_total (counter). Labels: pack.
//
// 7. outbox_pending (gauge): events found pending by the last FlushOutbox.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewPrometheusMetrics(registry)
//	engine, _ := workflow.New(st, catalog, emitter, workflow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	transitions     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	conflicts       *prometheus.CounterVec
	runsStarted     *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	templatesSeeded *prometheus.CounterVec
	outboxPending   prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the engine metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Name:      "transitions_total",
			Help:      "Engine operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opsflow",
			Name:      "transition_latency_ms",
			Help:      "Engine operation duration in milliseconds including commit",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"operation"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Name:      "conflicts_total",
			Help:      "Optimistic concurrency conflicts by entity",
		}, []string{"entity"}),
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Name:      "runs_started_total",
			Help:      "Workflow runs instantiated",
		}, []string{"workflow_type"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Name:      "runs_finished_total",
			Help:      "Workflow runs that reached a terminal status",
		}, []string{"workflow_type", "status"}),
		templatesSeeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Name:      "templates_seeded_total",
			Help:      "Org workflows created from pack templates",
		}, []string{"pack"}),
		outboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsflow",
			Name:      "outbox_pending",
			Help:      "Outbox events found undelivered by the last flush",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordOperation counts one operation and observes its latency.
// outcome is "ok" or the engine error code.
func (pm *PrometheusMetrics) RecordOperation(operation, outcome string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.transitions.WithLabelValues(operation, outcome).Inc()
	pm.latency.WithLabelValues(operation).Observe(float64(latency.Milliseconds()))
}

// IncrementConflicts counts a version conflict on entity.
func (pm *PrometheusMetrics) IncrementConflicts(entity string) {
	if !pm.on() {
		return
	}
	pm.conflicts.WithLabelValues(entity).Inc()
}

// RunStarted counts a new run.
func (pm *PrometheusMetrics) RunStarted(workflowType WorkflowType) {
	if !pm.on() {
		return
	}
	pm.runsStarted.WithLabelValues(string(workflowType)).Inc()
}

// RunFinished counts a run reaching status.
func (pm *PrometheusMetrics) RunFinished(workflowType WorkflowType, status RunStatus) {
	if !pm.on() {
		return
	}
	pm.runsFinished.WithLabelValues(string(workflowType), string(status)).Inc()
}

// TemplatesSeeded adds n seeded workflows for pack.
func (pm *PrometheusMetrics) TemplatesSeeded(pack string, n int) {
	if !pm.on() || n == 0 {
		return
	}
	pm.templatesSeeded.WithLabelValues(pack).Add(float64(n))
}

// UpdateOutboxPending sets the outbox_pending gauge.
func (pm *PrometheusMetrics) UpdateOutboxPending(n int) {
	if !pm.on() {
		return
	}
	pm.outboxPending.Set(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
