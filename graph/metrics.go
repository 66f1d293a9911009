package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects pipeline execution metrics.
//
// Metrics exposed (all namespaced with "storygraph_"):
//
//  1. inflight_jobs (gauge): jobs currently executing a run or resume.
//  2. step_latency_ms (histogram): node execution duration, labels node_id, status.
//  3. chapter_retries_total (counter): draft retries triggered by the quality gate.
//  4. pauses_total (counter): pauses by decision_type.
//  5. jobs_finished_total (counter): invocations ending in a terminal status, label status.
//  6. safety_stops_total (counter): chapter loops ended by the iteration cap.
//  7. collaborator_retries_total (counter): retried collaborator calls, label reason.
//
// All methods are safe on a nil receiver so callers never need to guard
// optional metrics.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	engine, _ := New(reducer, store, emitter, WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightJobs prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	chapterRetries      prometheus.Counter
	pauses              *prometheus.CounterVec
	jobsFinished        *prometheus.CounterVec
	safetyStops         prometheus.Counter
	collaboratorRetries *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with the provided
// registry. A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "storygraph",
		Name:      "inflight_jobs",
		Help:      "Jobs currently executing a run or resume",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storygraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"node_id", "status"})

	pm.chapterRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "storygraph",
		Name:      "chapter_retries_total",
		Help:      "Chapter drafts sent back for another attempt by the quality gate",
	})

	pm.pauses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storygraph",
		Name:      "pauses_total",
		Help:      "Pauses for external decisions",
	}, []string{"decision_type"})

	pm.jobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storygraph",
		Name:      "jobs_finished_total",
		Help:      "Job invocations that reached a terminal status",
	}, []string{"status"})

	pm.safetyStops = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "storygraph",
		Name:      "safety_stops_total",
		Help:      "Chapter loops ended by the loop iteration cap",
	})

	pm.collaboratorRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storygraph",
		Name:      "collaborator_retries_total",
		Help:      "Retried calls to external collaborators",
	}, []string{"reason"})

	return pm
}

func (pm *PrometheusMetrics) active() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the execution duration of a node.
// status is "success" or "error".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementChapterRetries counts one quality-gate retry.
func (pm *PrometheusMetrics) IncrementChapterRetries() {
	if !pm.active() {
		return
	}
	pm.chapterRetries.Inc()
}

// IncrementPauses counts a pause for the given decision type.
func (pm *PrometheusMetrics) IncrementPauses(decisionType string) {
	if !pm.active() {
		return
	}
	pm.pauses.WithLabelValues(decisionType).Inc()
}

// IncrementJobsFinished counts an invocation ending in status.
func (pm *PrometheusMetrics) IncrementJobsFinished(status string) {
	if !pm.active() {
		return
	}
	pm.jobsFinished.WithLabelValues(status).Inc()
}

// IncrementSafetyStops counts a chapter loop ended by the iteration cap.
func (pm *PrometheusMetrics) IncrementSafetyStops() {
	if !pm.active() {
		return
	}
	pm.safetyStops.Inc()
}

// IncrementCollaboratorRetries counts a retried collaborator call.
func (pm *PrometheusMetrics) IncrementCollaboratorRetries(reason string) {
	if !pm.active() {
		return
	}
	pm.collaboratorRetries.WithLabelValues(reason).Inc()
}

// JobStarted increments the inflight gauge and returns the matching
// decrement.
func (pm *PrometheusMetrics) JobStarted() func() {
	if !pm.active() {
		return func() {}
	}
	pm.inflightJobs.Inc()
	return pm.inflightJobs.Dec
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

// Reset clears gauge values. Counters and histograms are cumulative and
// keep their observations.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightJobs.Set(0)
}
