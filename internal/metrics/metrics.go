// Package metrics exposes Prometheus-compatible instrumentation for the
// queue, scheduler, lease manager and run runner.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a thread-safe collector for engine-level metrics, all
// namespaced "flowforge_".
//
// Gauges:
//   - queue_depth: queued items waiting to be claimed.
//   - active_runs: runs currently in the running state across all workers.
//   - active_leases: leases currently held by this process.
//
// Histograms:
//   - run_duration_ms: wall-clock duration of a run from claim to terminal,
//     labeled by flow_id and outcome (succeeded/failed/canceled).
//   - node_duration_ms: per-attempt node execution duration, labeled by
//     flow_id and node_kind.
//
// Counters:
//   - node_retries_total: retry attempts, labeled by flow_id, node_id, reason.
//   - lease_reclaims_total: expired leases reclaimed back to queued.
//   - trigger_fires_total: trigger fan-in events enqueued, labeled by kind.
type Metrics struct {
	queueDepth   prometheus.Gauge
	activeRuns   prometheus.Gauge
	activeLeases prometheus.Gauge

	runDuration  *prometheus.HistogramVec
	nodeDuration *prometheus.HistogramVec

	nodeRetries   *prometheus.CounterVec
	leaseReclaims prometheus.Counter
	triggerFires  *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New registers all metrics against registry. A nil registry uses
// prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowforge",
		Name:      "queue_depth",
		Help:      "Number of queue items currently in the queued status",
	})

	m.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowforge",
		Name:      "active_runs",
		Help:      "Number of runs currently in the running status on this process",
	})

	m.activeLeases = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowforge",
		Name:      "active_leases",
		Help:      "Number of leases currently held by this process",
	})

	m.runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowforge",
		Name:      "run_duration_ms",
		Help:      "Run wall-clock duration in milliseconds, from claim to terminal status",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
	}, []string{"flow_id", "outcome"})

	m.nodeDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowforge",
		Name:      "node_duration_ms",
		Help:      "Per-attempt node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"flow_id", "node_kind"})

	m.nodeRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "node_retries_total",
		Help:      "Cumulative node retry attempts",
	}, []string{"flow_id", "node_id", "reason"})

	m.leaseReclaims = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "lease_reclaims_total",
		Help:      "Expired leases reclaimed back to the queued status",
	})

	m.triggerFires = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "trigger_fires_total",
		Help:      "Trigger fan-in events that enqueued a run",
	}, []string{"kind"})

	return m
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops metric recording (useful for tests).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// SetQueueDepth records the current number of queued items.
func (m *Metrics) SetQueueDepth(depth int) {
	if !m.isEnabled() {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetActiveRuns records the current number of running runs on this process.
func (m *Metrics) SetActiveRuns(count int) {
	if !m.isEnabled() {
		return
	}
	m.activeRuns.Set(float64(count))
}

// SetActiveLeases records the current number of leases held by this process.
func (m *Metrics) SetActiveLeases(count int) {
	if !m.isEnabled() {
		return
	}
	m.activeLeases.Set(float64(count))
}

// RecordRunDuration records a terminal run's total duration and outcome.
func (m *Metrics) RecordRunDuration(flowID, outcome string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.runDuration.WithLabelValues(flowID, outcome).Observe(float64(d.Milliseconds()))
}

// RecordNodeDuration records one node attempt's execution duration.
func (m *Metrics) RecordNodeDuration(flowID, nodeKind string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.nodeDuration.WithLabelValues(flowID, nodeKind).Observe(float64(d.Milliseconds()))
}

// IncrementNodeRetries records a retry attempt for a node.
func (m *Metrics) IncrementNodeRetries(flowID, nodeID, reason string) {
	if !m.isEnabled() {
		return
	}
	m.nodeRetries.WithLabelValues(flowID, nodeID, reason).Inc()
}

// IncrementLeaseReclaims records one expired-lease reclamation.
func (m *Metrics) IncrementLeaseReclaims() {
	if !m.isEnabled() {
		return
	}
	m.leaseReclaims.Inc()
}

// IncrementTriggerFires records one trigger-driven enqueue.
func (m *Metrics) IncrementTriggerFires(kind string) {
	if !m.isEnabled() {
		return
	}
	m.triggerFires.WithLabelValues(kind).Inc()
}
