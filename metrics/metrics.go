// Package metrics exposes Prometheus-compatible instrumentation for the
// scheduler's execution core: in-flight executors, queue depth, per-executor
// latency, retries, and backpressure — five of the teacher engine's
// observations, renamed from its node/graph vocabulary to this
// module's executor/workflow one.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the instrumentation seam scheduler.Options accepts, kept
// decoupled from a concrete Prometheus registry the same way
// scheduler.Checkpointer is decoupled from a concrete checkpoint.Store —
// a nil Collector (the zero value of the interface) means "no metrics,"
// checked at every call site before Collector is even referenced.
type Collector interface {
	RecordExecutorLatency(runID, executorID string, latency time.Duration, status string)
	IncrementRetries(runID, executorID, reason string)
	UpdateQueueDepth(runID string, depth int)
	UpdateInflightExecutors(runID string, delta int)
	IncrementBackpressure(runID, reason string)
}

// PrometheusCollector implements Collector against a prometheus.Registerer.
// Unlike the teacher's PrometheusMetrics, which tracks inflight/queue depth
// as two bare process-wide gauges, this version labels every metric by
// run_id: one Scheduler here serves many concurrent runs (the teacher's
// Engine drove one Run call to completion before starting the next), so a
// single unlabeled gauge would conflate unrelated runs' concurrency.
type PrometheusCollector struct {
	mu sync.Mutex

	inflight  *prometheus.GaugeVec
	queueDep  *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
	retries   *prometheus.CounterVec
	backpress *prometheus.CounterVec

	inflightCount map[string]int
}

// New creates and registers every metric with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a
// prometheus.NewRegistry() for test isolation.
func New(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusCollector{
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflowcore",
			Name:      "inflight_executors",
			Help:      "Current number of executors running concurrently for a run",
		}, []string{"run_id"}),
		queueDep: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflowcore",
			Name:      "queue_depth",
			Help:      "Number of deliveries queued for the next superstep",
		}, []string{"run_id"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflowcore",
			Name:      "executor_latency_ms",
			Help:      "Executor handler duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "executor_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflowcore",
			Name:      "retries_total",
			Help:      "Cumulative executor retry attempts",
		}, []string{"run_id", "executor_id", "reason"}),
		backpress: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflowcore",
			Name:      "backpressure_events_total",
			Help:      "Deliveries rejected or throttled due to a full frontier",
		}, []string{"run_id", "reason"}),
		inflightCount: make(map[string]int),
	}
}

// RecordExecutorLatency implements Collector.
func (c *PrometheusCollector) RecordExecutorLatency(runID, executorID string, latency time.Duration, status string) {
	c.latency.WithLabelValues(runID, executorID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries implements Collector.
func (c *PrometheusCollector) IncrementRetries(runID, executorID, reason string) {
	c.retries.WithLabelValues(runID, executorID, reason).Inc()
}

// UpdateQueueDepth implements Collector.
func (c *PrometheusCollector) UpdateQueueDepth(runID string, depth int) {
	c.queueDep.WithLabelValues(runID).Set(float64(depth))
}

// UpdateInflightExecutors implements Collector, tracking delta against the
// run's running count itself since GaugeVec has no Add-and-read; the
// vector is set to the resulting total rather than incremented blindly so
// concurrent callers never race it out of sync.
func (c *PrometheusCollector) UpdateInflightExecutors(runID string, delta int) {
	c.mu.Lock()
	c.inflightCount[runID] += delta
	n := c.inflightCount[runID]
	if n <= 0 {
		delete(c.inflightCount, runID)
	}
	c.inflight.WithLabelValues(runID).Set(float64(n))
	c.mu.Unlock()
}

// IncrementBackpressure implements Collector.
func (c *PrometheusCollector) IncrementBackpressure(runID, reason string) {
	c.backpress.WithLabelValues(runID, reason).Inc()
}
