package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInflightExecutorsTracksDeltaPerRun(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.UpdateInflightExecutors("run-1", 1)
	c.UpdateInflightExecutors("run-1", 1)
	c.UpdateInflightExecutors("run-1", -1)

	if got := testutil.ToFloat64(c.inflight.WithLabelValues("run-1")); got != 1 {
		t.Fatalf("expected inflight gauge 1, got %v", got)
	}
}

func TestInflightExecutorsForgetsRunOnceIdle(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.UpdateInflightExecutors("run-1", 1)
	c.UpdateInflightExecutors("run-1", -1)

	c.mu.Lock()
	_, tracked := c.inflightCount["run-1"]
	c.mu.Unlock()
	if tracked {
		t.Fatalf("expected run-1 to be forgotten once idle")
	}
}

func TestRecordExecutorLatencyAndRetriesAndBackpressure(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.RecordExecutorLatency("run-1", "a", 5*time.Millisecond, "success")
	c.IncrementRetries("run-1", "a", "failure")
	c.IncrementBackpressure("run-1", "queue_full")
	c.UpdateQueueDepth("run-1", 3)

	if got := testutil.ToFloat64(c.retries.WithLabelValues("run-1", "a", "failure")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(c.backpress.WithLabelValues("run-1", "queue_full")); got != 1 {
		t.Fatalf("expected 1 backpressure event, got %v", got)
	}
	if got := testutil.ToFloat64(c.queueDep.WithLabelValues("run-1")); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
	if got := testutil.CollectAndCount(c.latency); got != 1 {
		t.Fatalf("expected 1 latency observation series, got %v", got)
	}
}
