package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/workflow-core/wfcontext"
)

// fakeCollector records every call scheduler.go makes against a
// metrics.Collector, so tests can assert the wiring fires without
// depending on the metrics package's Prometheus registry.
type fakeCollector struct {
	mu         sync.Mutex
	latencies  int
	retries    int
	queueDepth int
	inflight   int
	backpress  int
}

func (f *fakeCollector) RecordExecutorLatency(string, string, time.Duration, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies++
}

func (f *fakeCollector) IncrementRetries(string, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeCollector) UpdateQueueDepth(_ string, depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueDepth = depth
}

func (f *fakeCollector) UpdateInflightExecutors(_ string, delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight += delta
}

func (f *fakeCollector) IncrementBackpressure(string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backpress++
}

func TestSchedulerRecordsMetricsForLinearChain(t *testing.T) {
	wf := buildLinearWorkflow(t)
	fc := &fakeCollector{}
	s := New(wf, WithMetrics(fc))

	res, err := s.Run(context.Background(), "run-metrics", "start", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.latencies != 2 {
		t.Fatalf("expected a latency observation per executor invocation, got %d", fc.latencies)
	}
	if fc.inflight != 0 {
		t.Fatalf("expected inflight deltas to net to zero once the run completes, got %d", fc.inflight)
	}
	if fc.queueDepth == 0 {
		t.Fatalf("expected queue depth to be recorded at least once")
	}
}

func TestSchedulerRecordsBackpressureOnFullFrontier(t *testing.T) {
	wf := buildLinearWorkflow(t)
	fc := &fakeCollector{}
	s := New(wf, WithMetrics(fc), WithQueueDepth(1))

	rs := newRunState("run-backpressure", 1)
	seq := 0
	_ = s.deliverDirect(rs, "a", "b", wfcontext.Send{Payload: "x", DeclaredType: typeText}, &seq)
	err := s.deliverDirect(rs, "a", "b", wfcontext.Send{Payload: "y", DeclaredType: typeText}, &seq)
	if err == nil {
		t.Fatalf("expected the second delivery to exceed the queue depth of 1")
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.backpress != 1 {
		t.Fatalf("expected 1 backpressure event, got %d", fc.backpress)
	}
}
