package scheduler

import (
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/wfcontext"
)

// Result is what a completed (or cancelled) run produces.
type Result struct {
	RunID      string
	Yields     []interface{}
	Steps      int
	Cancelled  bool
}

// fanInAccumulator tracks which sources have delivered to a fan-in edge
// since it last fired.
type fanInAccumulator struct {
	delivered map[string]bool
	payloads  map[string]interface{}
}

// runState holds everything that exists for the lifetime of one run:
// instantiated executors, the state bag, the request gate, fan-in
// accumulators, and the mailbox new sends land in regardless of which
// superstep is currently being dispatched.
type runState struct {
	mu sync.Mutex

	runID    string
	bag      *wfcontext.StateBag
	baseSeed int64
	trace    trace.SpanContext

	instances map[string]executor.Executor
	initOnce  map[string]*sync.Once

	// executorLocks serializes deliveries to the same executor instance
	// across superstep boundaries: a handler parked in RequestExternal
	// still holds its executor's lock, so a later superstep cannot dispatch
	// a second concurrent delivery to the same (suspended) executor.
	executorLocks map[string]*sync.Mutex

	next *frontier // mailbox for the next superstep's deliveries

	fanIn map[string]*fanInAccumulator // keyed by edge identity

	yields []interface{}
	events []wfcontext.EventEmission

	outstandingRequests int

	cancelled bool
}

func newRunState(runID string, queueDepth int) *runState {
	return &runState{
		runID:     runID,
		bag:       wfcontext.NewStateBag(),
		baseSeed:  seedFromRunID(runID),
		instances:     make(map[string]executor.Executor),
		initOnce:      make(map[string]*sync.Once),
		executorLocks: make(map[string]*sync.Mutex),
		next:          newFrontier(queueDepth),
		fanIn:         make(map[string]*fanInAccumulator),
	}
}

// lockFor returns the serialization lock for executorID, creating it on
// first use.
func (rs *runState) lockFor(executorID string) *sync.Mutex {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	l, ok := rs.executorLocks[executorID]
	if !ok {
		l = &sync.Mutex{}
		rs.executorLocks[executorID] = l
	}
	return l
}

func (rs *runState) pushNext(item workItem) error {
	rs.mu.Lock()
	f := rs.next
	rs.mu.Unlock()
	return f.push(item)
}

func (rs *runState) swapFrontier(queueDepth int) *frontier {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	current := rs.next
	rs.next = newFrontier(queueDepth)
	return current
}

func (rs *runState) addYield(v interface{}) {
	rs.mu.Lock()
	rs.yields = append(rs.yields, v)
	rs.mu.Unlock()
}

func (rs *runState) addEvent(e wfcontext.EventEmission) {
	rs.mu.Lock()
	rs.events = append(rs.events, e)
	rs.mu.Unlock()
}

func (rs *runState) incOutstanding() {
	rs.mu.Lock()
	rs.outstandingRequests++
	rs.mu.Unlock()
}

func (rs *runState) decOutstanding() {
	rs.mu.Lock()
	rs.outstandingRequests--
	rs.mu.Unlock()
}

func (rs *runState) outstanding() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.outstandingRequests
}

func (rs *runState) isCancelled() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cancelled
}

func (rs *runState) cancel() {
	rs.mu.Lock()
	rs.cancelled = true
	rs.mu.Unlock()
}

func (rs *runState) fanInState(key string) *fanInAccumulator {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	acc, ok := rs.fanIn[key]
	if !ok {
		acc = &fanInAccumulator{delivered: make(map[string]bool), payloads: make(map[string]interface{})}
		rs.fanIn[key] = acc
	}
	return acc
}

// snapshotInstances returns a copy of the instantiated-executor map, for
// checkpointing.
func (rs *runState) snapshotInstances() map[string]executor.Executor {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]executor.Executor, len(rs.instances))
	for k, v := range rs.instances {
		out[k] = v
	}
	return out
}

