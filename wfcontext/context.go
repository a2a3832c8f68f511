// Package wfcontext provides the WorkflowContext capability object passed
// to every handler invocation (spec §4.3).
package wfcontext

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/workflow-core/typeid"
)

// Scope names a partition of the state bag (spec §4.3 getState/setState).
type Scope string

const (
	// ScopeSystem is shared across all executors in a run.
	ScopeSystem Scope = "system"
	// ScopeExecutorLocal is private to the calling executor.
	ScopeExecutorLocal Scope = "executor-local"
	// ScopeSession is shared across runs within the same session.
	ScopeSession Scope = "session"
)

// Send is a pending outgoing message produced by SendMessage. The
// scheduler collects these into the step's outbox and either routes them
// through the edge graph (TargetID empty) or delivers them directly.
type Send struct {
	Payload      interface{}
	TargetID     string
	DeclaredType typeid.ID
}

// EventEmission is a domain event produced by AddEvent.
type EventEmission struct {
	Kind string
	Data map[string]interface{}
}

// RequestFunc performs the external-request suspend/resume dance for a
// single handler invocation. The scheduler supplies a closure bound to
// the current delivery's correlation state; wfcontext itself knows
// nothing about request ids or the gate.
type RequestFunc func(ctx context.Context, portID string, payload interface{}, declared typeid.ID) (interface{}, error)

// StateBag is the scoped key/value store backing GetState/SetState. A
// single StateBag instance is shared by all executors within one run, and
// partitions ScopeExecutorLocal by the calling executor's id.
type StateBag struct {
	mu     sync.RWMutex
	system map[string]interface{}
	local  map[string]map[string]interface{}
	sess   map[string]interface{}
}

// NewStateBag creates an empty, ready-to-use StateBag.
func NewStateBag() *StateBag {
	return &StateBag{
		system: make(map[string]interface{}),
		local:  make(map[string]map[string]interface{}),
		sess:   make(map[string]interface{}),
	}
}

// Get retrieves a value from scope, partitioning ScopeExecutorLocal by
// executorID.
func (b *StateBag) Get(scope Scope, executorID, key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch scope {
	case ScopeSystem:
		v, ok := b.system[key]
		return v, ok
	case ScopeSession:
		v, ok := b.sess[key]
		return v, ok
	case ScopeExecutorLocal:
		m, ok := b.local[executorID]
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		return v, ok
	default:
		return nil, false
	}
}

// Set stores a value in scope.
func (b *StateBag) Set(scope Scope, executorID, key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch scope {
	case ScopeSystem:
		b.system[key] = value
	case ScopeSession:
		b.sess[key] = value
	case ScopeExecutorLocal:
		m, ok := b.local[executorID]
		if !ok {
			m = make(map[string]interface{})
			b.local[executorID] = m
		}
		m[key] = value
	}
}

// Snapshot returns a shallow copy of all three partitions, for checkpointing.
func (b *StateBag) Snapshot() (system, session map[string]interface{}, local map[string]map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	system = cloneFlat(b.system)
	session = cloneFlat(b.sess)
	local = make(map[string]map[string]interface{}, len(b.local))
	for k, v := range b.local {
		local[k] = cloneFlat(v)
	}
	return
}

// Restore replaces the bag's contents wholesale, used when rehydrating
// from a checkpoint.
func (b *StateBag) Restore(system, session map[string]interface{}, local map[string]map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.system = cloneFlat(system)
	b.sess = cloneFlat(session)
	b.local = make(map[string]map[string]interface{}, len(local))
	for k, v := range local {
		b.local[k] = cloneFlat(v)
	}
}

func cloneFlat(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Context is the capability object passed to every handler invocation.
type Context struct {
	ctx        context.Context
	runID      string
	executorID string
	step       int
	trace      trace.SpanContext
	stateBag   *StateBag

	onSend    func(Send)
	onYield   func(payload interface{}, declared typeid.ID) error
	onEvent   func(EventEmission)
	requestFn RequestFunc
	cancelled func() bool

	mu      sync.Mutex
	sends   []Send
	yields  []interface{}
	events  []EventEmission
}

// New constructs a Context for one handler invocation. The scheduler
// supplies the capability closures; handler code never constructs one
// directly.
func New(ctx context.Context, runID, executorID string, step int, trace trace.SpanContext, bag *StateBag,
	onYield func(payload interface{}, declared typeid.ID) error,
	requestFn RequestFunc,
	cancelled func() bool,
) *Context {
	c := &Context{
		ctx:        ctx,
		runID:      runID,
		executorID: executorID,
		step:       step,
		trace:      trace,
		stateBag:   bag,
		onYield:    onYield,
		requestFn:  requestFn,
		cancelled:  cancelled,
	}
	c.onSend = func(s Send) {
		c.mu.Lock()
		c.sends = append(c.sends, s)
		c.mu.Unlock()
	}
	c.onEvent = func(e EventEmission) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
	return c
}

// SendMessage enqueues a delivery for the next superstep (spec §4.3). An
// empty targetID routes the message through the calling executor's
// outgoing edges; a non-empty targetID delivers directly.
func (c *Context) SendMessage(payload interface{}, targetID string, declared typeid.ID) {
	c.onSend(Send{Payload: payload, TargetID: targetID, DeclaredType: declared})
}

// YieldOutput emits a WorkflowOutputEvent. The scheduler validates the
// declared type against the executor's protocol before accepting it.
func (c *Context) YieldOutput(payload interface{}, declared typeid.ID) error {
	if c.onYield == nil {
		return fmt.Errorf("wfcontext: no yield sink configured")
	}
	err := c.onYield(payload, declared)
	if err == nil {
		c.mu.Lock()
		c.yields = append(c.yields, payload)
		c.mu.Unlock()
	}
	return err
}

// AddEvent emits a domain event (invoked, completed, failed, or custom).
func (c *Context) AddEvent(kind string, data map[string]interface{}) {
	c.onEvent(EventEmission{Kind: kind, Data: data})
}

// GetState reads from the scoped state bag.
func (c *Context) GetState(scope Scope, key string) (interface{}, bool) {
	return c.stateBag.Get(scope, c.executorID, key)
}

// SetState writes to the scoped state bag.
func (c *Context) SetState(scope Scope, key string, value interface{}) {
	c.stateBag.Set(scope, c.executorID, key, value)
}

// RequestExternal opens a request port and suspends the calling handler
// until a matching response arrives (spec §4.6). Suspension is cooperative:
// only this handler invocation blocks, not the rest of the superstep.
func (c *Context) RequestExternal(portID string, payload interface{}, declared typeid.ID) (interface{}, error) {
	if c.requestFn == nil {
		return nil, fmt.Errorf("wfcontext: no request gate configured for executor %s", c.executorID)
	}
	return c.requestFn(c.ctx, portID, payload, declared)
}

// TraceContext returns the opaque parent span for telemetry.
func (c *Context) TraceContext() trace.SpanContext { return c.trace }

// Cancelled reports whether the run has been cooperatively cancelled.
// Handlers performing long-running work should check this periodically.
func (c *Context) Cancelled() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}

// Context returns the underlying standard context, e.g. for plumbing into
// an external client call made from a handler.
func (c *Context) Context() context.Context { return c.ctx }

// RunID returns the run this invocation belongs to.
func (c *Context) RunID() string { return c.runID }

// ExecutorID returns the id of the executor this invocation is running.
func (c *Context) ExecutorID() string { return c.executorID }

// Step returns the superstep number this invocation is running in.
func (c *Context) Step() int { return c.step }

// Outbox returns everything the handler produced: sends, yields, and
// events. Called by the scheduler after the handler returns.
func (c *Context) Outbox() (sends []Send, yields []interface{}, events []EventEmission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Send(nil), c.sends...), append([]interface{}(nil), c.yields...), append([]EventEmission(nil), c.events...)
}
