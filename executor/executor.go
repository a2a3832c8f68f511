// Package executor defines the Executor contract, its protocol
// declaration, and the tagged-variant registration record the scheduler
// uses to instantiate executors lazily per run (spec §4.2, §9).
package executor

import (
	"context"
	"fmt"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
)

// Protocol is the tuple (accepts, sends, yields, acceptsAll) that
// describes an executor's interface (spec glossary).
type Protocol struct {
	Accepts    map[typeid.ID]bool
	Sends      map[typeid.ID]bool
	Yields     map[typeid.ID]bool
	AcceptsAll bool

	// Autosend/Autoyield forward a handler's non-nil returned value
	// automatically, per spec §4.2 and §9's "make this explicit" guidance.
	Autosend  bool
	Autoyield bool
}

// NewProtocol builds a Protocol from explicit type lists.
func NewProtocol(accepts, sends, yields []typeid.ID, acceptsAll bool) Protocol {
	p := Protocol{
		Accepts:    toSet(accepts),
		Sends:      toSet(sends),
		Yields:     toSet(yields),
		AcceptsAll: acceptsAll,
	}
	return p
}

func toSet(ids []typeid.ID) map[typeid.ID]bool {
	m := make(map[typeid.ID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// AcceptsType reports whether the protocol allows a message of the given
// declared type to reach the executor's handler table.
func (p Protocol) AcceptsType(id typeid.ID) bool {
	return p.AcceptsAll || p.Accepts[id]
}

// Executor is a named unit that consumes messages and produces sends,
// yields, and events (spec §4.2).
type Executor interface {
	ID() string
	Protocol() Protocol
	Initialize(ctx context.Context, wc *wfcontext.Context) error
	Handle(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult
}

// CheckpointingExecutor is implemented by executors with internal state
// that must survive a checkpoint.
type CheckpointingExecutor interface {
	OnCheckpointing(ctx context.Context) ([]byte, error)
}

// RestoredExecutor is implemented by executors that need to rehydrate
// internal state captured by OnCheckpointing.
type RestoredExecutor interface {
	OnCheckpointRestored(ctx context.Context, state []byte) error
}

// Resettable is implemented by executors that can be returned to their
// initial state for reuse across sequential runs.
type Resettable interface {
	Reset(ctx context.Context) error
}

// ResumableExecutor is implemented by executors that can resume a pending
// external request after a checkpoint restore, when the original
// suspended goroutine no longer exists (spec §4.6, §4.8). This is the Go
// idiom for the coroutine-resumption problem noted in spec §9: a
// "Pending(requestId)" style re-entry rather than a resumed call stack.
type ResumableExecutor interface {
	Resume(ctx context.Context, requestID string, response interface{}, wc *wfcontext.Context) router.CallResult
}

// Kind tags the variant of a Registration, replacing the inheritance tree
// a dynamically-typed implementation would use for registration records
// (spec §9).
type Kind int

const (
	// KindInstance wraps an already-constructed, run-independent Executor.
	KindInstance Kind = iota
	// KindLazyFactory constructs a fresh Executor per run on first need.
	KindLazyFactory
	// KindPlaceholder is an id-only registration bound later via Bind.
	KindPlaceholder
	// KindSubworkflowHost wraps an embedded child workflow.
	KindSubworkflowHost
	// KindAgentHost wraps an external agent/model adapter.
	KindAgentHost
	// KindPortHost wraps an external-request port handler.
	KindPortHost
)

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindLazyFactory:
		return "lazy-factory"
	case KindPlaceholder:
		return "placeholder"
	case KindSubworkflowHost:
		return "subworkflow-host"
	case KindAgentHost:
		return "agent-host"
	case KindPortHost:
		return "port-host"
	default:
		return "unknown"
	}
}

// Factory constructs an Executor bound to a specific run. It may be
// synchronous or perform blocking setup (e.g. dialing a client).
type Factory func(runID string) (Executor, error)

// Registration is the declarative record the WorkflowBuilder stores for
// each executor (spec §3 Executor registration).
type Registration struct {
	ID      string
	Kind    Kind
	Factory Factory

	// ConcurrentShareable executors are instantiated once per workflow and
	// reused across concurrent runs; they must be internally thread-safe.
	ConcurrentShareable bool
	// Resettable executors may be reused across sequential runs via Reset.
	Resettable bool

	// RawValue holds the already-constructed instance for KindInstance.
	RawValue Executor
}

// Bind fills in Factory on a KindPlaceholder registration, used when the
// concrete executor (e.g. a subworkflow) is only known after the rest of
// the graph is built.
func (r *Registration) Bind(factory Factory) error {
	if r.Kind != KindPlaceholder {
		return fmt.Errorf("executor: Bind is only valid for placeholder registrations, got %s", r.Kind)
	}
	r.Factory = factory
	r.Kind = KindLazyFactory
	return nil
}

// Func adapts a plain function into an Executor for simple cases (the
// executor-level analogue of router.Handler's function adapters).
type Func struct {
	IDValue   string
	Proto     Protocol
	InitFn    func(ctx context.Context, wc *wfcontext.Context) error
	HandleFn  func(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult
}

// ID implements Executor.
func (f *Func) ID() string { return f.IDValue }

// Protocol implements Executor.
func (f *Func) Protocol() Protocol { return f.Proto }

// Initialize implements Executor.
func (f *Func) Initialize(ctx context.Context, wc *wfcontext.Context) error {
	if f.InitFn == nil {
		return nil
	}
	return f.InitFn(ctx, wc)
}

// Handle implements Executor.
func (f *Func) Handle(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
	return f.HandleFn(ctx, env, wc)
}

// RoutedFunc builds a Func whose Handle delegates to a router.Router, the
// common case of "an executor is a handler table."
func RoutedFunc(id string, proto Protocol, rt *router.Router) *Func {
	return &Func{
		IDValue: id,
		Proto:   proto,
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			return rt.Dispatch(env, wc)
		},
	}
}
