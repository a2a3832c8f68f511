// Package scheduler implements the superstep execution core: barrier
// synchronization between steps, fan-out/fan-in expansion through the edge
// graph, deterministic ordering, bounded concurrency, automatic retry, and
// termination detection (spec §4.5, §5).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/workflow-core/emit"
	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/gate"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/sharedpolicy"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
)

// PendingItem is the checkpointable shape of one queued delivery (spec
// §4.8 "pending deliveries: payload, declared TypeId, source, target").
type PendingItem struct {
	OrderKey     uint64
	TargetID     string
	SourceID     string
	DeclaredType typeid.ID
	Payload      interface{}
}

// ExecutorState is one instantiated executor's opaque snapshot, obtained
// from executor.CheckpointingExecutor.OnCheckpointing where implemented.
type ExecutorState struct {
	ExecutorID string
	State      []byte
}

// StepSnapshot is handed to an optional Checkpointer after every superstep
// that dispatched at least one delivery, giving it everything needed to
// reconstruct the run (spec §4.8).
type StepSnapshot struct {
	RunID           string
	Step            int
	System          map[string]interface{}
	Session         map[string]interface{}
	Local           map[string]map[string]interface{}
	Pending         []PendingItem
	OutstandingGate []string
	ExecutorStates  []ExecutorState
	TypeFingerprint []typeid.ID
}

// Checkpointer persists a StepSnapshot. The checkpoint package provides
// implementations backed by memory/sqlite/mysql stores.
type Checkpointer interface {
	Commit(ctx context.Context, snap StepSnapshot) error
}

// Scheduler drives a single Workflow across any number of runs. Apart from
// one request gate per run id (kept in gates), it holds no per-run state
// itself — each Run call owns an independent runState — so
// one Scheduler can safely drive many concurrent runs of the same
// Workflow, which is how concurrentShareable executors get reused.
type Scheduler struct {
	wf   *Workflow
	opts Options

	mu    sync.Mutex
	gates map[string]*gate.Gate
}

// New creates a Scheduler for wf.
func New(wf *Workflow, opts ...interface{}) *Scheduler {
	var o Options
	for _, raw := range opts {
		switch v := raw.(type) {
		case Options:
			o = v
		case Option:
			v(&o)
		}
	}
	if wf.registry != nil {
		wf.registry.Lock("scheduler.New")
	}
	return &Scheduler{
		wf:    wf,
		opts:  o.withDefaults(),
		gates: make(map[string]*gate.Gate),
	}
}

// gateFor returns (creating if necessary) the request gate for runID.
func (s *Scheduler) gateFor(runID string) *gate.Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[runID]
	if !ok {
		g = gate.New()
		s.gates[runID] = g
	}
	return g
}

// PendingRequestIDs lists the external request ids currently outstanding
// for runID — what an adapter driving a RequestInfo event sink polls or
// subscribes to in order to learn which request to eventually resolve.
func (s *Scheduler) PendingRequestIDs(runID string) []string {
	return s.gateFor(runID).PendingIDs()
}

// ResolveRequest delivers a response to a pending RequestExternal call in a
// live run, identified by the requestID RequestExternal's caller received.
func (s *Scheduler) ResolveRequest(runID, requestID string, value interface{}, err error) error {
	return s.gateFor(runID).Resolve(requestID, value, err)
}

// Run drives runID to completion: an initial delivery to the workflow's
// start executor, then supersteps until no deliveries remain, no requests
// are outstanding, and the frontier is empty (spec §4.5 termination).
func (s *Scheduler) Run(ctx context.Context, runID string, initialPayload interface{}, declared typeid.ID) (*Result, error) {
	rs := newRunState(runID, s.opts.QueueDepth)
	env := envelope.New(initialPayload, declared).WithSource("", 0)
	if err := rs.pushNext(workItem{OrderKey: ComputeOrderKey("__start__", 0), TargetID: s.wf.startID, Envelope: env}); err != nil {
		return nil, err
	}
	return s.drive(ctx, rs)
}

// drive runs the superstep loop for an already-seeded runState, shared by
// Run and checkpoint restoration (which seeds rs differently but reuses
// the same loop).
func (s *Scheduler) drive(ctx context.Context, rs *runState) (*Result, error) {
	step := 0
	for {
		if ctx.Err() != nil {
			rs.cancel()
			return &Result{RunID: rs.runID, Yields: rs.yields, Steps: step, Cancelled: true}, ctx.Err()
		}
		if s.opts.MaxSteps > 0 && step >= s.opts.MaxSteps {
			return nil, ErrMaxStepsExceeded
		}

		current := rs.swapFrontier(s.opts.QueueDepth)
		items := current.drain()

		if len(items) == 0 {
			if rs.outstanding() == 0 {
				break
			}
			// Outstanding requests remain but nothing is runnable this
			// instant; wait briefly for one to resolve or for its
			// continuation to enqueue new work, then re-check.
			if !s.waitForProgress(ctx, rs) {
				return &Result{RunID: rs.runID, Yields: rs.yields, Steps: step, Cancelled: true}, ctx.Err()
			}
			continue
		}

		step++
		if err := s.dispatchStep(ctx, rs, items, step); err != nil {
			return nil, err
		}
		if s.opts.Emitter != nil {
			s.opts.Emitter.Emit(emit.Event{RunID: rs.runID, Step: step, Kind: "superstep_complete",
				Meta: map[string]interface{}{"deliveries": len(items)}})
		}
		if s.opts.Checkpointer != nil {
			if err := s.commitCheckpoint(ctx, rs, step); err != nil {
				return nil, err
			}
		}
	}
	return &Result{RunID: rs.runID, Yields: rs.yields, Steps: step}, nil
}

func (s *Scheduler) commitCheckpoint(ctx context.Context, rs *runState, step int) error {
	system, session, local := rs.bag.Snapshot()

	queued := rs.next.snapshot()
	pending := make([]PendingItem, len(queued))
	fingerprint := map[typeid.ID]bool{}
	for i, item := range queued {
		pending[i] = PendingItem{
			OrderKey:     item.OrderKey,
			TargetID:     item.TargetID,
			SourceID:     item.Envelope.SourceExecutorID,
			DeclaredType: item.Envelope.DeclaredType,
			Payload:      item.Envelope.Payload,
		}
		fingerprint[item.Envelope.DeclaredType] = true
	}
	types := make([]typeid.ID, 0, len(fingerprint))
	for id := range fingerprint {
		types = append(types, id)
	}

	var states []ExecutorState
	for id, inst := range rs.snapshotInstances() {
		cp, ok := inst.(executor.CheckpointingExecutor)
		if !ok {
			continue
		}
		blob, err := cp.OnCheckpointing(ctx)
		if err != nil {
			return fmt.Errorf("scheduler: checkpointing executor %q: %w", id, err)
		}
		states = append(states, ExecutorState{ExecutorID: id, State: blob})
	}

	snap := StepSnapshot{
		RunID:           rs.runID,
		Step:            step,
		System:          system,
		Session:         session,
		Local:           local,
		Pending:         pending,
		OutstandingGate: s.gateFor(rs.runID).PendingIDs(),
		ExecutorStates:  states,
		TypeFingerprint: types,
	}
	return s.opts.Checkpointer.Commit(ctx, snap)
}

// waitForProgress blocks briefly for outstanding gate requests to resolve.
// It returns false if ctx is done first.
func (s *Scheduler) waitForProgress(ctx context.Context, rs *runState) bool {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if rs.next.len() > 0 || rs.outstanding() == 0 {
				return true
			}
		}
	}
}

// dispatchOutcome is produced once per dispatched item, either because the
// handler finished inline or because it parked on an external request.
type dispatchOutcome struct{}

// dispatchStep runs every item in one superstep concurrently (bounded by
// MaxConcurrentExecutors), serializing deliveries to the same executor, and
// returns once every item has either completed or declared itself parked
// on an external request (spec §4.6: suspend only the caller).
func (s *Scheduler) dispatchStep(ctx context.Context, rs *runState, items []workItem, step int) error {
	if s.opts.Metrics != nil {
		s.opts.Metrics.UpdateQueueDepth(rs.runID, len(items))
	}

	sem := make(chan struct{}, s.opts.MaxConcurrentExecutors)
	settled := make(chan dispatchOutcome, len(items))
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	seq := 0
	var seqMu sync.Mutex
	nextSeq := func() *int {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		v := seq
		return &v
	}

	for _, item := range items {
		item := item
		sem <- struct{}{}
		var releaseOnce sync.Once
		release := func() { releaseOnce.Do(func() { <-sem }) }
		go func() {
			defer release() // safety net if runOne returns without settling
			lock := rs.lockFor(item.TargetID)
			lock.Lock()
			defer lock.Unlock()

			if err := s.runOne(ctx, rs, item, step, settled, nextSeq(), release); err != nil {
				recordErr(err)
			}
		}()
	}

	for i := 0; i < len(items); i++ {
		<-settled
	}
	return firstErr
}

// runOne executes a single delivery against its target executor, wiring a
// wfcontext.Context whose RequestExternal suspends only this goroutine.
// settled receives exactly one signal for this item: either when the
// handler returns (whether it ever called RequestExternal or not) or, if
// it blocks inside RequestExternal, the moment it parks — whichever comes
// first. A parked item's eventual real completion runs in the background
// and merges its outbox into rs whenever it happens, without the step
// collector waiting on it.
func (s *Scheduler) runOne(ctx context.Context, rs *runState, item workItem, step int, settled chan<- dispatchOutcome, seq *int, release func()) error {
	var signalOnce sync.Once
	signal := func() {
		signalOnce.Do(func() {
			settled <- dispatchOutcome{}
			release()
		})
	}
	defer signal() // every exit path settles exactly once

	reg, ok := s.wf.registrations[item.TargetID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownExecutor, item.TargetID)
	}
	inst, err := s.instanceFor(ctx, rs, reg)
	if err != nil {
		return err
	}
	proto := inst.Protocol()
	if !proto.AcceptsType(item.Envelope.DeclaredType) {
		return nil
	}

	g := s.gateFor(rs.runID)
	requestFn := func(reqCtx context.Context, portID string, payload interface{}, declared typeid.ID) (interface{}, error) {
		reqID, respCh := g.Suspend()
		rs.incOutstanding()
		signal() // this handler is now parked; don't hold up the superstep
		s.emitEvent(rs, step, item.TargetID, "external_request", map[string]interface{}{"port": portID, "requestId": reqID, "payload": payload})
		select {
		case resp := <-respCh:
			rs.decOutstanding()
			return resp.Value, resp.Err
		case <-reqCtx.Done():
			g.Cancel(reqID)
			rs.decOutstanding()
			return nil, reqCtx.Err()
		}
	}

	var traceCtx trace.SpanContext
	wc := wfcontext.New(ctx, rs.runID, item.TargetID, step, traceCtx, rs.bag,
		func(payload interface{}, declared typeid.ID) error {
			if !proto.Yields[declared] {
				return fmt.Errorf("executor %q yielded undeclared type %q", item.TargetID, declared)
			}
			rs.addYield(payload)
			s.emitEvent(rs, step, item.TargetID, "workflow_output", map[string]interface{}{"type": string(declared)})
			return nil
		},
		requestFn,
		func() bool { return rs.isCancelled() },
	)

	s.emitEvent(rs, step, item.TargetID, "executor_invoked", map[string]interface{}{"type": string(item.Envelope.DeclaredType)})
	if s.opts.Metrics != nil {
		s.opts.Metrics.UpdateInflightExecutors(rs.runID, 1)
	}
	start := time.Now()
	result := s.invokeWithRetry(ctx, rs, inst, item, wc, step)
	if s.opts.Metrics != nil {
		s.opts.Metrics.UpdateInflightExecutors(rs.runID, -1)
		status := "success"
		if result.Kind == router.ResultFailure {
			status = "error"
		}
		s.opts.Metrics.RecordExecutorLatency(rs.runID, item.TargetID, time.Since(start), status)
	}
	if result.Kind != router.ResultFailure {
		s.emitEvent(rs, step, item.TargetID, "executor_completed", nil)
	}

	// Autosend/autoyield forward a handler's returned value along the
	// protocol's single declared send/yield type (spec §4.2). They only
	// fire when exactly one such type is declared — with more than one,
	// the handler must call SendMessage/YieldOutput explicitly to say which.
	if result.Kind == router.ResultSuccessValue && result.Value != nil {
		if proto.Autosend {
			if declared, ok := soleDeclaredType(proto.Sends); ok {
				wc.SendMessage(result.Value, "", declared)
			}
		}
		if proto.Autoyield {
			if declared, ok := soleDeclaredType(proto.Yields); ok {
				if err := wc.YieldOutput(result.Value, declared); err != nil {
					return err
				}
			}
		}
	}

	sends, _, events := wc.Outbox()
	for _, ev := range events {
		rs.addEvent(ev)
	}

	if result.Kind == router.ResultFailure {
		s.emitEvent(rs, step, item.TargetID, "executor_failed", map[string]interface{}{"error": result.Err})
	}

	for _, send := range sends {
		if err := s.expandSend(rs, item.TargetID, send, seq); err != nil {
			return err
		}
	}
	return nil
}

// soleDeclaredType returns the single type in a protocol's type set, or
// false if the set is empty or ambiguous (more than one member).
func soleDeclaredType(types map[typeid.ID]bool) (typeid.ID, bool) {
	if len(types) != 1 {
		return "", false
	}
	for id := range types {
		return id, true
	}
	return "", false
}

func (s *Scheduler) emitEvent(rs *runState, step int, executorID, kind string, meta map[string]interface{}) {
	if s.opts.Emitter == nil {
		return
	}
	s.opts.Emitter.Emit(emit.Event{RunID: rs.runID, Step: step, ExecutorID: executorID, Kind: kind, Meta: meta})
}

// invokeWithRetry calls the executor's handler, retrying per the
// scheduler's DefaultRetryPolicy on a retryable failure, and bounds each
// attempt by DefaultExecutorTimeout when it is set. Executors carry no
// retry policy or timeout of their own.
func (s *Scheduler) invokeWithRetry(ctx context.Context, rs *runState, inst executor.Executor, item workItem, wc *wfcontext.Context, step int) router.CallResult {
	policy := s.opts.DefaultRetryPolicy
	rng := newItemRNG(rs.baseSeed, item.OrderKey)

	var result router.CallResult
	attempt := 0
	for {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.opts.DefaultExecutorTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.opts.DefaultExecutorTimeout)
		}
		result = inst.Handle(callCtx, item.Envelope, wc)
		cancel()
		if result.Kind != router.ResultFailure || policy == nil {
			return result
		}
		if !policy.shouldRetry(attempt, result.Err) {
			return result
		}
		delay := computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, rng)
		s.emitEvent(rs, step, item.TargetID, "retry", map[string]interface{}{"attempt": attempt, "delay": delay.String()})
		if s.opts.Metrics != nil {
			s.opts.Metrics.IncrementRetries(rs.runID, item.TargetID, "failure")
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result
		}
		attempt++
	}
}

// instanceFor lazily instantiates and initializes the executor named by
// reg, reusing the same instance across deliveries within a run (and across
// runs, for concurrentShareable registrations).
func (s *Scheduler) instanceFor(ctx context.Context, rs *runState, reg *executor.Registration) (executor.Executor, error) {
	rs.mu.Lock()
	inst, ok := rs.instances[reg.ID]
	once, hasOnce := rs.initOnce[reg.ID]
	if !hasOnce {
		once = &sync.Once{}
		rs.initOnce[reg.ID] = once
	}
	rs.mu.Unlock()
	if ok {
		return inst, nil
	}

	var built executor.Executor
	var buildErr error
	switch reg.Kind {
	case executor.KindInstance:
		built = reg.RawValue
		// RawValue is the same Go object across every run that references
		// this registration; a run touching it for the first time must not
		// inherit whatever state a previous run left behind.
		if err := sharedpolicy.ResetForRun(ctx, reg, built, func(kind string, meta map[string]interface{}) {
			s.emitEvent(rs, 0, reg.ID, kind, meta)
		}); err != nil {
			return nil, fmt.Errorf("scheduler: reset executor %q: %w", reg.ID, err)
		}
	default:
		if reg.Factory == nil {
			return nil, fmt.Errorf("scheduler: executor %q has no factory bound", reg.ID)
		}
		built, buildErr = reg.Factory(rs.runID)
	}
	if buildErr != nil {
		return nil, buildErr
	}

	var initErr error
	once.Do(func() {
		initCtx := wfcontext.New(ctx, rs.runID, reg.ID, 0, trace.SpanContext{}, rs.bag, nil, nil, func() bool { return rs.isCancelled() })
		initErr = built.Initialize(ctx, initCtx)
	})
	if initErr != nil {
		return nil, initErr
	}

	rs.mu.Lock()
	rs.instances[reg.ID] = built
	rs.mu.Unlock()
	return built, nil
}
