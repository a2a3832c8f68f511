package scheduler

import (
	"context"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/typeid"
)

// Session is a single run's scheduling state, driven one superstep at a
// time via StepOnce rather than to completion the way Run does. The
// subworkflow host uses this so the inner workflow's tick tracks the
// outer scheduler's step boundary exactly (spec §4.7: "drives the inner
// scheduler one step per outer step").
type Session struct {
	sched *Scheduler
	rs    *runState
	step  int
}

// Open creates a Session for runID against the workflow's start executor,
// without running any steps (spec §4.9 "open... no step has executed").
func (s *Scheduler) Open(runID string) *Session {
	return &Session{sched: s, rs: newRunState(runID, s.opts.QueueDepth)}
}

// Inject delivers payload to the workflow's start executor, picked up on
// the next StepOnce call — the subworkflow host's "on receiving an
// incoming message" entry point (spec §4.7).
func (sess *Session) Inject(payload interface{}, declared typeid.ID) error {
	env := envelope.New(payload, declared).WithSource("", 0)
	return sess.rs.pushNext(workItem{
		OrderKey: ComputeOrderKey("__start__", sess.step),
		TargetID: sess.sched.wf.startID,
		Envelope: env,
	})
}

// StepOnce drains whatever is currently queued and dispatches it as one
// superstep. progressed is false when nothing was queued — the session is
// quiescent for this tick, whether finished or merely waiting on an
// outstanding external request.
func (s *Scheduler) StepOnce(ctx context.Context, sess *Session) (progressed bool, err error) {
	current := sess.rs.swapFrontier(s.opts.QueueDepth)
	items := current.drain()
	if len(items) == 0 {
		return false, nil
	}
	sess.step++
	if err := s.dispatchStep(ctx, sess.rs, items, sess.step); err != nil {
		return false, err
	}
	if s.opts.Checkpointer != nil {
		if err := s.commitCheckpoint(ctx, sess.rs, sess.step); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Quiescent reports whether the session has nothing queued and nothing
// outstanding — the inner workflow has nothing left to do until more
// input arrives.
func (sess *Session) Quiescent() bool {
	return sess.rs.next.len() == 0 && sess.rs.outstanding() == 0
}

// WaitForProgress blocks until either new work lands in the session's
// frontier or nothing is outstanding to produce any, whichever comes
// first — the same short poll Run uses internally between supersteps
// while a handler is parked in RequestExternal. A caller driving a
// Session across multiple StepOnce calls (runtime.Run) uses this to
// avoid busy-looping StepOnce while a request is outstanding. Returns
// false if ctx is cancelled first.
func (s *Scheduler) WaitForProgress(ctx context.Context, sess *Session) bool {
	return s.waitForProgress(ctx, sess.rs)
}

// Yields returns every WorkflowOutputEvent payload produced so far.
func (sess *Session) Yields() []interface{} {
	sess.rs.mu.Lock()
	defer sess.rs.mu.Unlock()
	return append([]interface{}(nil), sess.rs.yields...)
}

// RunID returns the run id this session is driving.
func (sess *Session) RunID() string { return sess.rs.runID }

// Step returns the number of supersteps driven so far.
func (sess *Session) Step() int { return sess.step }

// Resume rebuilds a Session from a previously committed StepSnapshot:
// the state bag is restored wholesale, every pending delivery is
// re-queued for the next StepOnce, and every executor named in
// snap.ExecutorStates is eagerly instantiated and handed its saved state
// via executor.RestoredExecutor, since instantiation is normally lazy
// and nothing would otherwise trigger it before the executor is next
// dispatched (spec §4.8 "restoration is idempotent").
//
// snap.OutstandingGate is carried through for inspection but is not
// re-armed here: the goroutines that were parked in RequestExternal no
// longer exist after a restart, and re-entry belongs to whichever
// executor implements executor.ResumableExecutor — the scheduler does
// not yet drive that re-entry path automatically.
func (s *Scheduler) Resume(ctx context.Context, snap StepSnapshot) (*Session, error) {
	rs := newRunState(snap.RunID, s.opts.QueueDepth)
	rs.bag.Restore(snap.System, snap.Session, snap.Local)

	for _, p := range snap.Pending {
		env := envelope.New(p.Payload, p.DeclaredType).WithSource(p.SourceID, 0)
		if err := rs.pushNext(workItem{OrderKey: p.OrderKey, TargetID: p.TargetID, Envelope: env}); err != nil {
			return nil, err
		}
	}

	for _, es := range snap.ExecutorStates {
		reg, ok := s.wf.Registration(es.ExecutorID)
		if !ok {
			continue
		}
		inst, err := s.instanceFor(ctx, rs, reg)
		if err != nil {
			return nil, err
		}
		if restorable, ok := inst.(executor.RestoredExecutor); ok {
			if err := restorable.OnCheckpointRestored(ctx, es.State); err != nil {
				return nil, err
			}
		}
	}

	return &Session{sched: s, rs: rs, step: snap.Step}, nil
}
