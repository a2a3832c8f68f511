package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/workflow-core/checkpoint"
	"github.com/dshills/workflow-core/emit"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/typeid"
)

// Runtime issues Runs against one Workflow. It owns the single
// scheduler.Scheduler and event hub every Run it opens shares.
type Runtime struct {
	wf     *scheduler.Workflow
	sched  *scheduler.Scheduler
	cfg    Config
	hub    *hub
	router *sessionRouter // nil unless a CheckpointStore is configured
}

// Open builds a Runtime for wf (spec §4.9 "open(workflow, sessionId?)").
// No step runs and nothing is instantiated until a Run is driven.
func Open(wf *scheduler.Workflow, opts ...Option) *Runtime {
	cfg := Config{}.withDefaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	h := newHub()

	var cp scheduler.Checkpointer
	var router *sessionRouter
	if cfg.CheckpointStore != nil {
		router = newSessionRouter(cfg.CheckpointStore)
		cp = router
	}

	return &Runtime{
		wf:     wf,
		sched:  scheduler.New(wf, cfg.schedulerOptions(h, cp)),
		cfg:    cfg,
		hub:    h,
		router: router,
	}
}

// Run drives sessionID to termination and returns the final result
// together with every event produced (spec §4.9 "run(workflow, input) →
// completed Run"). For a long-lived session that needs sendMessage or
// sendResponse mid-flight, use Stream or OpenRun instead.
func (rt *Runtime) Run(ctx context.Context, sessionID string, input interface{}, declared typeid.ID) (*scheduler.Result, []emit.Event, error) {
	res, err := rt.sched.Run(ctx, sessionID, input, declared)
	return res, rt.hub.history(sessionID), err
}

// Run is a long-lived handle onto one session: an initial injection plus
// zero or more later sendMessage/sendResponse calls, each driving the
// inner scheduler session by however many supersteps that input unlocks,
// until Cancel or the caller stops sending anything new.
type Run struct {
	rt      *Runtime
	sess    *scheduler.Session
	events  <-chan emit.Event
	ctx     context.Context
	cancel  context.CancelFunc
	inbox   chan inboxItem
	done    chan struct{}

	mu     sync.Mutex
	result *scheduler.Result
	err    error
}

type inboxItem struct {
	payload  interface{}
	declared typeid.ID
}

// OpenRun opens a Run against sessionID without driving any steps (spec
// §4.9 "open... no step has executed"). The caller delivers the first
// (and any later) input via SendMessage.
func (rt *Runtime) OpenRun(sessionID string) *Run {
	return rt.newRun(sessionID, rt.sched.Open(sessionID))
}

// Stream is OpenRun plus an immediate first SendMessage, the common case
// of starting a session with input in hand (spec §4.9
// "stream(workflow, input) → StreamingRun").
func (rt *Runtime) Stream(ctx context.Context, sessionID string, input interface{}, declared typeid.ID) (*Run, error) {
	r := rt.OpenRun(sessionID)
	if err := r.SendMessage(ctx, input, declared); err != nil {
		r.Cancel()
		return nil, err
	}
	return r, nil
}

// Resume restores sessionID from a previously committed checkpoint and
// returns a Run continuing it (spec §4.9 "resume(workflow, checkpoint) →
// Run"). Subsequent checkpoint commits for this session chain off the
// restored checkpoint rather than starting a new root.
func (rt *Runtime) Resume(ctx context.Context, sessionID, checkpointID string) (*Run, error) {
	if rt.router == nil {
		return nil, fmt.Errorf("runtime: resume requires a CheckpointStore")
	}
	restored, err := checkpoint.Restore(ctx, rt.router.store, sessionID, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("runtime: resume: %w", err)
	}
	snap := scheduler.StepSnapshot{
		RunID:   restored.Checkpoint.RunID,
		Step:    restored.Checkpoint.Step,
		System:  restored.Checkpoint.SystemState,
		Session: restored.Checkpoint.SessionState,
		Local:   restored.Checkpoint.LocalState,
	}
	for _, p := range restored.Checkpoint.Pending {
		snap.Pending = append(snap.Pending, scheduler.PendingItem{
			OrderKey:     p.OrderKey,
			TargetID:     p.TargetID,
			SourceID:     p.SourceID,
			DeclaredType: typeid.ID(p.DeclaredType),
			Payload:      p.Payload,
		})
	}
	for _, es := range restored.Checkpoint.ExecutorStates {
		snap.ExecutorStates = append(snap.ExecutorStates, scheduler.ExecutorState{ExecutorID: es.ExecutorID, State: es.State})
	}

	sess, err := rt.sched.Resume(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("runtime: resume: %w", err)
	}
	rt.router.continueFrom(sessionID, checkpointID)
	return rt.newRun(sessionID, sess), nil
}

func (rt *Runtime) newRun(sessionID string, sess *scheduler.Session) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		rt:     rt,
		sess:   sess,
		events: rt.hub.subscribe(sessionID, rt.cfg.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan inboxItem, rt.cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Run) loop() {
	defer close(r.done)
	defer r.rt.hub.unsubscribe(r.sess.RunID())
	for {
		select {
		case <-r.ctx.Done():
			return
		case item, ok := <-r.inbox:
			if !ok {
				return
			}
			if err := r.sess.Inject(item.payload, item.declared); err != nil {
				r.setErr(err)
				return
			}
		}
		if !r.drainSteps() {
			return
		}
	}
}

// drainSteps runs StepOnce until the session has nothing left to do this
// round: either the frontier is empty and nothing is outstanding, or the
// frontier is empty with a request outstanding, in which case it waits
// (the same short poll scheduler.Scheduler.Run uses internally) for that
// request to resolve and produce more work before trying again. Returns
// false if the context was cancelled or a step errored.
func (r *Run) drainSteps() bool {
	for {
		progressed, err := r.rt.sched.StepOnce(r.ctx, r.sess)
		if err != nil {
			r.setErr(err)
			return false
		}
		if progressed {
			continue
		}
		if r.sess.Quiescent() {
			return true
		}
		if !r.rt.sched.WaitForProgress(r.ctx, r.sess) {
			return false
		}
	}
}

func (r *Run) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// SendMessage injects payload as a step-0-equivalent input (spec §4.9).
// Legal at any point the Run is still accepting input — i.e. until
// Cancel or a prior error has ended its loop.
func (r *Run) SendMessage(ctx context.Context, payload interface{}, declared typeid.ID) error {
	select {
	case r.inbox <- inboxItem{payload: payload, declared: declared}:
		return nil
	case <-r.done:
		return fmt.Errorf("runtime: run %s has ended", r.sess.RunID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendResponse satisfies an outstanding external request (spec §4.9).
func (r *Run) SendResponse(requestID string, value interface{}, err error) error {
	return r.rt.sched.ResolveRequest(r.sess.RunID(), requestID, value, err)
}

// Cancel cooperatively cancels the run, propagating to every in-flight
// handler (spec §4.9).
func (r *Run) Cancel() { r.cancel() }

// Events returns the run's live event stream.
func (r *Run) Events() <-chan emit.Event { return r.events }

// RunID returns the session id this Run is driving.
func (r *Run) RunID() string { return r.sess.RunID() }

// Wait blocks until the run's loop exits (Cancel was called, or an input
// or step produced an error) and returns whatever state accumulated.
func (r *Run) Wait() (yields []interface{}, err error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Yields(), r.err
}

// CurrentCheckpoints lists every checkpoint recorded for sessionID (spec
// §6 "currentCheckpoints() → [CheckpointInfo]").
func (rt *Runtime) CurrentCheckpoints(ctx context.Context, sessionID string) ([]checkpoint.Info, error) {
	if rt.router == nil {
		return nil, fmt.Errorf("runtime: no CheckpointStore configured")
	}
	return rt.router.store.RetrieveIndex(ctx, sessionID, nil)
}

// RestoreCheckpoint is Resume addressed by a checkpoint.Info rather than
// a bare id (spec §6 "restoreCheckpoint(info)") — the pairing
// CurrentCheckpoints' return value is meant to be used with.
func (rt *Runtime) RestoreCheckpoint(ctx context.Context, info checkpoint.Info) (*Run, error) {
	return rt.Resume(ctx, info.SessionID, info.ID)
}
