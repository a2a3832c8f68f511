// Package subworkflow hosts a whole workflow as a single executor inside
// an outer one (spec §4.7). The host ticks the inner scheduler exactly
// once per outer superstep by re-sending itself a tick message for as
// long as the inner run has work left — the outer scheduler's step
// boundary becomes the inner scheduler's tick, without the host ever
// blocking an outer step waiting for the inner workflow to finish.
package subworkflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/sharedpolicy"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
)

// tickType is the host's private message type for "advance the inner
// scheduler by one step." It is never registered in the shared type
// registry — the host only ever sends it to itself.
const tickType typeid.ID = "subworkflow.tick"

// MapFunc converts one inner WorkflowOutputEvent payload into what the
// host reports to the outer workflow: either an outer send (isYield
// false, targetID non-empty routes directly, empty routes through the
// host's own outgoing edges) or an outer yield (isYield true).
type MapFunc func(payload interface{}) (targetID string, declared typeid.ID, isYield bool)

// HostConfig configures a Host.
type HostConfig struct {
	// InputType is the TypeId the host declares it Accepts and forwards to
	// the inner workflow's start executor unchanged.
	InputType typeid.ID
	// MapOutput converts each inner yield as it is produced. A nil
	// MapOutput yields every inner output straight through under
	// InputType, the simplest pass-through host.
	MapOutput MapFunc
}

// Host wraps an inner *scheduler.Scheduler as an Executor in an outer
// workflow. One Host instance may drive many concurrent outer runs, each
// against its own inner scheduler.Session (spec §5: executors that are
// concurrentShareable are expected to manage their own per-run state).
type Host struct {
	id    string
	inner *scheduler.Scheduler
	cfg   HostConfig

	mu       sync.Mutex
	sessions map[string]*scheduler.Session // outer runID -> inner session
	seen     map[string]int                // outer runID -> yields already forwarded
}

// NewHost builds a Host for id, claiming token for inner. Returns
// sharedpolicy.ErrAlreadyOwned if inner is already hosted elsewhere.
func NewHost(id string, token *sharedpolicy.OwnershipToken, inner *scheduler.Scheduler, cfg HostConfig) (*Host, error) {
	if err := token.Own(); err != nil {
		return nil, err
	}
	return &Host{
		id:       id,
		inner:    inner,
		cfg:      cfg,
		sessions: make(map[string]*scheduler.Session),
		seen:     make(map[string]int),
	}, nil
}

// ID implements executor.Executor.
func (h *Host) ID() string { return h.id }

// Protocol implements executor.Executor. A Host accepts its own tick plus
// whatever input type it was configured with, and yields/sends whatever
// the inner workflow's output maps to — left unconstrained (AcceptsAll
// yields/sends) since MapOutput can declare any type per message.
func (h *Host) Protocol() executor.Protocol {
	return executor.Protocol{
		Accepts: map[typeid.ID]bool{h.cfg.InputType: true, tickType: true},
	}
}

// Initialize implements executor.Executor. Inner executors initialize
// lazily, per run, the same way the outer scheduler does for its own
// executors — there is nothing to do up front.
func (h *Host) Initialize(context.Context, *wfcontext.Context) error { return nil }

// Handle implements executor.Executor: on a fresh external message it
// opens (or reuses) the inner session and injects the payload; on a tick
// it advances the inner scheduler by exactly one superstep. Either way,
// if the inner run still has work left afterward, the host re-sends
// itself a tick so the next outer step continues it.
func (h *Host) Handle(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
	sess, isNew := h.sessionFor(wc.RunID())

	if env.DeclaredType != tickType {
		if err := sess.Inject(env.Payload, h.cfg.InputType); err != nil {
			return router.CallResult{Kind: router.ResultFailure, Err: err}
		}
	} else if isNew {
		// A tick arrived for a session this Host has never seen (e.g. after
		// a restart mid-run) with nothing injected — nothing to step.
		return router.CallResult{Kind: router.ResultSuccess}
	}

	progressed, err := h.inner.StepOnce(ctx, sess)
	if err != nil {
		return router.CallResult{Kind: router.ResultFailure, Err: fmt.Errorf("subworkflow: inner step: %w", err)}
	}
	h.forwardYields(sess, wc)

	if progressed && !sess.Quiescent() {
		wc.SendMessage(nil, h.id, tickType)
	}
	return router.CallResult{Kind: router.ResultSuccess}
}

// sessionFor returns the inner session for runID, creating it on first
// use. A Host may be ConcurrentShareable (spec §5) and driven by multiple
// runs at once, each against its own session, so map access is guarded.
func (h *Host) sessionFor(runID string) (sess *scheduler.Session, isNew bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[runID]
	if ok {
		return sess, false
	}
	sess = h.inner.Open(runID)
	h.sessions[runID] = sess
	return sess, true
}

func (h *Host) forwardYields(sess *scheduler.Session, wc *wfcontext.Context) {
	all := sess.Yields()

	h.mu.Lock()
	already := h.seen[sess.RunID()]
	h.mu.Unlock()
	if len(all) <= already {
		return
	}

	for _, payload := range all[already:] {
		if h.cfg.MapOutput == nil {
			_ = wc.YieldOutput(payload, h.cfg.InputType)
			continue
		}
		targetID, declared, isYield := h.cfg.MapOutput(payload)
		if isYield {
			_ = wc.YieldOutput(payload, declared)
		} else {
			wc.SendMessage(payload, targetID, declared)
		}
	}

	h.mu.Lock()
	h.seen[sess.RunID()] = len(all)
	h.mu.Unlock()
}

// hostState is the blob OnCheckpointing/OnCheckpointRestored exchange: the
// per-run tick counts and forwarded-yield counts needed to resume ticking
// correctly. The inner scheduler's own executor/session state is captured
// separately, by the same Checkpointer, the moment the inner scheduler
// commits its own checkpoints — a Host only needs to remember where it
// left off relative to that state (spec §4.7 "inner state serialized as
// part of the host executor's state").
type hostState struct {
	Steps map[string]int `json:"steps"`
	Seen  map[string]int `json:"seen"`
}

// OnCheckpointing implements executor.CheckpointingExecutor.
func (h *Host) OnCheckpointing(context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := hostState{Steps: make(map[string]int, len(h.sessions)), Seen: make(map[string]int, len(h.seen))}
	for runID, sess := range h.sessions {
		state.Steps[runID] = sess.Step()
	}
	for runID, n := range h.seen {
		state.Seen[runID] = n
	}
	return json.Marshal(state)
}

// OnCheckpointRestored implements executor.RestoredExecutor. Sessions
// themselves are recreated lazily by sessionFor; only the forwarded-yield
// counters need restoring so a resumed run doesn't re-yield output the
// outer workflow already saw.
func (h *Host) OnCheckpointRestored(_ context.Context, blob []byte) error {
	var state hostState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("subworkflow: restore host state: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = state.Seen
	if h.seen == nil {
		h.seen = make(map[string]int)
	}
	return nil
}
