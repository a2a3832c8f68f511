package sharedpolicy

import (
	"context"

	"github.com/dshills/workflow-core/executor"
)

// EventSink records the outcome of a reset decision as an event, kept
// decoupled from any concrete emitter the same way scheduler.Checkpointer
// is decoupled from a concrete checkpoint.Store.
type EventSink func(kind string, meta map[string]interface{})

// ResetForRun enforces the concurrentShareable/resettable interaction a
// new run's first touch of a KindInstance executor must honor (spec §9):
// a concurrentShareable instance is live under other runs right now, so
// calling Reset on it would corrupt their in-flight state — that case is
// a deliberate, logged no-op (a "reset_noop_shared" event) rather than a
// silent skip. A non-shared Resettable instance is reset so a sequential
// reuse of the same *Registration.RawValue never inherits the previous
// run's leftover state.
func ResetForRun(ctx context.Context, reg *executor.Registration, inst executor.Executor, sink EventSink) error {
	resettable, ok := inst.(executor.Resettable)
	if !ok {
		return nil
	}
	if reg.ConcurrentShareable {
		if sink != nil {
			sink("reset_noop_shared", map[string]interface{}{"executorId": reg.ID})
		}
		return nil
	}
	return resettable.Reset(ctx)
}
