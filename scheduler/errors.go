package scheduler

import "errors"

// ErrMaxStepsExceeded indicates a run reached its step budget without
// terminating, guarding against an unbounded message-passing loop.
var ErrMaxStepsExceeded = errors.New("scheduler: execution exceeded maximum superstep limit")

// ErrFrontierFull indicates a superstep produced more deliveries than the
// configured queue depth allows.
var ErrFrontierFull = errors.New("scheduler: frontier queue at capacity")

// ErrNoProgress indicates a run has outstanding deliveries but none of the
// target executors accept any of them — a deadlocked graph.
var ErrNoProgress = errors.New("scheduler: no executor could accept any pending delivery")

// ErrUnknownExecutor indicates a send or direct delivery named an executor
// id that was never registered with the workflow.
var ErrUnknownExecutor = errors.New("scheduler: delivery addressed to unregistered executor")
