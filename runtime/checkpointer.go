package runtime

import (
	"context"
	"sync"

	"github.com/dshills/workflow-core/checkpoint"
	"github.com/dshills/workflow-core/scheduler"
)

// sessionRouter is the scheduler.Checkpointer a Runtime installs when a
// CheckpointStore is configured. One checkpoint.Manager exists per
// sessionID, not per run, so distinct resume attempts under the same
// session (the teacher's "re-run pathA/pathB from a checkpoint" idiom)
// chain off the same checkpoint tree even though their runIDs differ;
// here, where the Runtime treats sessionID and runID as the same string
// for a fresh Open, a StepSnapshot's RunID is used directly as the
// session key.
type sessionRouter struct {
	store checkpoint.Store

	mu       sync.Mutex
	managers map[string]*checkpoint.Manager
}

func newSessionRouter(store checkpoint.Store) *sessionRouter {
	return &sessionRouter{store: store, managers: make(map[string]*checkpoint.Manager)}
}

// Commit implements scheduler.Checkpointer.
func (sr *sessionRouter) Commit(ctx context.Context, snap scheduler.StepSnapshot) error {
	return sr.managerFor(snap.RunID).Commit(ctx, snap)
}

func (sr *sessionRouter) managerFor(sessionID string) *checkpoint.Manager {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	m, ok := sr.managers[sessionID]
	if !ok {
		m = checkpoint.NewManager(sr.store, sessionID, "")
		sr.managers[sessionID] = m
	}
	return m
}

// continueFrom replaces sessionID's manager with one whose parent branch
// starts at checkpointID, so the next Commit for that session chains off
// the checkpoint a Resume just restored from rather than starting a new
// root.
func (sr *sessionRouter) continueFrom(sessionID, checkpointID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.managers[sessionID] = checkpoint.NewManager(sr.store, sessionID, checkpointID)
}
