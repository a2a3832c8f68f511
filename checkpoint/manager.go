package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/workflow-core/scheduler"
)

// maxIDAttempts bounds the collision-retry loop for checkpoint id
// generation (spec §4.8: "the engine retries id generation on collision").
const maxIDAttempts = 5

// Manager implements scheduler.Checkpointer against a Store, tracking the
// checkpoint tree's current branch tip for one session so successive
// commits chain as parent → child (spec §4.8 "checkpoint tree").
type Manager struct {
	mu        sync.Mutex
	store     Store
	sessionID string
	parentID  string
}

// NewManager creates a Manager committing to store under sessionID. Pass
// a non-empty fromParentID to continue an existing branch (e.g. after
// Restore), or "" to start a new root.
func NewManager(store Store, sessionID, fromParentID string) *Manager {
	return &Manager{store: store, sessionID: sessionID, parentID: fromParentID}
}

// Commit turns a scheduler.StepSnapshot into a Checkpoint, computes its
// idempotency key, and persists it unless that key was already committed
// — recommitting the same step (a retry after a crash mid-commit) is a
// no-op rather than a duplicate write (spec §4.8's restoration-idempotent
// invariant, strengthened to cover the commit itself).
func (m *Manager) Commit(ctx context.Context, snap scheduler.StepSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]PendingDelivery, len(snap.Pending))
	for i, p := range snap.Pending {
		pending[i] = PendingDelivery{
			OrderKey:     p.OrderKey,
			TargetID:     p.TargetID,
			SourceID:     p.SourceID,
			DeclaredType: string(p.DeclaredType),
			Payload:      p.Payload,
		}
	}

	key, err := computeIdempotencyKey(snap.RunID, snap.Step, pending, snap.System, snap.Session, snap.Local)
	if err != nil {
		return fmt.Errorf("checkpoint: compute idempotency key: %w", err)
	}

	exists, err := m.store.CheckIdempotency(ctx, key)
	if err != nil {
		return fmt.Errorf("checkpoint: check idempotency: %w", err)
	}
	if exists {
		return nil
	}

	states := make([]ExecutorSnapshot, len(snap.ExecutorStates))
	for i, es := range snap.ExecutorStates {
		states[i] = ExecutorSnapshot{ExecutorID: es.ExecutorID, State: es.State}
	}
	fingerprint := make([]string, len(snap.TypeFingerprint))
	for i, t := range snap.TypeFingerprint {
		fingerprint[i] = string(t)
	}

	cp := Checkpoint{
		SessionID:           m.sessionID,
		ParentID:            m.parentID,
		RunID:               snap.RunID,
		Step:                snap.Step,
		Pending:             pending,
		OutstandingRequests: snap.OutstandingGate,
		ExecutorStates:      states,
		SystemState:         snap.System,
		SessionState:        snap.Session,
		LocalState:          snap.Local,
		TypeFingerprint:     fingerprint,
		IdempotencyKey:      key,
		Timestamp:           time.Now(),
	}

	var id string
	var createErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id = uuid.NewString()
		cp.ID = id
		blob, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("checkpoint: marshal: %w", err)
		}
		info := Info{ID: id, SessionID: m.sessionID, ParentID: m.parentID, Step: snap.Step, Timestamp: cp.Timestamp}
		createErr = m.store.CreateCheckpoint(ctx, info, blob)
		if createErr == nil || !errors.Is(createErr, ErrAlreadyExists) {
			break
		}
	}
	if createErr != nil {
		return fmt.Errorf("checkpoint: create: %w", createErr)
	}

	if err := m.store.MarkIdempotency(ctx, key); err != nil {
		return fmt.Errorf("checkpoint: mark idempotency: %w", err)
	}
	m.parentID = id
	return nil
}

// Latest returns the id of the most recently committed checkpoint on this
// Manager's branch, or "" if nothing has been committed yet.
func (m *Manager) Latest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parentID
}

// RestoredState is what Restore hands back: everything a caller (the
// runtime package's Resume operation) needs to rehydrate a run without
// Manager reaching into scheduler internals itself.
type RestoredState struct {
	Checkpoint Checkpoint
	Info       Info
}

// Restore loads and decodes the checkpoint identified by checkpointID
// within sessionID (spec §4.8 "restoration" steps 1 and 4 — decode and
// report the phase/step to resume at; steps 2-3, executor rehydration and
// request-correlation reinstallation, are the runtime package's job since
// they require live Executor instances and a gate.Gate).
func Restore(ctx context.Context, store Store, sessionID, checkpointID string) (*RestoredState, error) {
	blob, err := store.RetrieveCheckpoint(ctx, sessionID, checkpointID)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &RestoredState{
		Checkpoint: cp,
		Info: Info{
			ID:        cp.ID,
			SessionID: cp.SessionID,
			ParentID:  cp.ParentID,
			Step:      cp.Step,
			Timestamp: cp.Timestamp,
			Label:     cp.Label,
		},
	}, nil
}
