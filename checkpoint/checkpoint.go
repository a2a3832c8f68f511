// Package checkpoint implements the durable snapshot engine: what gets
// captured after a superstep, how it is addressed within a session's
// checkpoint tree, and the idempotency guard that makes commits safe to
// retry (spec §4.8).
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested session or checkpoint id does
// not exist in a Store.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrIdempotencyViolation names a commit whose idempotency key was already
// committed. Manager.Commit does not return it: it treats such a commit as
// already durable and returns nil.
var ErrIdempotencyViolation = errors.New("checkpoint: idempotency key already committed")

// ErrAlreadyExists is returned by Store.CreateCheckpoint when checkpointID
// is already taken within sessionID.
var ErrAlreadyExists = errors.New("checkpoint: id already exists")

// PendingDelivery is the serializable shape of one queued work item,
// captured from a scheduler.StepSnapshot (spec §4.8 "pending deliveries:
// payload, declared TypeId, source, target").
type PendingDelivery struct {
	OrderKey     uint64      `json:"order_key"`
	TargetID     string      `json:"target_id"`
	SourceID     string      `json:"source_id,omitempty"`
	DeclaredType string      `json:"declared_type,omitempty"`
	Payload      interface{} `json:"payload"`
}

// ExecutorSnapshot is one instantiated executor's opaque serialized state,
// obtained via executor.CheckpointingExecutor.OnCheckpointing.
type ExecutorSnapshot struct {
	ExecutorID string `json:"executor_id"`
	State      []byte `json:"state"`
}

// Checkpoint is a durable snapshot of one run's scheduler, executor, and
// session state — the blob a Store persists and later returns intact
// (spec §4.8 "what is captured").
type Checkpoint struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	ParentID  string `json:"parent_id,omitempty"`
	RunID     string `json:"run_id"`
	Step      int    `json:"step"`

	Pending             []PendingDelivery `json:"pending"`
	OutstandingRequests []string          `json:"outstanding_requests"`

	ExecutorStates []ExecutorSnapshot `json:"executor_states,omitempty"`

	SystemState  map[string]interface{}            `json:"system_state"`
	SessionState map[string]interface{}            `json:"session_state"`
	LocalState   map[string]map[string]interface{} `json:"local_state"`

	// TypeFingerprint lists the TypeIds referenced by this checkpoint's
	// captured messages and states, so restoration can validate the
	// registry it is rehydrating against still knows every one of them.
	TypeFingerprint []string `json:"type_fingerprint,omitempty"`

	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
	Label          string    `json:"label,omitempty"`
}

// Info is the lightweight checkpoint pointer returned by Store.CreateCheckpoint
// and Store.RetrieveIndex — enough to address a checkpoint without paying
// for its full blob.
type Info struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label,omitempty"`
}

// computeIdempotencyKey hashes (runID, step, sorted pending deliveries,
// JSON-encoded state) into a stable digest, so that recommitting the same
// step after a crash or retry produces the same key every time — directly
// ported from the teacher's computeIdempotencyKey, generalized from a
// single reducer state to the three-scope state bag.
func computeIdempotencyKey(runID string, step int, pending []PendingDelivery, systemState, sessionState map[string]interface{}, localState map[string]map[string]interface{}) (string, error) {
	h := sha256.New()
	h.Write([]byte(runID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(step))
	h.Write(stepBytes)

	sorted := make([]PendingDelivery, len(pending))
	copy(sorted, pending)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderKey < sorted[j].OrderKey })
	for _, p := range sorted {
		h.Write([]byte(p.TargetID))
		h.Write([]byte(p.SourceID))
		h.Write([]byte(p.DeclaredType))
		keyBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(keyBytes, p.OrderKey)
		h.Write(keyBytes)
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return "", err
		}
		h.Write(payloadJSON)
	}

	stateJSON, err := json.Marshal(struct {
		System  map[string]interface{}            `json:"system"`
		Session map[string]interface{}            `json:"session"`
		Local   map[string]map[string]interface{} `json:"local"`
	}{systemState, sessionState, localState})
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
