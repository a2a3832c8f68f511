// Package memstore is an in-memory checkpoint.Store for testing,
// development, and short-lived runs — grounded on the teacher's MemStore
// (graph/store/memory.go), narrowed to the checkpoint-blob shape.
package memstore

import (
	"context"
	"sync"

	"github.com/dshills/workflow-core/checkpoint"
)

type record struct {
	info checkpoint.Info
	blob []byte
}

// Store is a thread-safe, process-local checkpoint.Store backed by maps.
// Data does not survive process exit.
type Store struct {
	mu             sync.RWMutex
	checkpoints    map[string]map[string]record // sessionID -> checkpointID -> record
	idempotencyMap map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		checkpoints:    make(map[string]map[string]record),
		idempotencyMap: make(map[string]bool),
	}
}

// CreateCheckpoint implements checkpoint.Store.
func (s *Store) CreateCheckpoint(_ context.Context, info checkpoint.Info, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.checkpoints[info.SessionID]
	if !ok {
		session = make(map[string]record)
		s.checkpoints[info.SessionID] = session
	}
	if _, exists := session[info.ID]; exists {
		return checkpoint.ErrAlreadyExists
	}

	session[info.ID] = record{
		info: info,
		blob: append([]byte(nil), value...),
	}
	return nil
}

// RetrieveCheckpoint implements checkpoint.Store.
func (s *Store) RetrieveCheckpoint(_ context.Context, sessionID, checkpointID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	rec, ok := session[checkpointID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return append([]byte(nil), rec.blob...), nil
}

// RetrieveIndex implements checkpoint.Store.
func (s *Store) RetrieveIndex(_ context.Context, sessionID string, parentID *string) ([]checkpoint.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]checkpoint.Info, 0, len(session))
	for _, rec := range session {
		if parentID != nil && rec.info.ParentID != *parentID {
			continue
		}
		out = append(out, rec.info)
	}
	return out, nil
}

// CheckIdempotency implements checkpoint.Store.
func (s *Store) CheckIdempotency(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idempotencyMap[key], nil
}

// MarkIdempotency implements checkpoint.Store.
func (s *Store) MarkIdempotency(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotencyMap[key] = true
	return nil
}
