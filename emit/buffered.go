package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, organized by run, for querying
// in tests and short-lived debugging sessions.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of every event recorded for runID, in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events[runID]...)
}

// Clear discards recorded events for runID, or everything if runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
