package runtime

import (
	"context"
	"sync"

	"github.com/dshills/workflow-core/emit"
)

// hub is the Runtime's single emit.Emitter: it keeps a buffered history
// per run (for the synchronous Run call) and, for any run with an active
// subscriber, forwards each event live onto that run's channel. A send
// to a full subscriber channel blocks — the cooperative, back-pressured
// stream of spec §5 ("readers drive consumption; the scheduler blocks on
// full channel").
type hub struct {
	mu   sync.Mutex
	subs map[string]chan emit.Event
	buf  *emit.BufferedEmitter
}

func newHub() *hub {
	return &hub{subs: make(map[string]chan emit.Event), buf: emit.NewBufferedEmitter()}
}

// Emit implements emit.Emitter.
func (h *hub) Emit(e emit.Event) {
	h.buf.Emit(e)
	h.mu.Lock()
	ch, ok := h.subs[e.RunID]
	h.mu.Unlock()
	if ok {
		ch <- e
	}
}

// EmitBatch implements emit.Emitter.
func (h *hub) EmitBatch(_ context.Context, events []emit.Event) error {
	for _, e := range events {
		h.Emit(e)
	}
	return nil
}

// Flush implements emit.Emitter.
func (h *hub) Flush(context.Context) error { return nil }

func (h *hub) subscribe(runID string, buffer int) <-chan emit.Event {
	ch := make(chan emit.Event, buffer)
	h.mu.Lock()
	h.subs[runID] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(runID string) {
	h.mu.Lock()
	ch, ok := h.subs[runID]
	delete(h.subs, runID)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *hub) history(runID string) []emit.Event {
	return h.buf.History(runID)
}
