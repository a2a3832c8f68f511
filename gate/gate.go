// Package gate implements request/response correlation for external-request
// suspension: an executor calls out to something outside the run (a human,
// an approval queue, a webhook) and is parked until a matching response
// arrives, without blocking the rest of the superstep (spec §4.6).
package gate

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Response is what a suspended request eventually resolves to.
type Response struct {
	Value interface{}
	Err   error
}

// Gate tracks outstanding requests for a single run. One Gate is created
// per run by the scheduler; it must not be shared across runs.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan Response
}

// New creates an empty Gate.
func New() *Gate {
	return &Gate{pending: make(map[string]chan Response)}
}

// Suspend registers a new request and returns its id and the channel its
// eventual Response will arrive on. The channel is buffered so Resolve
// never blocks even if nobody is left listening (e.g. after cancellation).
func (g *Gate) Suspend() (requestID string, respCh <-chan Response) {
	id := uuid.NewString()
	ch := make(chan Response, 1)
	g.mu.Lock()
	g.pending[id] = ch
	g.mu.Unlock()
	return id, ch
}

// Resolve delivers a response to the request named by requestID. It returns
// an error if requestID is unknown or has already been resolved — duplicate
// or stale resolutions are rejected rather than silently ignored (spec
// §4.6 edge case).
func (g *Gate) Resolve(requestID string, value interface{}, err error) error {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("gate: unknown or already-resolved request id %q", requestID)
	}
	ch <- Response{Value: value, Err: err}
	return nil
}

// Outstanding returns the number of requests awaiting a response.
func (g *Gate) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Cancel abandons a request without resolving it, used when the owning
// handler's context is cancelled before a response arrives.
func (g *Gate) Cancel(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}

// PendingIDs returns a snapshot of outstanding request ids, used by the
// checkpoint engine to record which requests must survive a restore.
func (g *Gate) PendingIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}
