package scheduler

import (
	"container/heap"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/dshills/workflow-core/envelope"
)

// ComputeOrderKey derives a deterministic sort key from the source executor
// id and a sequence index, so that concurrently produced deliveries merge
// in the same order on every replay of the same run (spec §4.4, §9).
func ComputeOrderKey(sourceID string, seq int) uint64 {
	h := sha256.New()
	h.Write([]byte(sourceID))
	seqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(seqBytes, uint32(seq))
	h.Write(seqBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// workItem is one scheduled delivery: an envelope addressed to a target
// executor, ordered for deterministic dispatch within a superstep.
type workItem struct {
	OrderKey   uint64
	TargetID   string
	Envelope   envelope.Envelope
	Attempt    int
}

type workHeap []workItem

func (h workHeap) Len() int            { return len(h) }
func (h workHeap) Less(i, j int) bool  { return h[i].OrderKey < h[j].OrderKey }
func (h workHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x interface{}) { *h = append(*h, x.(workItem)) }
func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// frontier is a deterministically-ordered, boundedly-capacitated queue of
// work items for one superstep (spec §9's bounded backpressure).
type frontier struct {
	mu       sync.Mutex
	heap     workHeap
	capacity int
}

func newFrontier(capacity int) *frontier {
	f := &frontier{capacity: capacity}
	heap.Init(&f.heap)
	return f
}

// push enqueues item, returning ErrFrontierFull if capacity is exceeded.
// The scheduler surfaces this as the run-level backpressure signal (spec §9);
// since a superstep's fan-out is computed synchronously rather than over a
// blocking channel, backpressure here means "reject and fail the step"
// rather than "block the producer."
func (f *frontier) push(item workItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capacity > 0 && f.heap.Len() >= f.capacity {
		return ErrFrontierFull
	}
	heap.Push(&f.heap, item)
	return nil
}

func (f *frontier) drain() []workItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]workItem, 0, f.heap.Len())
	for f.heap.Len() > 0 {
		items = append(items, heap.Pop(&f.heap).(workItem))
	}
	return items
}

func (f *frontier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// snapshot returns a copy of the queued items without draining them, for
// checkpointing (spec §4.8 "pending deliveries").
func (f *frontier) snapshot() []workItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]workItem, len(f.heap))
	copy(items, f.heap)
	return items
}
