// Package requestpipeline implements the per-peer outstanding-request
// queue described in spec.md §4.3: enqueue/dequeue with capacity and
// deduplication, a non-decreasing deadline order for timeouts, and
// cancel-on-drop semantics for the caller-held receiver.
package requestpipeline

import (
	"container/heap"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// Block is the (piece index, byte offset, length) triple that keys an
// outstanding request, spec.md §3.
type Block struct {
	Index, Begin, Length uint32
}

// EnqueueResult is the three-way outcome of Enqueue, spec.md §4.3.
type EnqueueResult int

const (
	// Accepted means a new pending entry was created; use the
	// returned Receiver to await the block's bytes.
	Accepted EnqueueResult = iota
	// AlreadyQueued means B was already outstanding; no wire message
	// should be emitted.
	AlreadyQueued
	// Full means accepting B would exceed the configured byte limit.
	Full
)

// DefaultTimeout is the per-entry deadline used when a Pipeline is
// constructed without an explicit one (spec.md §4.3: "tens of
// seconds").
const DefaultTimeout = 20 * time.Second

type entry struct {
	block    Block
	deadline time.Time
	resultC  chan []byte
	index    int // heap index, maintained by container/heap
	dequeued bool
}

// Pipeline tracks one peer connection's outstanding block requests.
// Its mutex is only ever held across plain map/heap bookkeeping, never
// across a channel send/receive or other suspension point, per
// spec.md §9's mutex-discipline note.
type Pipeline struct {
	mu      sync.Mutex
	limit   uint32
	size    uint32
	timeout time.Duration
	entries map[Block]*entry
	pending deadlineHeap

	// cancelC receives one Block per wire-level Cancel the owning peer
	// actor must emit. It is never closed by the pipeline.
	cancelC chan Block

	queueDepth metrics.Gauge
	timeouts   metrics.Counter
}

// New returns a Pipeline with the given total-bytes limit and
// per-entry timeout. cancelC is the channel the peer actor drains to
// learn which blocks to send wire Cancel messages for; it should be
// buffered (spec.md §5 default: 64) so a dropped Receiver never blocks
// on a slow peer actor.
func New(limit uint32, timeout time.Duration, cancelC chan Block) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		limit:      limit,
		timeout:    timeout,
		entries:    make(map[Block]*entry),
		cancelC:    cancelC,
		queueDepth: metrics.NewGauge(),
		timeouts:   metrics.NewCounter(),
	}
}

// Size returns the sum of lengths of all outstanding entries.
func (p *Pipeline) Size() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Enqueue registers a new outstanding request for block, unless it is
// already outstanding (AlreadyQueued) or would push the tracked size
// past the configured limit (Full). On Accepted, the caller owns the
// returned Receiver and must eventually call Recv or Cancel on it;
// forgetting it is still safe — see Receiver's doc comment.
func (p *Pipeline) Enqueue(block Block) (EnqueueResult, *Receiver) {
	p.mu.Lock()
	if _, ok := p.entries[block]; ok {
		p.mu.Unlock()
		return AlreadyQueued, nil
	}
	if p.size+block.Length > p.limit {
		p.mu.Unlock()
		return Full, nil
	}
	e := &entry{
		block:    block,
		deadline: time.Now().Add(p.timeout),
		resultC:  make(chan []byte, 1),
	}
	p.entries[block] = e
	p.size += block.Length
	heap.Push(&p.pending, e)
	p.queueDepth.Update(int64(len(p.entries)))
	p.mu.Unlock()

	r := &Receiver{p: p, block: block, resultC: e.resultC}
	runtime.SetFinalizer(r, (*Receiver).finalize)
	return Accepted, r
}

// Dequeue is called when a matching Piece message arrives. It delivers
// data to the waiting Receiver and removes the entry, returning true.
// It returns false if no such entry is outstanding (a Piece for an
// unknown or already-resolved request — non-fatal per spec.md §7).
func (p *Pipeline) Dequeue(block Block, data []byte) bool {
	p.mu.Lock()
	e, ok := p.entries[block]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.entries, block)
	p.size -= e.block.Length
	if e.index >= 0 {
		heap.Remove(&p.pending, e.index)
	}
	e.dequeued = true
	p.queueDepth.Update(int64(len(p.entries)))
	p.mu.Unlock()

	e.resultC <- data
	return true
}

// Reject fails an outstanding entry without delivering bytes (a fast
// Reject message, or an implicit rejection on Choke for an in-flight
// request outside the allowed-fast set). It reports whether an entry
// was present.
func (p *Pipeline) Reject(block Block) bool {
	p.mu.Lock()
	e, ok := p.entries[block]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.entries, block)
	p.size -= e.block.Length
	if e.index >= 0 {
		heap.Remove(&p.pending, e.index)
	}
	e.dequeued = true
	p.queueDepth.Update(int64(len(p.entries)))
	p.mu.Unlock()

	close(e.resultC)
	return true
}

// Cancel removes block (if still outstanding and not yet dequeued) and
// reports whether it removed it. On removal it offers block to the
// cancel channel, dropping the message if the channel is full. Called by
// Receiver's drop path; exported so the peer actor can also cancel
// explicitly (e.g. the orchestrator asked to cancel a specific block).
func (p *Pipeline) Cancel(block Block) bool {
	p.mu.Lock()
	e, ok := p.entries[block]
	if !ok || e.dequeued {
		p.mu.Unlock()
		return false
	}
	delete(p.entries, block)
	p.size -= e.block.Length
	if e.index >= 0 {
		heap.Remove(&p.pending, e.index)
	}
	p.queueDepth.Update(int64(len(p.entries)))
	p.mu.Unlock()

	select {
	case p.cancelC <- block:
	default:
		// Backpressure policy (spec.md §5): an overflowing cancel
		// channel must never block a mutex-protected critical
		// section; the peer actor is expected to keep it drained.
	}
	return true
}

// PopExpired returns every entry whose deadline is <= now, in
// ascending deadline order, removing them from the deadline queue but
// NOT from the outstanding map — the owning peer actor decides whether
// to retry (re-enqueue) or drop (Cancel) each one.
func (p *Pipeline) PopExpired(now time.Time) []Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []Block
	for p.pending.Len() > 0 {
		top := p.pending[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&p.pending)
		if _, ok := p.entries[top.block]; !ok {
			// Already dequeued/cancelled concurrently; skip.
			continue
		}
		p.timeouts.Inc(1)
		expired = append(expired, top.block)
	}
	return expired
}

// Drain removes every outstanding entry that is not yet dequeued and
// returns their blocks in original enqueue-deadline order, for the
// peer actor to buffer into its choke set (spec.md §4.3's "drains the
// outstanding queue into a choke set"). Entries remain closed out of
// the pipeline; the caller is responsible for re-Enqueue-ing any of
// them that should be retried after unchoke. Entries that PopExpired
// has already taken off the deadline queue are not drained and stay
// outstanding.
func (p *Pipeline) Drain() []Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	blocks := make([]Block, 0, len(p.entries))
	for len(p.pending) > 0 {
		e := heap.Pop(&p.pending).(*entry)
		if e.dequeued {
			continue
		}
		blocks = append(blocks, e.block)
		delete(p.entries, e.block)
		p.size -= e.block.Length
	}
	p.queueDepth.Update(int64(len(p.entries)))
	return blocks
}

// Receiver is the caller-held handle to a pending block. Recv blocks
// until the bytes arrive or the request is rejected or canceled; it
// has no timeout of its own. Cancel releases the request
// early, removing it from the pipeline and emitting a wire Cancel
// unless it has already resolved.
//
// A Receiver that is simply forgotten (never explicitly canceled) is
// still cleaned up: a finalizer calls Cancel on its behalf once the
// garbage collector reclaims it, approximating the cancel-on-drop
// semantics spec.md §9 calls for in languages with destructors. Code
// that can call Cancel explicitly should still do so — finalizers run
// on GC's schedule, not immediately.
type Receiver struct {
	p        *Pipeline
	block    Block
	resultC  chan []byte
	resolved int32 // atomic: 1 once Recv/Cancel has taken the one allowed action
}

// Recv waits for the block's bytes. ok is false if the request was
// rejected or canceled before the bytes arrived.
func (r *Receiver) Recv() (data []byte, ok bool) {
	if !atomic.CompareAndSwapInt32(&r.resolved, 0, 1) {
		return nil, false
	}
	runtime.SetFinalizer(r, nil)
	data, ok = <-r.resultC
	return data, ok
}

// Cancel releases the request early. It is idempotent and safe to
// call even after Recv has already completed.
func (r *Receiver) Cancel() {
	if !atomic.CompareAndSwapInt32(&r.resolved, 0, 1) {
		return
	}
	runtime.SetFinalizer(r, nil)
	r.p.Cancel(r.block)
}

func (r *Receiver) finalize() {
	r.Cancel()
}

// deadlineHeap is a container/heap.Interface ordering entries by
// ascending deadline, giving PopExpired its required non-decreasing
// order (spec.md §4.3's invariant).
type deadlineHeap []*entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
