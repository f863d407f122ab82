// Package queue implements the bounded FIFO admission buffer of §4.5:
// used when every endpoint fails admission but the pool has not yet
// given up. Grounded on the teacher's lock-guarded slice patterns
// (pkg/pool/lite_pool.go) generalised to a deadline-aware drain.
package queue

import (
	"sync"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

// ErrQueueFull is returned by Enqueue once the bounded capacity is reached.
var ErrQueueFull = domain.NewPoolError(domain.KindQueueFull, "request queue at capacity", nil)

// ErrPoolDestroyed is returned by Enqueue once Shutdown has been called.
var ErrPoolDestroyed = domain.NewPoolError(domain.KindPoolDestroyed, "pool destroyed", nil)

// Bounded is a FIFO queue of pending requests with a fixed capacity; it
// never grows unbounded and never persists across process restarts
// (§4.5 "No persistent storage").
type Bounded struct {
	mu        sync.Mutex
	entries   []*domain.Request
	capacity  int
	destroyed bool

	now func() time.Time
}

// New constructs a Bounded queue with the given capacity (§6
// max_queue_size, default 500).
func New(capacity int) *Bounded {
	return &Bounded{capacity: capacity}
}

func (q *Bounded) clock() time.Time {
	if q.now != nil {
		return q.now()
	}
	return time.Now()
}

// Enqueue admits req at the tail, rejecting with ErrQueueFull at capacity
// or ErrPoolDestroyed after Shutdown.
func (q *Bounded) Enqueue(req *domain.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return ErrPoolDestroyed
	}
	if len(q.entries) >= q.capacity {
		return ErrQueueFull
	}
	req.State = domain.StateQueued
	q.entries = append(q.entries, req)
	return nil
}

// Drain walks the queue from the head, evicting deadline-expired entries
// and offering every other entry to admit in order; entries admit declines
// stay queued in their original order and the walk continues past them
// (§4.5 "On each completion or token-refill tick, drain the queue head").
func (q *Bounded) Drain(admit func(*domain.Request) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	remaining := q.entries[:0]
	for _, req := range q.entries {
		if now.After(req.Deadline) {
			req.State = domain.StateExpired
			continue
		}
		if admit(req) {
			continue
		}
		remaining = append(remaining, req)
	}
	q.entries = remaining
}

// Len returns the current queue depth.
func (q *Bounded) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Shutdown marks every pending entry failed, drops it, and closes the
// queue to further admission (Enqueue then returns ErrPoolDestroyed);
// idempotent.
func (q *Bounded) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.destroyed = true
	for _, req := range q.entries {
		req.State = domain.StateFailed
	}
	q.entries = nil
}
