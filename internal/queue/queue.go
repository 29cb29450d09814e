// Package queue is the bounded FIFO between the HTTP endpoint and the
// dispatcher. Enqueue never blocks.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 1024

var (
	// ErrFull is returned by Enqueue when the queue holds Cap items.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is closed and drained.
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded, multi-producer single-consumer FIFO of QueueItems.
type Queue struct {
	items chan domain.QueueItem
	now   func() time.Time

	mu     sync.Mutex
	next   uint64
	closed bool
}

// New creates a Queue with room for capacity items.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make(chan domain.QueueItem, capacity),
		now:   time.Now,
		next:  1,
	}
}

// WithClock replaces time.Now for EnqueuedAt. Call before use.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue appends event and returns it wrapped with its sequence number.
// Sequence numbers start at 1 and have no gaps across successful calls.
func (q *Queue) Enqueue(event domain.CaptureEvent) (domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.QueueItem{}, ErrClosed
	}

	item := domain.QueueItem{
		Sequence:   q.next,
		EnqueuedAt: q.now(),
		Event:      event,
	}

	// The send happens under mu so channel order equals sequence order.
	select {
	case q.items <- item:
		q.next++
		return item, nil
	default:
		return domain.QueueItem{}, ErrFull
	}
}

// Dequeue blocks until an item is available, ctx is done, or the queue is
// closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return domain.QueueItem{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return domain.QueueItem{}, ctx.Err()
	}
}

// Close stops new enqueues. Items already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
