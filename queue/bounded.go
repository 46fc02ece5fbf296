// Package queue holds the non-blocking queues the transport moves packets
// and bundles through.
package queue

import (
	"sync"
	"sync/atomic"
)

// Bounded is a fixed-capacity multi-producer multi-consumer FIFO. No
// operation ever blocks: a full queue rejects, an empty queue returns
// nothing.
//
// A zero-capacity Bounded rejects every enqueue.
type Bounded[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed atomic.Bool
}

// NewBounded creates a queue holding at most capacity items. A negative
// capacity is treated as zero.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// TryEnqueue appends v, reporting false if the queue is full or closed.
func (q *Bounded[T]) TryEnqueue(v T) bool {
	if cap(q.ch) == 0 {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return false
	}
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// TryEnqueueBulk appends a prefix of vs and returns its length. Items are
// appended in order; the first rejection stops the batch.
func (q *Bounded[T]) TryEnqueueBulk(vs []T) int {
	if cap(q.ch) == 0 {
		return 0
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return 0
	}
	for i, v := range vs {
		select {
		case q.ch <- v:
		default:
			return i
		}
	}
	return len(vs)
}

// TryDequeue removes the oldest item.
func (q *Bounded[T]) TryDequeue() (T, bool) {
	select {
	case v, ok := <-q.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// TryDequeueBulk moves up to len(dst) items into dst and returns the count.
func (q *Bounded[T]) TryDequeueBulk(dst []T) int {
	n := 0
	for n < len(dst) {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return n
			}
			dst[n] = v
			n++
		default:
			return n
		}
	}
	return n
}

// Len reports the number of queued items.
func (q *Bounded[T]) Len() int {
	return len(q.ch)
}

// Cap reports the capacity.
func (q *Bounded[T]) Cap() int {
	return cap(q.ch)
}

// Close rejects further enqueues. Items already queued can still be
// dequeued.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Swap(true) {
		return
	}
	close(q.ch)
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	return q.closed.Load()
}
