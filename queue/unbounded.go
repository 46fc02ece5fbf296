package queue

import (
	"sync/atomic"
)

type node[T any] struct {
	next atomic.Pointer[node[T]]
	val  T
}

// Unbounded is a lock-free multi-producer single-consumer FIFO (Vyukov's
// intrusive list). Enqueue never fails. Only one goroutine may dequeue at a
// time.
type Unbounded[T any] struct {
	head atomic.Pointer[node[T]]
	tail *node[T]
	size atomic.Int64
}

// NewUnbounded creates an empty queue.
func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{}
	stub := &node[T]{}
	q.head.Store(stub)
	q.tail = stub
	return q
}

// Enqueue appends v. Safe for concurrent use.
func (q *Unbounded[T]) Enqueue(v T) {
	n := &node[T]{val: v}
	q.size.Add(1)
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// TryDequeue removes the oldest item. A producer caught between its swap and
// link makes the queue look empty for that instant.
func (q *Unbounded[T]) TryDequeue() (T, bool) {
	var zero T
	next := q.tail.next.Load()
	if next == nil {
		return zero, false
	}
	q.tail = next
	v := next.val
	next.val = zero
	q.size.Add(-1)
	return v, true
}

// TryDequeueBulk moves up to len(dst) items into dst and returns the count.
func (q *Unbounded[T]) TryDequeueBulk(dst []T) int {
	n := 0
	for n < len(dst) {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	return n
}

// Len reports an approximate item count.
func (q *Unbounded[T]) Len() int {
	return int(q.size.Load())
}
