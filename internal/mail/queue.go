package mail

import (
	"context"
	"sync"
	"sync/atomic"
)

// QueueOption configures a queue at creation.
type QueueOption func(*queueOptions)

type queueOptions struct {
	capacity int
}

// WithCapacity bounds the queue to n items. When a Push finds the queue
// full the oldest item is discarded and counted in Dropped. n <= 0 means
// unbounded.
func WithCapacity(n int) QueueOption {
	return func(o *queueOptions) {
		o.capacity = n
	}
}

// Queue is an ordered FIFO safe for any number of producers and consumers.
type Queue[T any] struct {
	name     string
	capacity int
	notify   chan struct{}
	done     chan struct{}
	dropped  atomic.Uint64

	mu     sync.Mutex
	items  []T
	head   int
	closed bool
}

func newQueue[T any](name string, opts ...QueueOption) *Queue[T] {
	var o queueOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		name:     name,
		capacity: o.capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Name returns the channel name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends v. It never blocks. Pushing to a closed queue is a no-op and
// returns false.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.take()
		q.dropped.Add(1)
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// take removes the head item. Caller holds mu.
func (q *Queue[T]) take() T {
	v := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

// TryPop removes and returns the head item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	v := q.take()
	if q.lenLocked() > 0 {
		// Pass the wakeup on so a second waiting consumer is not stranded.
		q.signal()
	}
	return v, true
}

// Pop blocks until an item is available or the queue is closed. It returns
// false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	v, ok, _ := q.pop(context.Background())
	return v, ok
}

// PopContext is Pop with cancellation. It returns ctx.Err() if ctx is done
// before an item arrives.
func (q *Queue[T]) PopContext(ctx context.Context) (T, bool, error) {
	return q.pop(ctx)
}

func (q *Queue[T]) pop(ctx context.Context) (T, bool, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, true, nil
		}
		q.mu.Lock()
		closed := q.closed && q.lenLocked() == 0
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, false, nil
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

// Peek reports whether an item is available without removing it.
func (q *Queue[T]) Peek() bool {
	return q.Len() > 0
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Dropped returns how many items were discarded because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting items. Items already queued can still be popped.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
