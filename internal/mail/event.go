package mail

import (
	"context"
	"sync"
	"time"
)

// Event is a latest-wins latch. Raise never blocks; the first Raise also
// releases every View waiter and closes Done.
type Event[T any] struct {
	name   string
	raised chan struct{}

	mu      sync.Mutex
	value   T
	pending bool
	ever    bool
	stamp   time.Time
}

func newEvent[T any](name string) *Event[T] {
	return &Event[T]{name: name, raised: make(chan struct{})}
}

// Name returns the channel name.
func (e *Event[T]) Name() string {
	return e.name
}

// Raise stores v and marks the event pending.
func (e *Event[T]) Raise(v T) {
	e.mu.Lock()
	e.value = v
	e.pending = true
	e.stamp = time.Now()
	first := !e.ever
	e.ever = true
	e.mu.Unlock()

	if first {
		close(e.raised)
	}
}

// Peek reports whether a raised value is waiting to be popped.
func (e *Event[T]) Peek() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Pop returns the latest value and clears pending. The second result is
// false when nothing was pending.
func (e *Event[T]) Pop() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pending {
		var zero T
		return zero, false
	}
	e.pending = false
	return e.value, true
}

// Value returns the latest raised value, pending or not, and whether the
// event was ever raised.
func (e *Event[T]) Value() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.ever
}

// Stamp returns the time of the latest Raise, or the zero time.
func (e *Event[T]) Stamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stamp
}

// Done returns a channel that is closed by the first Raise.
func (e *Event[T]) Done() <-chan struct{} {
	return e.raised
}

// View blocks until the event has been raised at least once and returns the
// latest value. It does not clear pending.
func (e *Event[T]) View() T {
	<-e.raised
	v, _ := e.Value()
	return v
}

// ViewContext is View with cancellation.
func (e *Event[T]) ViewContext(ctx context.Context) (T, error) {
	select {
	case <-e.raised:
		v, _ := e.Value()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
