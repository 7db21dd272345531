// Package mail is the in-process publish/subscribe broker shared by every
// goroutine of one session. Channels are looked up by name; the first lookup
// creates the channel and later lookups return the same handle.
//
// Two shapes exist. An Event is a single-slot latch: the latest raised value
// wins and stays observable until popped. A Queue is an ordered FIFO with a
// blocking Pop that returns false once the queue is closed and drained.
package mail

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Bus maps channel names to events and queues. A Bus is scoped to one
// session or to the process; it is never a global.
type Bus struct {
	log *slog.Logger

	mu     sync.Mutex
	chans  map[string]any
	closed bool
}

// New creates an empty bus. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:   log.With("component", "mail"),
		chans: make(map[string]any),
	}
}

// lookup returns the channel registered under name, creating it with mk if
// absent. A name registered with a different shape or element type panics;
// that is a wiring bug, not a runtime condition.
func lookup[C any](b *Bus, name string, mk func() C) C {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.chans[name]; ok {
		typed, ok := c.(C)
		if !ok {
			var want C
			panic(fmt.Sprintf("mail: channel %q is %T, requested as %T", name, c, want))
		}
		return typed
	}

	c := mk()
	b.chans[name] = c
	if b.closed {
		if q, ok := any(c).(interface{ Close() }); ok {
			q.Close()
		}
	}
	b.log.Debug("channel created", "name", name, "type", fmt.Sprintf("%T", c))
	return c
}

// EventOf returns the event registered under name.
func EventOf[T any](b *Bus, name string) *Event[T] {
	return lookup(b, name, func() *Event[T] { return newEvent[T](name) })
}

// QueueOf returns the queue registered under name. Options only apply when
// this call creates the queue.
func QueueOf[T any](b *Bus, name string, opts ...QueueOption) *Queue[T] {
	return lookup(b, name, func() *Queue[T] { return newQueue[T](name, opts...) })
}

// Close closes every queue on the bus, releasing blocked Pop calls. Queues
// created after Close start closed. Events are unaffected.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var closers []interface{ Close() }
	for _, c := range b.chans {
		if q, ok := c.(interface{ Close() }); ok {
			closers = append(closers, q)
		}
	}
	b.mu.Unlock()

	for _, q := range closers {
		q.Close()
	}
	b.log.Debug("bus closed", "channels", len(closers))
}

// Names returns the registered channel names in sorted order.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.chans))
	for n := range b.chans {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
