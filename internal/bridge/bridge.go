// Package bridge moves packets and control signals between a session's mail
// bus and the shared-memory segment.
//
// Push runs on an egress channel (video or audio): it drains the matching
// mail queue into the ring and re-raises events from the channel's event
// table on the bus. Pull runs on the input channel: it reads new ring slots
// and queues them for the injector. Both poll with a fixed sleep because
// shared memory offers no cross-process wakeup; PollInterval is the
// latency/CPU knob.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
)

// DefaultPollInterval is the sleep between bridge iterations.
const DefaultPollInterval = 2 * time.Millisecond

// ErrWrongDirection is returned when a bridge is built for a channel that
// flows the other way.
var ErrWrongDirection = errors.New("bridge: channel direction mismatch")

// Options configures a bridge.
type Options struct {
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// Stats is a snapshot of a bridge's counters.
type Stats struct {
	Packets  uint64 // packets moved
	Events   uint64 // control events moved
	Lost     uint64 // ring packets overwritten before being read
	Oversize uint64 // packets too large for a ring slot
}

type counters struct {
	packets  atomic.Uint64
	events   atomic.Uint64
	lost     atomic.Uint64
	oversize atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Packets:  c.packets.Load(),
		Events:   c.events.Load(),
		Lost:     c.lost.Load(),
		Oversize: c.oversize.Load(),
	}
}

// shutdownWatch reports whether either shutdown latch has been raised.
type shutdownWatch struct {
	local     *mail.Event[bool]
	broadcast *mail.Event[bool]
}

func newShutdownWatch(session, process *mail.Bus) shutdownWatch {
	return shutdownWatch{
		local:     mail.ShutdownEvent(session),
		broadcast: mail.BroadcastShutdownEvent(process),
	}
}

func (w shutdownWatch) raised() bool {
	return w.local.Peek() || w.broadcast.Peek()
}

func checkDirection(ch *shm.Channel, egress bool) error {
	if ch == nil {
		return fmt.Errorf("bridge: nil channel")
	}
	if ch.Index.Egress() != egress {
		return fmt.Errorf("%w: %s", ErrWrongDirection, ch.Index)
	}
	return nil
}
