package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/sunbeam/internal/control"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
)

// ErrNotVideo is returned when an encoder control names a non-video channel.
var ErrNotVideo = errors.New("delivery: encoder controls target video channels only")

// Applier turns decoded client messages into writes on the segment: input
// goes to the ingress ring, encoder controls to the video event tables.
// It is safe for concurrent use by several control connections.
type Applier struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	// The ingress ring and event tables each allow a single producer.
	mu     sync.Mutex
	input  *shm.Channel
	video0 *shm.Channel
	video1 *shm.Channel
}

// NewApplier binds an applier to seg.
func NewApplier(seg *shm.Segment, m *metrics.Metrics, log *slog.Logger) (*Applier, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &Applier{log: log.With("component", "applier"), metrics: m}
	var err error
	if a.input, err = seg.Channel(shm.Input); err != nil {
		return nil, err
	}
	if a.video0, err = seg.Channel(shm.Video0); err != nil {
		return nil, err
	}
	if a.video1, err = seg.Channel(shm.Video1); err != nil {
		return nil, err
	}
	return a, nil
}

// Apply performs msg. Messages without a segment effect are ignored.
func (a *Applier) Apply(msg any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch m := msg.(type) {
	case control.Input:
		if err := a.input.Ring.Push(m.Data, shm.Metadata{}); err != nil {
			return fmt.Errorf("delivery: input: %w", err)
		}
		return nil
	case control.Bitrate:
		return a.push(m.Channel, shm.EventBitrate, m.Kbps)
	case control.Framerate:
		return a.push(m.Channel, shm.EventFramerate, m.FPS)
	case control.IDR:
		return a.push(m.Channel, shm.EventIDR, 1)
	case control.Pointer:
		var v int64
		if m.Visible {
			v = 1
		}
		return a.push(m.Channel, shm.EventPointer, v)
	default:
		a.log.Debug("ignoring message", "type", fmt.Sprintf("%T", msg))
		return nil
	}
}

func (a *Applier) push(channel string, e shm.EventType, v int64) error {
	targets, err := a.targets(channel)
	if err != nil {
		return err
	}
	for _, ch := range targets {
		ch.Events.Push(e, v)
		a.metrics.Event(ch.Index.String(), e.String())
	}
	a.log.Debug("event pushed", "event", e.String(), "value", v, "channel", channel)
	return nil
}

// targets resolves a channel name; "" means both video channels.
func (a *Applier) targets(channel string) ([]*shm.Channel, error) {
	if channel == "" {
		return []*shm.Channel{a.video0, a.video1}, nil
	}
	idx, err := shm.ParseChannel(channel)
	if err != nil {
		return nil, err
	}
	switch idx {
	case shm.Video0:
		return []*shm.Channel{a.video0}, nil
	case shm.Video1:
		return []*shm.Channel{a.video1}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotVideo, idx)
}
