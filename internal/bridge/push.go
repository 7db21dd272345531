package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/media"
	"github.com/zsiec/sunbeam/internal/shm"
)

// Push is the egress bridge of one video or audio channel.
type Push struct {
	ch      *shm.Channel
	session *mail.Bus
	watch   shutdownWatch
	opts    Options
	log     *slog.Logger
	name    string
	c       counters

	queueDrops uint64
}

// NewPush creates the egress bridge for ch. session is the session bus,
// process the process bus carrying broadcast_shutdown.
func NewPush(ch *shm.Channel, session, process *mail.Bus, opts Options) (*Push, error) {
	if err := checkDirection(ch, true); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Push{
		ch:      ch,
		session: session,
		watch:   newShutdownWatch(session, process),
		opts:    opts,
		log:     opts.Log.With("component", "bridge-push", "channel", ch.Index.String()),
		name:    ch.Index.String(),
	}, nil
}

// Run services the channel until local or broadcast shutdown is raised or
// ctx is done. On exit it raises local shutdown and marks the channel
// inactive.
func (p *Push) Run(ctx context.Context) error {
	p.ch.Metadata.SetActive(true)
	defer func() {
		mail.ShutdownEvent(p.session).Raise(true)
		p.ch.Metadata.SetActive(false)
		p.log.Info("push bridge stopped", "packets", p.c.packets.Load(), "oversize", p.c.oversize.Load())
	}()
	p.log.Info("push bridge started", "poll", p.opts.PollInterval)

	drain := p.drainVideo
	if p.ch.Index.Kind() == media.KindAudio {
		drain = p.drainAudio
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		if p.watch.raised() {
			return nil
		}
		drain()
		p.drainEvents()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Push) drainVideo() {
	q := mail.VideoQueueFor(p.session, p.name)
	n := 0
	for {
		pkt, ok := q.TryPop()
		if !ok {
			break
		}
		if p.push(pkt.Data, shm.Metadata{KeyFrame: pkt.IsKeyFrame, PTS: pkt.PTS}) {
			n++
		}
	}
	p.opts.Metrics.Forwarded(p.name, n)
	p.reportQueueDrops(q.Name(), q.Dropped())
}

func (p *Push) drainAudio() {
	q := mail.AudioQueue(p.session)
	n := 0
	for {
		pkt, ok := q.TryPop()
		if !ok {
			break
		}
		if p.push(pkt.Data, shm.Metadata{PTS: pkt.PTS}) {
			n++
		}
	}
	p.opts.Metrics.Forwarded(p.name, n)
	p.reportQueueDrops(q.Name(), q.Dropped())
}

// reportQueueDrops publishes packets the bounded mail queue discarded since
// the last iteration.
func (p *Push) reportQueueDrops(queue string, total uint64) {
	if d := total - p.queueDrops; d > 0 {
		p.queueDrops = total
		p.opts.Metrics.QueueDropped(queue, d)
		p.log.Warn("mail queue overflowed", "queue", queue, "dropped", d)
	}
}

func (p *Push) push(data []byte, md shm.Metadata) bool {
	if err := p.ch.Ring.Push(data, md); err != nil {
		if errors.Is(err, shm.ErrPayloadTooLarge) {
			p.c.oversize.Add(1)
			p.opts.Metrics.Oversize(p.name)
			p.log.Warn("dropping oversize packet", "size", len(data), "slot", p.ch.Ring.SlotSize())
			return false
		}
		p.log.Error("ring push failed", "error", err)
		return false
	}
	p.c.packets.Add(1)
	return true
}

// drainEvents moves pending event table slots onto the session bus, under
// the names scoped to this channel.
func (p *Push) drainEvents() {
	for _, e := range shm.EventTypes() {
		if !p.ch.Events.Peek(e) {
			continue
		}
		v, ok := p.ch.Events.Pop(e)
		if !ok {
			continue
		}
		switch e {
		case shm.EventBitrate:
			mail.BitrateEventFor(p.session, p.name).Raise(v)
		case shm.EventFramerate:
			mail.FramerateEventFor(p.session, p.name).Raise(v)
		case shm.EventPointer:
			mail.PointerEventFor(p.session, p.name).Raise(v != 0)
		case shm.EventIDR:
			mail.IDREventFor(p.session, p.name).Raise(true)
		}
		p.c.events.Add(1)
		p.opts.Metrics.Event(p.name, e.String())
		p.log.Debug("event forwarded", "event", e.String(), "value", v)
	}
}

// Stats returns the bridge counters.
func (p *Push) Stats() Stats {
	return p.c.snapshot()
}
