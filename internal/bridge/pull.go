package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/media"
	"github.com/zsiec/sunbeam/internal/shm"
)

// Pull is the ingress bridge of the input channel. It reads every slot
// appended after it started and pushes the payloads onto input_packets.
type Pull struct {
	ch      *shm.Channel
	session *mail.Bus
	watch   shutdownWatch
	reader  *shm.Reader
	opts    Options
	log     *slog.Logger
	name    string
	c       counters
}

// NewPull creates the ingress bridge for ch. The reader attaches at the
// ring's live edge, so input left over from an earlier session is skipped.
func NewPull(ch *shm.Channel, session, process *mail.Bus, opts Options) (*Pull, error) {
	if err := checkDirection(ch, false); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Pull{
		ch:      ch,
		session: session,
		watch:   newShutdownWatch(session, process),
		reader:  shm.NewReaderAt(ch.Ring, ch.Ring.WriteIndex()),
		opts:    opts,
		log:     opts.Log.With("component", "bridge-pull", "channel", ch.Index.String()),
		name:    ch.Index.String(),
	}, nil
}

// Run services the channel with the same exit contract as Push.Run.
func (p *Pull) Run(ctx context.Context) error {
	p.ch.Metadata.SetActive(true)
	defer func() {
		mail.ShutdownEvent(p.session).Raise(true)
		p.ch.Metadata.SetActive(false)
		p.log.Info("pull bridge stopped", "packets", p.c.packets.Load(), "lost", p.reader.Lost())
	}()
	p.log.Info("pull bridge started", "poll", p.opts.PollInterval, "cursor", p.reader.Cursor())

	q := mail.InputQueue(p.session)
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		if p.watch.raised() {
			return nil
		}

		lostBefore := p.reader.Lost()
		n := 0
		for {
			// Next re-samples the write index on every call.
			pkt, ok := p.reader.Next(nil)
			if !ok {
				break
			}
			q.Push(media.InputPacket{Data: pkt.Data})
			n++
		}
		if lost := p.reader.Lost() - lostBefore; lost > 0 {
			p.c.lost.Add(lost)
			p.opts.Metrics.Lost(p.name, lost)
			p.log.Warn("input packets overwritten before read", "lost", lost)
		}
		p.c.packets.Add(uint64(n))
		p.opts.Metrics.Forwarded(p.name, n)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stats returns the bridge counters.
func (p *Pull) Stats() Stats {
	return p.c.snapshot()
}
