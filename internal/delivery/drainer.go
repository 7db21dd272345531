package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
)

// Drainer consumes one egress ring from its live edge, FEC encodes every
// packet and hands the shards to a Relay.
type Drainer struct {
	ch      *shm.Channel
	enc     *fec.Encoder
	relay   *Relay
	reader  *shm.Reader
	poll    time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
	name    string

	packets  uint64
	lastLost uint64
}

// NewDrainer creates a drainer for an egress channel.
func NewDrainer(ch *shm.Channel, enc *fec.Encoder, relay *Relay, poll time.Duration, m *metrics.Metrics, log *slog.Logger) (*Drainer, error) {
	if !ch.Index.Egress() {
		return nil, fmt.Errorf("delivery: channel %s is not an egress channel", ch.Index)
	}
	if log == nil {
		log = slog.Default()
	}
	if poll <= 0 {
		poll = 2 * time.Millisecond
	}
	return &Drainer{
		ch:      ch,
		enc:     enc,
		relay:   relay,
		reader:  shm.NewReaderAt(ch.Ring, ch.Ring.WriteIndex()),
		poll:    poll,
		metrics: m,
		log:     log.With("component", "drainer", "channel", ch.Index.String()),
		name:    ch.Index.String(),
	}, nil
}

// Run drains the ring until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	d.log.Info("drainer started", "cursor", d.reader.Cursor())
	defer func() {
		d.log.Info("drainer stopped", "packets", d.packets, "lost", d.reader.Lost())
	}()

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	buf := make([]byte, d.ch.Ring.SlotSize())
	for {
		if err := d.drain(buf); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drain forwards every packet currently readable.
func (d *Drainer) drain(buf []byte) error {
	for {
		p, ok := d.reader.Next(buf)
		if !ok {
			break
		}
		var flags uint8
		if p.Meta.KeyFrame {
			flags |= fec.FlagKeyFrame
		}

		start := time.Now()
		shards, err := d.enc.Encode(uint32(p.Index), flags, p.Data)
		if err != nil {
			return fmt.Errorf("delivery: %s packet %d: %w", d.name, p.Index, err)
		}
		d.metrics.FECEncoded(time.Since(start).Seconds())

		wire := make([][]byte, len(shards))
		for i, s := range shards {
			wire[i], _ = s.MarshalBinary()
		}
		d.relay.Broadcast(wire, p.Meta.KeyFrame)
		d.packets++
		d.metrics.Forwarded(d.name, 1)
	}

	if lost := d.reader.Lost(); lost > d.lastLost {
		d.log.Debug("ring overrun", "lost", lost-d.lastLost)
		d.metrics.Lost(d.name, lost-d.lastLost)
		d.lastLost = lost
	}
	return nil
}
