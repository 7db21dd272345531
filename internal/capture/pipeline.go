package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/media"
)

// Buses bundles the session bus and the process bus a pipeline listens on.
type Buses struct {
	Session *mail.Bus
	Process *mail.Bus
}

func (b Buses) shutdown() bool {
	return mail.ShutdownEvent(b.Session).Peek() || mail.BroadcastShutdownEvent(b.Process).Peek()
}

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	Packets   int64
	KeyFrames int64
	Bytes     int64
	Applied   int64 // control events applied to the encoder
}

// Video pulls packets from a video encoder onto the video_packets queue of
// its channel.
type Video struct {
	log     *slog.Logger
	channel string
	enc   VideoEncoder
	buses Buses
	queue *mail.Queue[media.VideoPacket]

	packets   atomic.Int64
	keyFrames atomic.Int64
	bytes     atomic.Int64
	applied   atomic.Int64
}

// NewVideo creates the video pipeline of channel (e.g. "video1"). Its queue
// and control events are scoped to that channel. If log is nil,
// slog.Default() is used.
func NewVideo(channel string, enc VideoEncoder, buses Buses, log *slog.Logger) *Video {
	if log == nil {
		log = slog.Default()
	}
	return &Video{
		log:     log.With("component", "capture-video", "channel", channel),
		channel: channel,
		enc:     enc,
		buses:   buses,
		queue:   mail.VideoQueueFor(buses.Session, channel),
	}
}

// Run loops until shutdown is raised on either bus, ctx is cancelled or the
// encoder fails. On exit it raises local shutdown so the peer goroutines of
// the session unwind too.
func (v *Video) Run(ctx context.Context) error {
	defer mail.ShutdownEvent(v.buses.Session).Raise(true)

	bitrate := mail.BitrateEventFor(v.buses.Session, v.channel)
	framerate := mail.FramerateEventFor(v.buses.Session, v.channel)
	idr := mail.IDREventFor(v.buses.Session, v.channel)
	pointer := mail.PointerEventFor(v.buses.Session, v.channel)

	v.log.Info("video capture started")
	for {
		if v.buses.shutdown() || ctx.Err() != nil {
			v.log.Info("video capture stopping", "packets", v.packets.Load())
			return nil
		}

		if kbps, ok := bitrate.Pop(); ok {
			if err := v.enc.SetBitrate(kbps); err != nil {
				v.log.Warn("bitrate change rejected", "kbps", kbps, "error", err)
			} else {
				v.applied.Add(1)
				v.log.Debug("bitrate changed", "kbps", kbps)
			}
		}
		if fps, ok := framerate.Pop(); ok {
			if err := v.enc.SetFramerate(fps); err != nil {
				v.log.Warn("framerate change rejected", "fps", fps, "error", err)
			} else {
				v.applied.Add(1)
				v.log.Debug("framerate changed", "fps", fps)
			}
		}
		if _, ok := idr.Pop(); ok {
			v.enc.RequestIDR()
			v.applied.Add(1)
		}
		if visible, ok := pointer.Pop(); ok {
			v.enc.SetPointerVisible(visible)
			v.applied.Add(1)
		}

		pkt, err := v.enc.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("capture: read video packet: %w", err)
		}

		v.packets.Add(1)
		v.bytes.Add(int64(len(pkt.Data)))
		if pkt.IsKeyFrame {
			v.keyFrames.Add(1)
		}
		v.queue.Push(pkt)
	}
}

// Stats returns the pipeline counters.
func (v *Video) Stats() Stats {
	return Stats{
		Packets:   v.packets.Load(),
		KeyFrames: v.keyFrames.Load(),
		Bytes:     v.bytes.Load(),
		Applied:   v.applied.Load(),
	}
}

// Audio pulls packets from an audio encoder onto audio_packets.
type Audio struct {
	log   *slog.Logger
	enc   AudioEncoder
	buses Buses
	queue *mail.Queue[media.AudioPacket]

	packets atomic.Int64
	bytes   atomic.Int64
}

// NewAudio creates an audio pipeline. If log is nil, slog.Default() is used.
func NewAudio(enc AudioEncoder, buses Buses, log *slog.Logger) *Audio {
	if log == nil {
		log = slog.Default()
	}
	return &Audio{
		log:   log.With("component", "capture-audio"),
		enc:   enc,
		buses: buses,
		queue: mail.AudioQueue(buses.Session),
	}
}

// Run is the audio counterpart of Video.Run.
func (a *Audio) Run(ctx context.Context) error {
	defer mail.ShutdownEvent(a.buses.Session).Raise(true)

	a.log.Info("audio capture started")
	for {
		if a.buses.shutdown() || ctx.Err() != nil {
			a.log.Info("audio capture stopping", "packets", a.packets.Load())
			return nil
		}
		pkt, err := a.enc.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("capture: read audio packet: %w", err)
		}
		a.packets.Add(1)
		a.bytes.Add(int64(len(pkt.Data)))
		a.queue.Push(pkt)
	}
}

// Stats returns the pipeline counters.
func (a *Audio) Stats() Stats {
	return Stats{Packets: a.packets.Load(), Bytes: a.bytes.Load()}
}
