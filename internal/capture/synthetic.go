package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/sunbeam/internal/media"
)

// Synthetic is a Platform producing paced test-pattern packets. Video
// packets are sized from the bitrate and framerate; a key frame is emitted
// every GOP frames and whenever an IDR is requested.
type Synthetic struct {
	opts SyntheticOptions
	log  *slog.Logger
}

// SyntheticOptions tunes the synthetic platform.
type SyntheticOptions struct {
	GOP          int  // frames between key frames, default 120
	FailProbe    bool // make Probe report no encoder
	MaxFrameSize int  // cap on generated video packet size, default 256 KiB
}

// NewSynthetic creates a synthetic platform. If log is nil, slog.Default()
// is used.
func NewSynthetic(opts SyntheticOptions, log *slog.Logger) *Synthetic {
	if log == nil {
		log = slog.Default()
	}
	if opts.GOP <= 0 {
		opts.GOP = 120
	}
	if opts.MaxFrameSize < 32 {
		opts.MaxFrameSize = 256 << 10
	}
	return &Synthetic{opts: opts, log: log.With("component", "synthetic-platform")}
}

// Probe reports ErrProbeFailed when FailProbe is set.
func (s *Synthetic) Probe(ctx context.Context) error {
	if s.opts.FailProbe {
		return ErrProbeFailed
	}
	return ctx.Err()
}

// OpenVideo returns a paced video encoder for p.
func (s *Synthetic) OpenVideo(_ context.Context, p VideoParams) (VideoEncoder, error) {
	if p.Framerate <= 0 || p.Bitrate <= 0 {
		return nil, fmt.Errorf("capture: invalid video params %dfps %dkbps", p.Framerate, p.Bitrate)
	}
	s.log.Info("opening synthetic video encoder",
		"display", p.Display, "codec", p.Codec.String(),
		"width", p.Width, "height", p.Height, "fps", p.Framerate, "kbps", p.Bitrate)
	return &syntheticVideo{
		gop:      s.opts.GOP,
		maxFrame: s.opts.MaxFrameSize,
		fps:      int64(p.Framerate),
		kbps:     int64(p.Bitrate),
		start:    time.Now(),
		next:     time.Now(),
		idr:      true,
	}, nil
}

// OpenAudio returns a paced audio encoder for p.
func (s *Synthetic) OpenAudio(_ context.Context, p AudioParams) (AudioEncoder, error) {
	d := p.PacketDuration
	if d <= 0 {
		d = 5
	}
	ch := max(p.Channels, 1)
	s.log.Info("opening synthetic audio encoder", "packet_ms", d, "channels", ch, "high_quality", p.HighQuality)
	// Roughly Opus at 128 kbps per stereo pair.
	size := max(128_000/8*d/1000*ch/2, 16)
	return &syntheticAudio{
		interval: time.Duration(d) * time.Millisecond,
		size:     size,
		start:    time.Now(),
		next:     time.Now(),
	}, nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type syntheticVideo struct {
	gop      int
	maxFrame int
	start    time.Time

	mu      sync.Mutex
	fps     int64
	kbps    int64
	frame   uint64
	next    time.Time
	idr     bool
	pointer bool
	closed  bool
}

func (v *syntheticVideo) ReadPacket(ctx context.Context) (media.VideoPacket, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return media.VideoPacket{}, fmt.Errorf("capture: encoder closed")
	}
	due := v.next
	v.mu.Unlock()

	if err := sleepUntil(ctx, due); err != nil {
		return media.VideoPacket{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	key := v.idr || v.frame%uint64(v.gop) == 0
	v.idr = false
	size := int(v.kbps * 1000 / 8 / v.fps)
	if key {
		size *= 4
	}
	size = min(max(size, 32), v.maxFrame)

	data := make([]byte, size)
	binary.BigEndian.PutUint64(data[0:], v.frame)
	if key {
		data[8] = 1
	}
	if v.pointer {
		data[9] = 1
	}
	for i := 16; i < len(data); i++ {
		data[i] = byte(v.frame) + byte(i)
	}

	pkt := media.VideoPacket{
		Data:       data,
		PTS:        time.Since(v.start).Microseconds(),
		FrameIndex: v.frame,
		IsKeyFrame: key,
	}
	v.frame++
	v.next = due.Add(time.Second / time.Duration(v.fps))
	if now := time.Now(); v.next.Before(now) {
		v.next = now
	}
	return pkt, nil
}

func (v *syntheticVideo) SetBitrate(kbps int64) error {
	if kbps <= 0 {
		return fmt.Errorf("capture: bitrate %d", kbps)
	}
	v.mu.Lock()
	v.kbps = kbps
	v.mu.Unlock()
	return nil
}

func (v *syntheticVideo) SetFramerate(fps int64) error {
	if fps <= 0 || fps > 1000 {
		return fmt.Errorf("capture: framerate %d", fps)
	}
	v.mu.Lock()
	v.fps = fps
	v.mu.Unlock()
	return nil
}

func (v *syntheticVideo) RequestIDR() {
	v.mu.Lock()
	v.idr = true
	v.mu.Unlock()
}

func (v *syntheticVideo) SetPointerVisible(visible bool) {
	v.mu.Lock()
	v.pointer = visible
	v.mu.Unlock()
}

func (v *syntheticVideo) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

type syntheticAudio struct {
	interval time.Duration
	size     int
	start    time.Time

	mu     sync.Mutex
	seq    uint64
	next   time.Time
	closed bool
}

func (a *syntheticAudio) ReadPacket(ctx context.Context) (media.AudioPacket, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return media.AudioPacket{}, fmt.Errorf("capture: encoder closed")
	}
	due := a.next
	a.mu.Unlock()

	if err := sleepUntil(ctx, due); err != nil {
		return media.AudioPacket{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	data := make([]byte, a.size)
	binary.BigEndian.PutUint64(data, a.seq)
	a.seq++
	a.next = due.Add(a.interval)
	if now := time.Now(); a.next.Before(now) {
		a.next = now
	}
	return media.AudioPacket{Data: data, PTS: time.Since(a.start).Microseconds()}, nil
}

func (a *syntheticAudio) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}
