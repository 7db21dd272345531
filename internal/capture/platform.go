// Package capture runs the per-media capture pipelines of a session. Each
// pipeline pulls encoded packets from a platform encoder, pushes them onto
// the session's mail queues and mirrors control events from the bus back
// into the encoder.
//
// Real capture and hardware encoding are provided by a Platform; Synthetic
// is a paced test-pattern implementation used when no platform backend is
// available.
package capture

import (
	"context"
	"errors"

	"github.com/zsiec/sunbeam/internal/media"
	"github.com/zsiec/sunbeam/internal/shm"
)

// ErrProbeFailed is returned by Probe when no working encoder exists.
var ErrProbeFailed = errors.New("capture: no working encoder found")

// Platform opens capture devices and encoders.
type Platform interface {
	// Probe checks that at least one encoder works on this host.
	Probe(ctx context.Context) error
	OpenVideo(ctx context.Context, p VideoParams) (VideoEncoder, error)
	OpenAudio(ctx context.Context, p AudioParams) (AudioEncoder, error)
}

// VideoEncoder produces encoded video and accepts runtime adjustments.
// ReadPacket blocks until the next access unit is ready or ctx is done.
type VideoEncoder interface {
	ReadPacket(ctx context.Context) (media.VideoPacket, error)
	SetBitrate(kbps int64) error
	SetFramerate(fps int64) error
	RequestIDR()
	SetPointerVisible(visible bool)
	Close() error
}

// AudioEncoder produces encoded audio frames.
type AudioEncoder interface {
	ReadPacket(ctx context.Context) (media.AudioPacket, error)
	Close() error
}

// VideoParams selects the display and encoder settings of a video pipeline.
type VideoParams struct {
	Display        string
	Codec          shm.Codec
	Width          int
	Height         int
	Framerate      int
	Bitrate        int // kbps
	SlicesPerFrame int
	NumRefFrames   int
	EncoderCscMode int
	DynamicRange   int
}

// WithMetadata returns p with the display and codec recorded by the session
// owner in the channel metadata. An empty display keeps p.Display.
func (p VideoParams) WithMetadata(m *shm.ChannelMetadata) VideoParams {
	if m == nil {
		return p
	}
	if d := m.Display(); d != "" {
		p.Display = d
	}
	p.Codec = m.Codec()
	return p
}

// AudioParams selects the audio encoder settings.
type AudioParams struct {
	PacketDuration int // milliseconds
	Channels       int
	Mask           int
	HighQuality    bool
}
