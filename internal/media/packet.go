// Package media defines the packet types that flow between the capture
// pipelines, the mail bus and the shared-memory ring channels.
package media

// Queue capacities used when a session bounds its mail queues. Sized to
// absorb encoder jitter without excessive memory: ~2 seconds of 60fps video,
// ~2.5s of 20ms audio packets.
const (
	VideoQueueSize = 120
	AudioQueueSize = 128
	InputQueueSize = 256
)

// Kind identifies which media a channel or packet carries.
type Kind int

// Media kinds.
const (
	KindVideo Kind = iota
	KindAudio
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// VideoPacket is one encoded access unit produced by a video encoder.
type VideoPacket struct {
	Data       []byte
	PTS        int64 // microseconds since the capture started
	FrameIndex uint64
	IsKeyFrame bool
}

// AudioPacket is one encoded audio frame.
type AudioPacket struct {
	Data []byte
	PTS  int64
}

// InputPacket is a raw input event received from the remote client and
// destined for the input injector. The payload is opaque to the host.
type InputPacket struct {
	Data []byte
}
