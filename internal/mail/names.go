package mail

import "github.com/zsiec/sunbeam/internal/media"

// PrimaryVideo is the video channel addressed by the unscoped names.
const PrimaryVideo = "video0"

// Channel names shared by the capture pipelines, the bridges and the
// session. Any component may subscribe by name.
const (
	Shutdown          = "shutdown"
	BroadcastShutdown = "broadcast_shutdown"
	VideoPackets      = "video_packets"
	AudioPackets      = "audio_packets"
	InputPackets      = "input_packets"
	Bitrate           = "bitrate"
	Framerate         = "framerate"
	Pointer           = "pointer"
	IDR               = "idr"
)

// Scoped qualifies a per-channel name with its video channel, so that two
// video pipelines on one session bus never share a queue or an event. The
// primary channel keeps the bare name.
func Scoped(channel, name string) string {
	if channel == "" || channel == PrimaryVideo {
		return name
	}
	return channel + "/" + name
}

// The helpers below fix the element type of each well-known channel so
// callers in different packages cannot disagree on it.

// ShutdownEvent is the session-local shutdown latch.
func ShutdownEvent(b *Bus) *Event[bool] { return EventOf[bool](b, Shutdown) }

// BroadcastShutdownEvent is the process-wide shutdown latch. It lives on the
// process bus, not on a session bus.
func BroadcastShutdownEvent(b *Bus) *Event[bool] { return EventOf[bool](b, BroadcastShutdown) }

// BitrateEvent carries the requested video bitrate in kbps.
func BitrateEvent(b *Bus) *Event[int64] { return BitrateEventFor(b, PrimaryVideo) }

// FramerateEvent carries the requested frames per second.
func FramerateEvent(b *Bus) *Event[int64] { return FramerateEventFor(b, PrimaryVideo) }

// PointerEvent carries whether the cursor should be drawn into the capture.
func PointerEvent(b *Bus) *Event[bool] { return PointerEventFor(b, PrimaryVideo) }

// IDREvent requests the next video frame be encoded as a key frame.
func IDREvent(b *Bus) *Event[bool] { return IDREventFor(b, PrimaryVideo) }

// VideoQueue carries encoded video from the capture pipeline to the bridge.
func VideoQueue(b *Bus) *Queue[media.VideoPacket] { return VideoQueueFor(b, PrimaryVideo) }

// BitrateEventFor is BitrateEvent of the named video channel.
func BitrateEventFor(b *Bus, channel string) *Event[int64] {
	return EventOf[int64](b, Scoped(channel, Bitrate))
}

// FramerateEventFor is FramerateEvent of the named video channel.
func FramerateEventFor(b *Bus, channel string) *Event[int64] {
	return EventOf[int64](b, Scoped(channel, Framerate))
}

// PointerEventFor is PointerEvent of the named video channel.
func PointerEventFor(b *Bus, channel string) *Event[bool] {
	return EventOf[bool](b, Scoped(channel, Pointer))
}

// IDREventFor is IDREvent of the named video channel.
func IDREventFor(b *Bus, channel string) *Event[bool] {
	return EventOf[bool](b, Scoped(channel, IDR))
}

// VideoQueueFor is VideoQueue of the named video channel.
func VideoQueueFor(b *Bus, channel string) *Queue[media.VideoPacket] {
	return QueueOf[media.VideoPacket](b, Scoped(channel, VideoPackets), WithCapacity(media.VideoQueueSize))
}

// AudioQueue carries encoded audio from the capture pipeline to the bridge.
func AudioQueue(b *Bus) *Queue[media.AudioPacket] {
	return QueueOf[media.AudioPacket](b, AudioPackets, WithCapacity(media.AudioQueueSize))
}

// InputQueue carries client input from the pull bridge to the injector.
func InputQueue(b *Bus) *Queue[media.InputPacket] {
	return QueueOf[media.InputPacket](b, InputPackets, WithCapacity(media.InputQueueSize))
}
