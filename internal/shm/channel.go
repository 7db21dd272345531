package shm

import (
	"fmt"
	"strings"

	"github.com/zsiec/sunbeam/internal/media"
)

// ChannelIndex selects one logical channel inside a segment. The set is
// closed: two video displays, one audio stream and the input stream.
type ChannelIndex int

// Logical channels.
const (
	Video0 ChannelIndex = iota
	Video1
	Audio
	Input
)

// NumChannels is the number of logical channels every segment carries.
const NumChannels = 4

// Channels returns every channel index in segment order.
func Channels() []ChannelIndex {
	return []ChannelIndex{Video0, Video1, Audio, Input}
}

func (c ChannelIndex) String() string {
	switch c {
	case Video0:
		return "video0"
	case Video1:
		return "video1"
	case Audio:
		return "audio"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Valid reports whether c names one of the four logical channels.
func (c ChannelIndex) Valid() bool {
	return c >= Video0 && c <= Input
}

// Kind returns the media kind carried by the channel.
func (c ChannelIndex) Kind() media.Kind {
	switch c {
	case Audio:
		return media.KindAudio
	case Input:
		return media.KindInput
	default:
		return media.KindVideo
	}
}

// Egress reports whether the channel flows from the capture host to the
// delivery process. Input is the only ingress channel.
func (c ChannelIndex) Egress() bool {
	return c != Input
}

// ParseChannel maps a process argument such as "video0" or "audio" (case
// insensitive, numeric indexes accepted) to a ChannelIndex.
func ParseChannel(s string) (ChannelIndex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video0", "video", "0":
		return Video0, nil
	case "video1", "1":
		return Video1, nil
	case "audio", "2":
		return Audio, nil
	case "input", "3":
		return Input, nil
	}
	return 0, fmt.Errorf("shm: unknown channel %q (want video0, video1, audio or input)", s)
}

// Channel bundles the three views of one logical channel.
type Channel struct {
	Index    ChannelIndex
	Metadata *ChannelMetadata
	Events   *EventTable
	Ring     *Ring
}
