package shm

import (
	"fmt"
)

const (
	metadataActiveOffset     = 0
	metadataCodecOffset      = 4
	metadataDisplayLenOffset = 8
	metadataDisplayOffset    = 16
)

// Codec identifies the encoding of a channel's packets. Video values match
// the client's videoFormat field.
type Codec uint32

// Known codecs.
const (
	CodecH264 Codec = 0
	CodecHEVC Codec = 1
	CodecAV1  Codec = 2
	CodecOpus Codec = 16
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAV1:
		return "av1"
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ChannelMetadata is the side channel of one ring. The session owner writes
// the display and codec before a pipeline starts; bridge loops flip Active on
// entry and exit, which makes it the cross-process liveness indicator.
type ChannelMetadata struct {
	mem []byte
}

// SetActive records whether a bridge loop is currently servicing the channel.
func (m *ChannelMetadata) SetActive(active bool) {
	var v uint32
	if active {
		v = 1
	}
	storeUint32(m.mem, metadataActiveOffset, v)
}

// Active reports whether a bridge loop is servicing the channel.
func (m *ChannelMetadata) Active() bool {
	return loadUint32(m.mem, metadataActiveOffset) == 1
}

// SetCodec records the codec the capture pipeline should encode with.
func (m *ChannelMetadata) SetCodec(c Codec) {
	storeUint32(m.mem, metadataCodecOffset, uint32(c))
}

// Codec returns the codec recorded by the session owner.
func (m *ChannelMetadata) Codec() Codec {
	return Codec(loadUint32(m.mem, metadataCodecOffset))
}

// SetDisplay records the name of the display to capture. It must be called
// before the capture pipeline starts; readers do not synchronize with a
// concurrent rename.
func (m *ChannelMetadata) SetDisplay(name string) error {
	if len(name) > maxDisplayNameSize {
		return fmt.Errorf("shm: display name %q longer than %d bytes", name, maxDisplayNameSize)
	}
	storeUint32(m.mem, metadataDisplayLenOffset, 0)
	n := copy(m.mem[metadataDisplayOffset:metadataSize], name)
	clear(m.mem[metadataDisplayOffset+n : metadataSize])
	storeUint32(m.mem, metadataDisplayLenOffset, uint32(n))
	return nil
}

// Display returns the display name, or "" if none was set.
func (m *ChannelMetadata) Display() string {
	n := int(loadUint32(m.mem, metadataDisplayLenOffset))
	if n > maxDisplayNameSize {
		return ""
	}
	return string(m.mem[metadataDisplayOffset : metadataDisplayOffset+n])
}
