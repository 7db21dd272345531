package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	segmentMagic   = 0x5342_4d31 // "SBM1"
	segmentVersion = 1

	headerSize         = 128
	channelDescOffset  = 64
	channelDescSize    = 16
	metadataSize       = 128
	eventSlotSize      = 32
	eventTableSize     = numEventTypes * eventSlotSize
	ringHeaderSize     = 64
	slotHeaderSize     = 32
	maxDisplayNameSize = metadataSize - metadataDisplayOffset
)

// Default ring geometry. Video slots must hold a full key frame; audio and
// input packets are small.
const (
	DefaultVideoCapacity = 64
	DefaultVideoSlotSize = 1 << 20
	DefaultAudioCapacity = 128
	DefaultAudioSlotSize = 8 << 10
	DefaultInputCapacity = 256
	DefaultInputSlotSize = 4 << 10
)

var (
	// ErrBadSegment is returned when a memory region does not carry a valid
	// segment header.
	ErrBadSegment = errors.New("shm: invalid segment header")
	// ErrPayloadTooLarge is returned by Ring.Push when a packet does not fit
	// in one slot.
	ErrPayloadTooLarge = errors.New("shm: payload larger than slot size")
)

// ChannelLayout is the ring geometry of one logical channel.
type ChannelLayout struct {
	Capacity int `yaml:"capacity"`  // number of slots, power of two
	SlotSize int `yaml:"slot_size"` // maximum payload bytes per slot
}

// Layout describes the geometry of every channel in a segment.
type Layout struct {
	Channels [NumChannels]ChannelLayout
}

// DefaultLayout returns the geometry used when no configuration overrides it.
func DefaultLayout() Layout {
	var l Layout
	l.Channels[Video0] = ChannelLayout{Capacity: DefaultVideoCapacity, SlotSize: DefaultVideoSlotSize}
	l.Channels[Video1] = ChannelLayout{Capacity: DefaultVideoCapacity, SlotSize: DefaultVideoSlotSize}
	l.Channels[Audio] = ChannelLayout{Capacity: DefaultAudioCapacity, SlotSize: DefaultAudioSlotSize}
	l.Channels[Input] = ChannelLayout{Capacity: DefaultInputCapacity, SlotSize: DefaultInputSlotSize}
	return l
}

// Validate checks that every capacity is a power of two and every slot size
// is positive.
func (l Layout) Validate() error {
	for i, c := range l.Channels {
		if c.Capacity < 2 || c.Capacity&(c.Capacity-1) != 0 {
			return fmt.Errorf("shm: %s capacity %d is not a power of two >= 2", ChannelIndex(i), c.Capacity)
		}
		if c.SlotSize <= 0 || c.SlotSize > 1<<30 {
			return fmt.Errorf("shm: %s slot size %d out of range", ChannelIndex(i), c.SlotSize)
		}
	}
	return nil
}

func (c ChannelLayout) stride() int {
	return slotHeaderSize + align8(c.SlotSize)
}

func (c ChannelLayout) size() int {
	return metadataSize + eventTableSize + ringHeaderSize + c.Capacity*c.stride()
}

// offsets returns the byte offset of each channel region.
func (l Layout) offsets() [NumChannels]int {
	var offs [NumChannels]int
	off := headerSize
	for i, c := range l.Channels {
		offs[i] = off
		off += c.size()
	}
	return offs
}

// Size returns the total number of bytes a segment with this layout occupies.
func (l Layout) Size() int {
	size := headerSize
	for _, c := range l.Channels {
		size += c.size()
	}
	return size
}

// writeHeader formats the segment header. Channel regions are expected to be
// zeroed already.
func (l Layout) writeHeader(mem []byte) {
	binary.LittleEndian.PutUint32(mem[0:], segmentMagic)
	binary.LittleEndian.PutUint32(mem[4:], segmentVersion)
	binary.LittleEndian.PutUint32(mem[8:], NumChannels)
	binary.LittleEndian.PutUint64(mem[16:], uint64(l.Size()))
	offs := l.offsets()
	for i, c := range l.Channels {
		d := channelDescOffset + i*channelDescSize
		binary.LittleEndian.PutUint32(mem[d:], uint32(c.Capacity))
		binary.LittleEndian.PutUint32(mem[d+4:], uint32(c.SlotSize))
		binary.LittleEndian.PutUint64(mem[d+8:], uint64(offs[i]))
	}
}

// readLayout parses the segment header written by writeHeader.
func readLayout(mem []byte) (Layout, error) {
	var l Layout
	if len(mem) < headerSize {
		return l, fmt.Errorf("%w: %d bytes, need at least %d", ErrBadSegment, len(mem), headerSize)
	}
	if magic := binary.LittleEndian.Uint32(mem[0:]); magic != segmentMagic {
		return l, fmt.Errorf("%w: magic %#x", ErrBadSegment, magic)
	}
	if v := binary.LittleEndian.Uint32(mem[4:]); v != segmentVersion {
		return l, fmt.Errorf("%w: version %d, want %d", ErrBadSegment, v, segmentVersion)
	}
	if n := binary.LittleEndian.Uint32(mem[8:]); n != NumChannels {
		return l, fmt.Errorf("%w: %d channels, want %d", ErrBadSegment, n, NumChannels)
	}
	for i := range l.Channels {
		d := channelDescOffset + i*channelDescSize
		l.Channels[i] = ChannelLayout{
			Capacity: int(binary.LittleEndian.Uint32(mem[d:])),
			SlotSize: int(binary.LittleEndian.Uint32(mem[d+4:])),
		}
	}
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("%w: %v", ErrBadSegment, err)
	}
	if want := binary.LittleEndian.Uint64(mem[16:]); want != uint64(l.Size()) || len(mem) < l.Size() {
		return l, fmt.Errorf("%w: size %d, header says %d", ErrBadSegment, len(mem), want)
	}
	return l, nil
}
