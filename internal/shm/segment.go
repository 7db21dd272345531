package shm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a closed segment is used.
var ErrClosed = errors.New("shm: segment closed")

// Segment is a shared region holding one ChannelMetadata, EventTable and
// Ring per logical channel, preceded by a header describing the layout.
type Segment struct {
	name     string
	mem      []byte
	layout   Layout
	channels [NumChannels]*Channel

	mu     sync.Mutex
	closed bool
	unmap  func() error
}

// NewSegment allocates a process-local segment. It is used when the capture
// host and the delivery side run in one process, and by tests.
func NewSegment(layout Layout) (*Segment, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	mem := make([]byte, layout.Size())
	format(mem, layout)
	return attach("", mem, nil)
}

// format writes the segment header and ring headers into zeroed memory.
func format(mem []byte, layout Layout) {
	layout.writeHeader(mem)
	offs := layout.offsets()
	for i, c := range layout.Channels {
		ch := carve(mem, offs[i], c, ChannelIndex(i))
		ch.Ring.initHeader()
	}
}

// attach binds channel views onto an already formatted region.
func attach(name string, mem []byte, unmap func() error) (*Segment, error) {
	layout, err := readLayout(mem)
	if err != nil {
		return nil, err
	}
	s := &Segment{
		name:   name,
		mem:    mem,
		layout: layout,
		unmap:  unmap,
	}
	offs := layout.offsets()
	for i, c := range layout.Channels {
		s.channels[i] = carve(mem, offs[i], c, ChannelIndex(i))
	}
	return s, nil
}

func carve(mem []byte, off int, c ChannelLayout, idx ChannelIndex) *Channel {
	end := off + c.size()
	region := mem[off:end:end]
	meta := region[:metadataSize:metadataSize]
	events := region[metadataSize : metadataSize+eventTableSize : metadataSize+eventTableSize]
	ring := region[metadataSize+eventTableSize:]
	return &Channel{
		Index:    idx,
		Metadata: &ChannelMetadata{mem: meta},
		Events:   &EventTable{mem: events},
		Ring:     newRing(ring, c),
	}
}

// Name returns the name the segment was created or opened with, or "" for
// a process-local segment.
func (s *Segment) Name() string {
	return s.name
}

// Layout returns the geometry recorded in the segment header.
func (s *Segment) Layout() Layout {
	return s.layout
}

// Size returns the segment size in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

// Channel returns the views of one logical channel.
func (s *Segment) Channel(idx ChannelIndex) (*Channel, error) {
	if !idx.Valid() {
		return nil, fmt.Errorf("shm: invalid channel index %d", int(idx))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.channels[idx], nil
}

// Close releases the mapping. Channel views must not be used afterwards.
// Closing twice is a no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.unmap != nil {
		return s.unmap()
	}
	return nil
}
