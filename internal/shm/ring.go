package shm

import (
	"fmt"
	"sync/atomic"
)

// Ring header and slot header layout.
const (
	ringWriteIndexOffset = 0
	ringCapacityOffset   = 8
	ringSlotSizeOffset   = 16

	slotStampOffset  = 0
	slotLengthOffset = 8
	slotFlagsOffset  = 12
	slotPTSOffset    = 16

	flagKeyFrame = 1 << 0
)

// Metadata travels with each packet. Only video sets KeyFrame; audio and
// input packets carry the zero value.
type Metadata struct {
	KeyFrame bool
	PTS      int64
}

// Packet is one entry read from a Ring.
type Packet struct {
	Index uint64 // monotonic write index of the packet
	Data  []byte
	Meta  Metadata
}

// Ring is a fixed-capacity circular buffer of variable-length packets with a
// monotonic write index. Slot i holds the packet written at index i mod N.
// Push is owned by exactly one producer; each Reader is owned by exactly one
// consumer.
type Ring struct {
	mem      []byte // header followed by slots
	capacity uint64
	mask     uint64
	slotSize int
	stride   int
}

func newRing(mem []byte, c ChannelLayout) *Ring {
	r := &Ring{
		mem:      mem,
		capacity: uint64(c.Capacity),
		mask:     uint64(c.Capacity - 1),
		slotSize: c.SlotSize,
		stride:   c.stride(),
	}
	return r
}

// initHeader records the geometry in the ring header for external tooling.
func (r *Ring) initHeader() {
	storeUint64(r.mem, ringCapacityOffset, r.capacity)
	storeUint64(r.mem, ringSlotSizeOffset, uint64(r.slotSize))
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// SlotSize returns the largest payload one slot can hold.
func (r *Ring) SlotSize() int {
	return r.slotSize
}

// WriteIndex returns the number of packets pushed since the segment was
// created. It only ever grows.
func (r *Ring) WriteIndex() uint64 {
	return loadUint64(r.mem, ringWriteIndexOffset)
}

func (r *Ring) slotOffset(idx uint64) int {
	return ringHeaderSize + int(idx&r.mask)*r.stride
}

// Push appends one packet, overwriting the oldest slot when the ring is
// full. It never blocks. The only error is ErrPayloadTooLarge, in which case
// nothing is written and the write index does not move.
func (r *Ring) Push(data []byte, md Metadata) error {
	if len(data) > r.slotSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data), r.slotSize)
	}

	idx := r.WriteIndex()
	off := r.slotOffset(idx)

	// A zero stamp marks the slot as being rewritten so that a reader
	// copying the previous occupant notices the overlap.
	storeUint64(r.mem, off+slotStampOffset, 0)

	var flags uint32
	if md.KeyFrame {
		flags |= flagKeyFrame
	}
	storeUint32(r.mem, off+slotLengthOffset, uint32(len(data)))
	storeUint32(r.mem, off+slotFlagsOffset, flags)
	storeUint64(r.mem, off+slotPTSOffset, uint64(md.PTS))
	copy(r.mem[off+slotHeaderSize:], data)

	storeUint64(r.mem, off+slotStampOffset, idx+1)
	storeUint64(r.mem, ringWriteIndexOffset, idx+1)
	return nil
}

// read copies the packet at idx into dst. It returns false if the slot no
// longer holds idx, either before or after the copy.
func (r *Ring) read(idx uint64, dst []byte) (Packet, bool) {
	off := r.slotOffset(idx)
	if loadUint64(r.mem, off+slotStampOffset) != idx+1 {
		return Packet{}, false
	}

	n := int(loadUint32(r.mem, off+slotLengthOffset))
	flags := loadUint32(r.mem, off+slotFlagsOffset)
	pts := int64(loadUint64(r.mem, off+slotPTSOffset))
	if n > r.slotSize {
		return Packet{}, false
	}
	payload := off + slotHeaderSize
	data := append(dst[:0], r.mem[payload:payload+n]...)

	if loadUint64(r.mem, off+slotStampOffset) != idx+1 {
		return Packet{}, false
	}
	return Packet{
		Index: idx,
		Data:  data,
		Meta:  Metadata{KeyFrame: flags&flagKeyFrame != 0, PTS: pts},
	}, true
}

// Reader is a consumer cursor over a Ring. It is not safe for concurrent use;
// Lost and Cursor may be read from any goroutine.
type Reader struct {
	ring   *Ring
	cursor atomic.Uint64
	lost   atomic.Uint64
}

// NewReader returns a Reader positioned at the first packet ever written.
func NewReader(r *Ring) *Reader {
	return NewReaderAt(r, 0)
}

// NewReaderAt returns a Reader positioned at index. Use r.WriteIndex() to
// attach at the live edge and skip packets left by a previous session.
func NewReaderAt(r *Ring, index uint64) *Reader {
	rd := &Reader{ring: r}
	rd.cursor.Store(index)
	return rd
}

// Next copies the next unread packet into dst (which may be nil) and
// advances the cursor. It returns false when the reader has caught up with
// the producer. Packets overwritten before they could be read are skipped
// and counted in Lost.
func (rd *Reader) Next(dst []byte) (Packet, bool) {
	for {
		cur := rd.cursor.Load()
		w := rd.ring.WriteIndex()
		if cur >= w {
			return Packet{}, false
		}
		if w-cur > rd.ring.capacity {
			next := w - rd.ring.capacity
			rd.lost.Add(next - cur)
			rd.cursor.Store(next)
			cur = next
		}

		p, ok := rd.ring.read(cur, dst)
		if ok {
			rd.cursor.Store(cur + 1)
			return p, true
		}

		// The slot was rewritten under us. Re-sampling the write index
		// normally fast-forwards past it; if the producer has not
		// published the new index yet, give the slot up explicitly.
		if rd.ring.WriteIndex()-cur <= rd.ring.capacity {
			rd.lost.Add(1)
			rd.cursor.Store(cur + 1)
		}
	}
}

// Cursor returns the index of the next packet the reader will return.
func (rd *Reader) Cursor() uint64 {
	return rd.cursor.Load()
}

// Lost returns how many packets were overwritten before this reader
// reached them.
func (rd *Reader) Lost() uint64 {
	return rd.lost.Load()
}

// Lag returns how many packets are waiting to be read, capped at capacity.
func (rd *Reader) Lag() uint64 {
	w := rd.ring.WriteIndex()
	cur := rd.cursor.Load()
	if cur >= w {
		return 0
	}
	return min(w-cur, rd.ring.capacity)
}
