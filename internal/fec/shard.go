package fec

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the header preceding every shard on the wire.
const HeaderSize = 16

// FlagKeyFrame marks shards of a video key frame.
const FlagKeyFrame = 1 << 0

// Shard is one data or parity shard of a block.
//
// Wire layout, big endian:
//
//	0  frame        u32
//	4  block        u16
//	6  index        u8
//	7  data shards  u8
//	8  parity       u8
//	9  flags        u8
//	10 blocks       u16
//	12 block length u32  (payload bytes carried by the block's data shards)
//	16 data
type Shard struct {
	Frame        uint32
	Block        uint16
	Blocks       uint16
	Index        uint8
	DataShards   uint8
	ParityShards uint8
	Flags        uint8
	BlockLen     uint32
	Data         []byte
}

// IsParity reports whether the shard carries parity rather than payload.
func (s Shard) IsParity() bool {
	return s.Index >= s.DataShards
}

// MarshalBinary encodes the header followed by the shard data.
func (s Shard) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, HeaderSize+len(s.Data)))
}

// AppendBinary appends the encoded shard to b.
func (s Shard) AppendBinary(b []byte) ([]byte, error) {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], s.Frame)
	binary.BigEndian.PutUint16(hdr[4:], s.Block)
	hdr[6] = s.Index
	hdr[7] = s.DataShards
	hdr[8] = s.ParityShards
	hdr[9] = s.Flags
	binary.BigEndian.PutUint16(hdr[10:], s.Blocks)
	binary.BigEndian.PutUint32(hdr[12:], s.BlockLen)
	b = append(b, hdr[:]...)
	return append(b, s.Data...), nil
}

// UnmarshalShard parses a shard produced by MarshalBinary. The returned
// shard's Data aliases b.
func UnmarshalShard(b []byte) (Shard, error) {
	if len(b) < HeaderSize {
		return Shard{}, fmt.Errorf("fec: shard too short: %d bytes", len(b))
	}
	s := Shard{
		Frame:        binary.BigEndian.Uint32(b[0:]),
		Block:        binary.BigEndian.Uint16(b[4:]),
		Index:        b[6],
		DataShards:   b[7],
		ParityShards: b[8],
		Flags:        b[9],
		Blocks:       binary.BigEndian.Uint16(b[10:]),
		BlockLen:     binary.BigEndian.Uint32(b[12:]),
		Data:         b[HeaderSize:],
	}
	if s.DataShards == 0 || int(s.DataShards)+int(s.ParityShards) > MaxShards {
		return Shard{}, fmt.Errorf("fec: bad shard geometry %d+%d", s.DataShards, s.ParityShards)
	}
	if s.Index >= s.DataShards+s.ParityShards {
		return Shard{}, fmt.Errorf("fec: shard index %d out of range", s.Index)
	}
	return s, nil
}
