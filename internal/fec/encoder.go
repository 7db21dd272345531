package fec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

// Encoder splits packets into blocks and computes parity for each block.
// It caches one Reed-Solomon codec per (data, parity) geometry and is safe
// for concurrent use.
type Encoder struct {
	g Grouping

	mu     sync.Mutex
	codecs map[[2]int]reedsolomon.Encoder
}

// NewEncoder returns an encoder for g.
func NewEncoder(g Grouping) *Encoder {
	return &Encoder{g: g, codecs: make(map[[2]int]reedsolomon.Encoder)}
}

// Grouping returns the geometry the encoder was built with.
func (e *Encoder) Grouping() Grouping {
	return e.g
}

func (e *Encoder) codec(d, p int) (reedsolomon.Encoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := [2]int{d, p}
	if c, ok := e.codecs[key]; ok {
		return c, nil
	}
	c, err := reedsolomon.New(d, p)
	if err != nil {
		return nil, fmt.Errorf("fec: codec %d+%d: %w", d, p, err)
	}
	e.codecs[key] = c
	return c, nil
}

// Encode splits payload into data shards of exactly ShardSize bytes (the
// last one zero padded), groups them into blocks of at most MaxDataShards
// and appends parity shards to each block.
func (e *Encoder) Encode(frame uint32, flags uint8, payload []byte) ([]Shard, error) {
	g := e.g
	total := g.DataShards(len(payload))
	blocks := g.Blocks(len(payload))
	if blocks > 0xffff {
		return nil, fmt.Errorf("fec: payload of %d bytes needs %d blocks", len(payload), blocks)
	}

	var out []Shard
	off := 0
	for b := range blocks {
		d := min(g.MaxDataShards, total-b*g.MaxDataShards)
		p := g.ParityShards(d)
		end := min(off+d*g.ShardSize, len(payload))
		blockLen := end - off

		shards := make([][]byte, d+p)
		buf := make([]byte, (d+p)*g.ShardSize)
		for i := range shards {
			shards[i] = buf[i*g.ShardSize : (i+1)*g.ShardSize : (i+1)*g.ShardSize]
		}
		copy(buf, payload[off:end])

		c, err := e.codec(d, p)
		if err != nil {
			return nil, err
		}
		if err := c.Encode(shards); err != nil {
			return nil, fmt.Errorf("fec: encode frame %d block %d: %w", frame, b, err)
		}

		for i, data := range shards {
			out = append(out, Shard{
				Frame:        frame,
				Block:        uint16(b),
				Blocks:       uint16(blocks),
				Index:        uint8(i),
				DataShards:   uint8(d),
				ParityShards: uint8(p),
				Flags:        flags,
				BlockLen:     uint32(blockLen),
				Data:         data,
			})
		}
		off = end
	}
	return out, nil
}

// ErrTooFewShards is returned when a block lost more shards than its parity
// can cover.
var ErrTooFewShards = errors.New("fec: too few shards to reconstruct")

// Reconstruct fills in missing (nil) data shards in place. shards must hold
// dataShards+parityShards entries.
func Reconstruct(shards [][]byte, dataShards, parityShards int) error {
	if len(shards) != dataShards+parityShards {
		return fmt.Errorf("fec: got %d shards, want %d", len(shards), dataShards+parityShards)
	}
	present := 0
	for _, s := range shards {
		if len(s) > 0 {
			present++
		}
	}
	if present < dataShards {
		return fmt.Errorf("%w: %d of %d", ErrTooFewShards, present, dataShards)
	}
	c, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return fmt.Errorf("fec: codec %d+%d: %w", dataShards, parityShards, err)
	}
	if err := c.ReconstructData(shards); err != nil {
		return fmt.Errorf("fec: reconstruct: %w", err)
	}
	return nil
}

// DecodeBlock reassembles the payload bytes of one block from any subset of
// its shards large enough to cover the losses.
func DecodeBlock(got []Shard) ([]byte, error) {
	if len(got) == 0 {
		return nil, ErrTooFewShards
	}
	first := got[0]
	d, p := int(first.DataShards), int(first.ParityShards)
	shards := make([][]byte, d+p)
	for _, s := range got {
		if s.Frame != first.Frame || s.Block != first.Block || int(s.DataShards) != d {
			return nil, fmt.Errorf("fec: shard %d/%d does not belong to frame %d block %d",
				s.Frame, s.Block, first.Frame, first.Block)
		}
		if int(s.Index) < len(shards) {
			shards[s.Index] = s.Data
		}
	}
	if err := Reconstruct(shards, d, p); err != nil {
		return nil, err
	}

	out := make([]byte, 0, d*len(first.Data))
	for _, s := range shards[:d] {
		out = append(out, s...)
	}
	if int(first.BlockLen) > len(out) {
		return nil, fmt.Errorf("fec: block length %d exceeds %d data bytes", first.BlockLen, len(out))
	}
	return out[:first.BlockLen], nil
}
