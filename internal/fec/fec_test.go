package fec

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveMinFourPacketSize1024(t *testing.T) {
	t.Parallel()
	g, err := Derive(4, 1024, 0)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if g.ShardSize != 1024 {
		t.Errorf("shard size: got %d, want 1024", g.ShardSize)
	}
	if g.Percentage != DefaultPercentage {
		t.Errorf("percentage: got %d, want %d", g.Percentage, DefaultPercentage)
	}
	if got := g.ParityShards(4); got != 4 {
		t.Errorf("parity for 4 data shards: got %d, want 4", got)
	}
	if g.MaxDataShards != 212 {
		t.Errorf("max data shards: got %d, want 212", g.MaxDataShards)
	}
	for d := 1; d <= g.MaxDataShards; d++ {
		if p := g.ParityShards(d); p < 4 || d+p > MaxShards {
			t.Fatalf("d=%d: parity %d violates bounds", d, p)
		}
	}
}

func TestParityShards(t *testing.T) {
	t.Parallel()
	g, _ := Derive(0, 1024, 20)
	tests := []struct{ d, want int }{
		{1, 1},
		{5, 1},
		{6, 2},
		{10, 2},
		{100, 20},
	}
	for _, tt := range tests {
		if got := g.ParityShards(tt.d); got != tt.want {
			t.Errorf("ParityShards(%d): got %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ min, size, pct int }{
		{4, 0, 20},
		{-1, 1024, 20},
		{4, 1024, -5},
		{255, 1024, 20},
	} {
		if _, err := Derive(tc.min, tc.size, tc.pct); !errors.Is(err, ErrInvalidGrouping) {
			t.Errorf("Derive(%d, %d, %d): got %v, want ErrInvalidGrouping", tc.min, tc.size, tc.pct, err)
		}
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestEncodeShardsAligned(t *testing.T) {
	t.Parallel()
	g, _ := Derive(4, 1024, 0)
	enc := NewEncoder(g)

	shards, err := enc.Encode(1, FlagKeyFrame, payload(3500))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// 3500 bytes -> 4 data shards, 4 parity.
	if len(shards) != 8 {
		t.Fatalf("shards: got %d, want 8", len(shards))
	}
	for i, s := range shards {
		if len(s.Data) != 1024 {
			t.Errorf("shard %d: got %d bytes, want 1024", i, len(s.Data))
		}
		if s.DataShards != 4 || s.ParityShards != 4 {
			t.Errorf("shard %d: geometry %d+%d", i, s.DataShards, s.ParityShards)
		}
		if s.IsParity() != (i >= 4) {
			t.Errorf("shard %d: IsParity %v", i, s.IsParity())
		}
	}
}

func TestEncodeRecoversFromShardLoss(t *testing.T) {
	t.Parallel()
	g, _ := Derive(4, 1024, 0)
	enc := NewEncoder(g)
	want := payload(4 * 1024)

	shards, err := enc.Encode(9, 0, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for drop := range shards {
		kept := make([]Shard, 0, len(shards)-1)
		for i, s := range shards {
			if i != drop {
				kept = append(kept, s)
			}
		}
		got, err := DecodeBlock(kept)
		if err != nil {
			t.Fatalf("drop %d: DecodeBlock: %v", drop, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("drop %d: payload mismatch", drop)
		}
	}

	// Four losses are still covered by four parity shards.
	got, err := DecodeBlock(shards[4:])
	if err != nil {
		t.Fatalf("parity only: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("parity only: payload mismatch")
	}

	if _, err := DecodeBlock(shards[5:]); !errors.Is(err, ErrTooFewShards) {
		t.Errorf("five losses: got %v, want ErrTooFewShards", err)
	}
}

func TestEncodeSplitsLargePayloadIntoBlocks(t *testing.T) {
	t.Parallel()
	g, _ := Derive(1, 100, 10)
	enc := NewEncoder(g)

	n := (g.MaxDataShards + 3) * 100
	shards, err := enc.Encode(2, 0, payload(n))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if g.Blocks(n) != 2 {
		t.Fatalf("blocks: got %d, want 2", g.Blocks(n))
	}
	blocks := map[uint16][]Shard{}
	for _, s := range shards {
		if s.Blocks != 2 {
			t.Fatalf("blocks field: got %d, want 2", s.Blocks)
		}
		blocks[s.Block] = append(blocks[s.Block], s)
	}
	var got []byte
	for b := uint16(0); b < 2; b++ {
		part, err := DecodeBlock(blocks[b])
		if err != nil {
			t.Fatalf("block %d: %v", b, err)
		}
		got = append(got, part...)
	}
	if !bytes.Equal(got, payload(n)) {
		t.Error("reassembled payload mismatch")
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	t.Parallel()
	g, _ := Derive(2, 64, 0)
	shards, err := NewEncoder(g).Encode(0, 0, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(shards) != 3 {
		t.Fatalf("shards: got %d, want 3", len(shards))
	}
	got, err := DecodeBlock(shards)
	if err != nil || len(got) != 0 {
		t.Errorf("got %v %v, want empty payload", got, err)
	}
}

func TestShardWireRoundTrip(t *testing.T) {
	t.Parallel()
	in := Shard{
		Frame: 77, Block: 1, Blocks: 3, Index: 5,
		DataShards: 4, ParityShards: 4, Flags: FlagKeyFrame,
		BlockLen: 4000, Data: []byte("shard-bytes"),
	}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != HeaderSize+len(in.Data) {
		t.Fatalf("len: got %d", len(b))
	}
	out, err := UnmarshalShard(b)
	if err != nil {
		t.Fatalf("UnmarshalShard: %v", err)
	}
	if out.Frame != in.Frame || out.Block != in.Block || out.Blocks != in.Blocks ||
		out.Index != in.Index || out.Flags != in.Flags || out.BlockLen != in.BlockLen ||
		!bytes.Equal(out.Data, in.Data) {
		t.Errorf("got %+v, want %+v", out, in)
	}

	if _, err := UnmarshalShard(b[:8]); err == nil {
		t.Error("short shard should fail")
	}
	b[6] = 200
	if _, err := UnmarshalShard(b); err == nil {
		t.Error("out-of-range index should fail")
	}
}
