// Package fec sizes forward error correction groups and produces
// Reed-Solomon shards for encoded media packets.
//
// Every shard a session emits has the same size, the configured packet
// size, so shard boundaries line up across consecutive packets and a client
// can allocate reassembly buffers once.
package fec

import (
	"errors"
	"fmt"
)

const (
	// DefaultPercentage is the parity overhead used when none is configured.
	DefaultPercentage = 20
	// MaxShards is the largest data+parity count of one block.
	MaxShards = 255
	// MaxShardSize bounds the configured packet size.
	MaxShardSize = 64 << 10
)

// ErrInvalidGrouping is returned when FEC parameters cannot produce a usable
// grouping.
var ErrInvalidGrouping = errors.New("fec: invalid grouping")

// Grouping is the FEC geometry derived for one session.
type Grouping struct {
	ShardSize     int `msgpack:"shard_size"`
	Percentage    int `msgpack:"percentage"`
	MinParity     int `msgpack:"min_parity"`
	MaxDataShards int `msgpack:"max_data_shards"`
}

// Derive computes the grouping for a session from the client's minimum
// required parity count and the negotiated packet size. A percentage of 0
// selects DefaultPercentage.
func Derive(minRequired, packetSize, percentage int) (Grouping, error) {
	if packetSize <= 0 || packetSize > MaxShardSize {
		return Grouping{}, fmt.Errorf("%w: packet size %d", ErrInvalidGrouping, packetSize)
	}
	if minRequired < 0 {
		return Grouping{}, fmt.Errorf("%w: min required packets %d", ErrInvalidGrouping, minRequired)
	}
	if percentage == 0 {
		percentage = DefaultPercentage
	}
	if percentage < 0 || percentage > 255 {
		return Grouping{}, fmt.Errorf("%w: percentage %d", ErrInvalidGrouping, percentage)
	}

	g := Grouping{
		ShardSize:  packetSize,
		Percentage: percentage,
		MinParity:  max(minRequired, 1),
	}
	for d := MaxShards - 1; d >= 1; d-- {
		if d+g.ParityShards(d) <= MaxShards {
			g.MaxDataShards = d
			break
		}
	}
	if g.MaxDataShards == 0 {
		return Grouping{}, fmt.Errorf("%w: %d parity shards leave no room for data", ErrInvalidGrouping, g.MinParity)
	}
	return g, nil
}

// ParityShards returns how many parity shards protect a block of d data
// shards. The block survives the loss of any ParityShards(d) shards.
func (g Grouping) ParityShards(d int) int {
	p := (d*g.Percentage + 99) / 100
	return max(p, g.MinParity)
}

// DataShards returns how many data shards a payload of n bytes occupies.
func (g Grouping) DataShards(n int) int {
	if n == 0 {
		return 1
	}
	return (n + g.ShardSize - 1) / g.ShardSize
}

// Blocks returns how many FEC blocks a payload of n bytes is split into.
func (g Grouping) Blocks(n int) int {
	d := g.DataShards(n)
	return (d + g.MaxDataShards - 1) / g.MaxDataShards
}
