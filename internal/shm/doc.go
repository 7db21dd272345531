// Package shm implements the cross-process channel between the capture host
// and the delivery process: a segment holding, per logical channel, a
// ChannelMetadata block, an EventTable of latest-wins control signals and a
// Ring of variable-length packets.
//
// Every region is addressed by index arithmetic over a single byte slice, so
// the same code runs on process-local memory (NewSegment) and on a named
// memory-mapped file (Create/Open). Rings and event tables are
// single-producer/single-consumer per direction and synchronize only through
// atomic loads and stores on 64-bit words.
//
// # Loss policy
//
// Rings never apply backpressure. A producer that laps its consumer
// overwrites the oldest slot; the consumer notices through index arithmetic,
// skips to the oldest slot that is still intact and counts the skipped
// packets in Reader.Lost. Freshness wins over completeness for every egress
// channel, audio included.
package shm
