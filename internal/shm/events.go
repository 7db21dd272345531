package shm

import (
	"fmt"
	"runtime"
	"time"
)

// EventType names one slot of an EventTable.
type EventType int

// Control signals carried across the process boundary.
const (
	EventBitrate EventType = iota
	EventFramerate
	EventPointer
	EventIDR
	numEventTypes = 4
)

// EventTypes returns every event type in table order.
func EventTypes() []EventType {
	return []EventType{EventBitrate, EventFramerate, EventPointer, EventIDR}
}

func (e EventType) String() string {
	switch e {
	case EventBitrate:
		return "bitrate"
	case EventFramerate:
		return "framerate"
	case EventPointer:
		return "pointer"
	case EventIDR:
		return "idr"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

func (e EventType) valid() bool {
	return e >= EventBitrate && e < numEventTypes
}

// Slot layout inside an EventTable. The seq word is odd while a Push is
// writing and advances by two per Push. The popped word holds the seq of the
// last value a Pop returned, so a slot is pending when they differ.
const (
	eventValueOffset  = 0
	eventPoppedOffset = 8
	eventStampOffset  = 16
	eventSeqOffset    = 24
)

// A Pop that keeps finding a write in progress gives up after this many
// attempts and reports nothing pending.
const maxEventPopSpins = 1024

// EventTable holds one latest-wins slot per EventType. A Push on a pending
// slot replaces its value; there is no queueing and no coalescing counter
// beyond the diagnostic Raises count. Each slot has one consumer.
type EventTable struct {
	mem []byte
}

func (t *EventTable) slot(e EventType) int {
	return int(e) * eventSlotSize
}

// Push stores value in the slot for e and marks it pending.
func (t *EventTable) Push(e EventType, value int64) {
	if !e.valid() {
		return
	}
	off := t.slot(e)
	var seq uint64
	for {
		seq = loadUint64(t.mem, off+eventSeqOffset)
		if seq&1 == 0 && casUint64(t.mem, off+eventSeqOffset, seq, seq+1) {
			break
		}
		runtime.Gosched()
	}
	storeUint64(t.mem, off+eventValueOffset, uint64(value))
	storeUint64(t.mem, off+eventStampOffset, uint64(time.Now().UnixNano()))
	storeUint64(t.mem, off+eventSeqOffset, seq+2)
}

// Peek reports whether the slot for e holds a value that has not been popped.
// A Push still in progress counts as pending.
func (t *EventTable) Peek(e EventType) bool {
	if !e.valid() {
		return false
	}
	off := t.slot(e)
	seq := loadUint64(t.mem, off+eventSeqOffset)
	return (seq+1)&^1 != loadUint64(t.mem, off+eventPoppedOffset)
}

// Pop returns the latest value for e and clears the pending flag. The second
// result is false when nothing was pending. The value and the seq it was
// written under are read as a pair, so a Push racing with Pop is either
// returned now or left pending, never both.
func (t *EventTable) Pop(e EventType) (int64, bool) {
	if !e.valid() {
		return 0, false
	}
	off := t.slot(e)
	for range maxEventPopSpins {
		seq := loadUint64(t.mem, off+eventSeqOffset)
		if seq == loadUint64(t.mem, off+eventPoppedOffset) {
			return 0, false
		}
		if seq&1 == 1 {
			runtime.Gosched()
			continue
		}
		v := loadUint64(t.mem, off+eventValueOffset)
		if loadUint64(t.mem, off+eventSeqOffset) != seq {
			continue
		}
		storeUint64(t.mem, off+eventPoppedOffset, seq)
		return int64(v), true
	}
	return 0, false
}

// Stamp returns the time of the latest Push for e, or the zero time.
func (t *EventTable) Stamp(e EventType) time.Time {
	if !e.valid() {
		return time.Time{}
	}
	ns := loadUint64(t.mem, t.slot(e)+eventStampOffset)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns))
}

// Raises returns how many times e has been pushed since the segment was
// created. Comparing it with the number of successful pops shows how many
// values were overwritten before being observed.
func (t *EventTable) Raises(e EventType) uint64 {
	if !e.valid() {
		return 0
	}
	return loadUint64(t.mem, t.slot(e)+eventSeqOffset) / 2
}
