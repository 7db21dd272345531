package delivery

import (
	"testing"

	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/shm"
)

func testSegment(t *testing.T) *shm.Segment {
	t.Helper()
	var l shm.Layout
	for i := range l.Channels {
		l.Channels[i] = shm.ChannelLayout{Capacity: 16, SlotSize: 4096}
	}
	seg, err := shm.NewSegment(l)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func channel(t *testing.T, seg *shm.Segment, idx shm.ChannelIndex) *shm.Channel {
	t.Helper()
	ch, err := seg.Channel(idx)
	if err != nil {
		t.Fatalf("Channel(%s): %v", idx, err)
	}
	return ch
}

func testGrouping(t *testing.T) fec.Grouping {
	t.Helper()
	g, err := fec.Derive(4, 1024, 20)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return g
}
