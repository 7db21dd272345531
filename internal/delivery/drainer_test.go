package delivery

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
)

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestDrainerEncodesFromLiveEdge(t *testing.T) {
	t.Parallel()
	seg := testSegment(t)
	ch := channel(t, seg, shm.Video0)
	if err := ch.Ring.Push([]byte("before"), shm.Metadata{}); err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	r := NewRelay("video0", 256, m, nil)
	sub := r.Subscribe("t")
	d, err := NewDrainer(ch, fec.NewEncoder(testGrouping(t)), r, time.Millisecond, m, nil)
	if err != nil {
		t.Fatal(err)
	}

	frame := payload(3000, 7)
	if err := ch.Ring.Push(frame, shm.Metadata{KeyFrame: true, PTS: 90}); err != nil {
		t.Fatal(err)
	}
	if err := d.drain(make([]byte, ch.Ring.SlotSize())); err != nil {
		t.Fatalf("drain: %v", err)
	}

	var shards []fec.Shard
	for _, b := range drainSub(sub) {
		s, err := fec.UnmarshalShard([]byte(b))
		if err != nil {
			t.Fatalf("UnmarshalShard: %v", err)
		}
		shards = append(shards, s)
	}
	if len(shards) == 0 {
		t.Fatal("no shards delivered")
	}
	for _, s := range shards {
		if s.Frame != 1 {
			t.Errorf("frame: got %d, want 1 (ring index, stale packet skipped)", s.Frame)
		}
		if s.Flags&fec.FlagKeyFrame == 0 {
			t.Error("key frame flag not set")
		}
	}

	// Drop as many shards as the parity covers and still recover.
	lossy := shards[shards[0].ParityShards:]
	got, err := fec.DecodeBlock(lossy)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Error("recovered payload differs")
	}
	if got := testutil.ToFloat64(m.PacketsForwarded.WithLabelValues("video0")); got != 1 {
		t.Errorf("forwarded: got %v, want 1", got)
	}
}

func TestDrainerCountsOverrun(t *testing.T) {
	t.Parallel()
	seg := testSegment(t)
	ch := channel(t, seg, shm.Audio)
	m := metrics.New()
	r := NewRelay("audio", 1024, m, nil)
	d, err := NewDrainer(ch, fec.NewEncoder(testGrouping(t)), r, time.Millisecond, m, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 20 {
		if err := ch.Ring.Push(payload(100, byte(i)), shm.Metadata{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.drain(nil); err != nil {
		t.Fatal(err)
	}
	// Capacity 16: the reader resyncs to the last 16 packets.
	if got := testutil.ToFloat64(m.PacketsLost.WithLabelValues("audio")); got != 4 {
		t.Errorf("lost: got %v, want 4", got)
	}
	if d.packets != 16 {
		t.Errorf("packets: got %d, want 16", d.packets)
	}
}

func TestDrainerRejectsIngress(t *testing.T) {
	t.Parallel()
	seg := testSegment(t)
	if _, err := NewDrainer(channel(t, seg, shm.Input), nil, nil, 0, nil, nil); err == nil {
		t.Error("expected error for input channel")
	}
}

func TestDrainerRunStops(t *testing.T) {
	t.Parallel()
	seg := testSegment(t)
	ch := channel(t, seg, shm.Video1)
	d, err := NewDrainer(ch, fec.NewEncoder(testGrouping(t)), NewRelay("video1", 8, nil, nil), time.Millisecond, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
