package delivery

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/sunbeam/internal/metrics"
)

func shardsOf(tags ...string) [][]byte {
	out := make([][]byte, len(tags))
	for i, s := range tags {
		out[i] = []byte(s)
	}
	return out
}

func drainSub(s *Subscriber) []string {
	var got []string
	for {
		select {
		case b := <-s.C():
			got = append(got, string(b))
		default:
			return got
		}
	}
}

func TestRelayFanout(t *testing.T) {
	t.Parallel()
	r := NewRelay("video0", 16, nil, nil)
	a := r.Subscribe("a")
	b := r.Subscribe("b")
	if r.Count() != 2 {
		t.Fatalf("got %d subscribers, want 2", r.Count())
	}

	r.Broadcast(shardsOf("1", "2"), false)
	for _, s := range []*Subscriber{a, b} {
		got := drainSub(s)
		if len(got) != 2 || got[0] != "1" || got[1] != "2" {
			t.Errorf("%s: got %v, want [1 2]", s.ID(), got)
		}
	}

	r.Unsubscribe("a")
	r.Unsubscribe("a")
	r.Broadcast(shardsOf("3"), false)
	if got := drainSub(a); len(got) != 0 {
		t.Errorf("unsubscribed got %v", got)
	}
	if got := drainSub(b); len(got) != 1 {
		t.Errorf("got %v, want [3]", got)
	}
}

func TestRelaySlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	r := NewRelay("audio", 2, m, nil)
	s := r.Subscribe("slow")

	r.Broadcast(shardsOf("1", "2", "3", "4", "5"), false)
	if s.Dropped() != 3 {
		t.Errorf("got %d dropped, want 3", s.Dropped())
	}
	if got := testutil.ToFloat64(m.SubscriberDrops.WithLabelValues("audio")); got != 3 {
		t.Errorf("drop metric: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ShardsSent.WithLabelValues("audio")); got != 2 {
		t.Errorf("sent metric: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Subscribers.WithLabelValues("audio")); got != 1 {
		t.Errorf("subscriber gauge: got %v, want 1", got)
	}
}

func TestRelayReplaysKeyFrameGroup(t *testing.T) {
	t.Parallel()
	r := NewRelay("video0", 64, nil, nil)

	r.Broadcast(shardsOf("stale"), false)
	r.Broadcast(shardsOf("k1", "k2"), true)
	r.Broadcast(shardsOf("d1"), false)

	late := r.Subscribe("late")
	got := drainSub(late)
	want := []string{"k1", "k2", "d1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shard %d: got %q, want %q", i, got[i], want[i])
		}
	}

	r.Broadcast(shardsOf("k3"), true)
	again := r.Subscribe("again")
	if got := drainSub(again); len(got) != 1 || got[0] != "k3" {
		t.Errorf("cache should restart at each key frame, got %v", got)
	}
}

func TestRelayNoCacheWithoutKeyFrames(t *testing.T) {
	t.Parallel()
	r := NewRelay("audio", 8, nil, nil)
	r.Broadcast(shardsOf("a1", "a2"), false)
	if got := drainSub(r.Subscribe("x")); len(got) != 0 {
		t.Errorf("got %v, want nothing replayed", got)
	}
}
