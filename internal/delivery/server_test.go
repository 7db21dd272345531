package delivery

import (
	"errors"
	"testing"

	"github.com/zsiec/sunbeam/internal/certs"
	"github.com/zsiec/sunbeam/internal/shm"
)

func TestNewServer(t *testing.T) {
	t.Parallel()
	seg := testSegment(t)
	cert, err := certs.Generate(certs.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New(Options{Segment: seg}); !errors.Is(err, ErrNoTLS) {
		t.Errorf("got %v, want ErrNoTLS", err)
	}

	s, err := New(Options{
		Segment:  seg,
		Grouping: testGrouping(t),
		BasePort: 47989,
		Buffer:   8,
		TLS:      cert.ServerConfig(ControlALPN),
		Codec:    shm.CodecAV1,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range []shm.ChannelIndex{shm.Video0, shm.Video1, shm.Audio} {
		if s.Relay(idx) == nil {
			t.Errorf("no relay for %s", idx)
		}
	}
	if s.Relay(shm.Input) != nil {
		t.Error("input must not have a relay")
	}

	info := s.StreamInfo()
	if info.Session != s.ID() || info.Codec != "av1" {
		t.Errorf("got %+v", info)
	}
	if info.Ports.Control != 47990 || info.Ports.Video != 47991 || info.Ports.Audio != 47992 {
		t.Errorf("ports: got %+v", info.Ports)
	}
	if len(info.Channels) != 3 {
		t.Errorf("channels: got %v", info.Channels)
	}
}

func TestSRTResolve(t *testing.T) {
	t.Parallel()
	s := NewSRTServer(":0", map[string]*Relay{
		"video0": NewRelay("video0", 1, nil, nil),
		"video1": NewRelay("video1", 1, nil, nil),
	}, "video0", nil)

	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"", "video0", true},
		{"/", "video0", true},
		{"video1", "video1", true},
		{"/live/VIDEO1", "video1", true},
		{"audio", "audio", false},
	}
	for _, tt := range tests {
		got, ok := s.resolve(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("resolve(%q): got %q %v, want %q %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}
