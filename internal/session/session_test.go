package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/sunbeam/internal/bridge"
	"github.com/zsiec/sunbeam/internal/capture"
	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/media"
	"github.com/zsiec/sunbeam/internal/shm"
)

var (
	testKey = bytes.Repeat([]byte{0x11}, KeySize)
	testIV  = bytes.Repeat([]byte{0x22}, KeySize)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Video.Framerate = 500
	cfg.Audio.PacketDuration = 2
	return cfg
}

func newSegment(t *testing.T) *shm.Segment {
	t.Helper()
	var l shm.Layout
	for i := range l.Channels {
		l.Channels[i] = shm.ChannelLayout{Capacity: 64, SlotSize: 64 << 10}
	}
	seg, err := shm.NewSegment(l)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func newDeps(t *testing.T, p capture.Platform) Deps {
	t.Helper()
	return Deps{
		Segment:      newSegment(t),
		Process:      mail.New(nil),
		Platform:     p,
		PollInterval: time.Millisecond,
		BasePort:     47989,
	}
}

func allocSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	s, err := Alloc(testConfig(), testKey, testIV, deps)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return s
}

func channel(t *testing.T, seg *shm.Segment, idx shm.ChannelIndex) *shm.Channel {
	t.Helper()
	ch, err := seg.Channel(idx)
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func joinWithin(t *testing.T, s *Session, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Join() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatalf("Join did not return within %v", d)
		return nil
	}
}

func TestAllocValidates(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil))

	if _, err := Alloc(testConfig(), testKey[:8], testIV, deps); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key: got %v, want ErrInvalidKey", err)
	}
	bad := testConfig()
	bad.Video.Framerate = 0
	if _, err := Alloc(bad, testKey, testIV, deps); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad config: got %v, want ErrInvalidConfig", err)
	}

	s := allocSession(t, deps)
	if s.State() != Stopped {
		t.Errorf("state: got %s, want stopped", s.State())
	}
	key, iv := s.Key()
	if !bytes.Equal(key[:], testKey) || !bytes.Equal(iv[:], testIV) {
		t.Error("key material not copied")
	}
}

func TestAllocCopiesConfig(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil))
	cfg := testConfig()
	cfg.ColorSpaces = map[string]int{"DP-1": 2}

	s, err := Alloc(cfg, testKey, testIV, deps)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	cfg.ColorSpaces["DP-1"] = 9
	cfg.Video.Bitrate = 1
	if got := s.Config(); got.ColorSpaces["DP-1"] != 2 || got.Video.Bitrate != 1000 {
		t.Errorf("session config changed with caller's copy: %+v", got)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{GOP: 10}, nil))
	s := allocSession(t, deps)

	if err := s.Start("192.168.1.20:50000"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Running {
		t.Fatalf("state: got %s, want running", s.State())
	}

	video := channel(t, deps.Segment, shm.Video0)
	audio := channel(t, deps.Segment, shm.Audio)
	waitFor(t, "video and audio in the rings", func() bool {
		return video.Ring.WriteIndex() >= 5 && audio.Ring.WriteIndex() >= 5
	})
	if !video.Metadata.Active() || !channel(t, deps.Segment, shm.Input).Metadata.Active() {
		t.Error("channels should be active while running")
	}

	info := s.Info()
	if info.Endpoints.Client != "192.168.1.20" || info.Endpoints.Control != 47990 ||
		info.Endpoints.Video != 47991 || info.Endpoints.Audio != 47992 {
		t.Errorf("endpoints: got %+v", info.Endpoints)
	}
	if info.Grouping.ShardSize != 1024 {
		t.Errorf("grouping shard size: got %d, want 1024", info.Grouping.ShardSize)
	}

	if err := s.Start("192.168.1.20"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start while running: got %v, want ErrInvalidState", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: got %v, want nil", err)
	}
	if err := joinWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if s.State() != Stopped {
		t.Errorf("state after Join: got %s, want stopped", s.State())
	}
	if video.Metadata.Active() || audio.Metadata.Active() {
		t.Error("channels should be inactive after Join")
	}

	if err := s.Join(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Join: got %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop after Join: got %v, want ErrNotRunning", err)
	}
}

func TestJoinWithoutStart(t *testing.T) {
	t.Parallel()
	s := allocSession(t, newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil)))
	if err := s.Join(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("got %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("got %v, want ErrNotRunning", err)
	}
}

func TestStartFailsWithoutUsableEncoder(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{FailProbe: true}, nil))
	s := allocSession(t, deps)

	err := s.Start("10.0.0.1")
	if !errors.Is(err, ErrNoEncoder) {
		t.Fatalf("got %v, want ErrNoEncoder", err)
	}
	if s.State() != Stopped {
		t.Errorf("state: got %s, want stopped", s.State())
	}
	if err := s.Join(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Join after failed start: got %v, want ErrNotRunning", err)
	}
	for _, idx := range shm.Channels() {
		if channel(t, deps.Segment, idx).Metadata.Active() {
			t.Errorf("%s active after failed start", idx)
		}
	}
}

func TestStartInputOnlySkipsEncoderCheck(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{FailProbe: true}, nil))

	var mu sync.Mutex
	var got []string
	deps.Injector = bridge.InjectorFunc(func(_ context.Context, pkt media.InputPacket) error {
		mu.Lock()
		got = append(got, string(pkt.Data))
		mu.Unlock()
		return nil
	})
	s := allocSession(t, deps)

	if err := s.Start("10.0.0.1", shm.Input); err != nil {
		t.Fatalf("Start: %v", err)
	}
	input := channel(t, deps.Segment, shm.Input)
	waitFor(t, "pull bridge active", input.Metadata.Active)
	input.Ring.Push([]byte("click"), shm.Metadata{})

	waitFor(t, "input injected", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	s.Stop()
	if err := joinWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got[0] != "click" {
		t.Errorf("injected: got %q, want click", got[0])
	}
}

func TestStartRejectsBadChannels(t *testing.T) {
	t.Parallel()
	s := allocSession(t, newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil)))
	if err := s.Start("10.0.0.1", shm.Video0, shm.Video0); !errors.Is(err, ErrNoChannels) {
		t.Errorf("duplicate: got %v, want ErrNoChannels", err)
	}
	if err := s.Start("10.0.0.1", shm.ChannelIndex(7)); !errors.Is(err, ErrNoChannels) {
		t.Errorf("invalid index: got %v, want ErrNoChannels", err)
	}
	if s.State() != Stopped {
		t.Errorf("state: got %s, want stopped", s.State())
	}
}

func TestRestartUsesFreshBus(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil))
	s := allocSession(t, deps)

	for run := range 2 {
		if err := s.Start("10.0.0.1", shm.Video0); err != nil {
			t.Fatalf("run %d: Start: %v", run, err)
		}
		bus := s.Bus()
		if mail.ShutdownEvent(bus).Peek() {
			t.Fatalf("run %d: new bus should not carry an old shutdown", run)
		}
		s.Stop()
		if err := joinWithin(t, s, 2*time.Second); err != nil {
			t.Fatalf("run %d: Join: %v", run, err)
		}
		if s.Bus() != nil {
			t.Errorf("run %d: bus should be released after Join", run)
		}
	}
}

func TestBroadcastShutdownEndsSession(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{}, nil))
	s := allocSession(t, deps)
	if err := s.Start("10.0.0.1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mail.BroadcastShutdownEvent(deps.Process).Raise(true)
	if err := joinWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if s.State() != Stopped {
		t.Errorf("state: got %s, want stopped", s.State())
	}
}

type failingPlatform struct {
	*capture.Synthetic
	err error
}

type failingVideo struct {
	capture.VideoEncoder
	err error
}

func (f failingVideo) ReadPacket(context.Context) (media.VideoPacket, error) {
	return media.VideoPacket{}, f.err
}

func (p failingPlatform) OpenVideo(ctx context.Context, vp capture.VideoParams) (capture.VideoEncoder, error) {
	enc, err := p.Synthetic.OpenVideo(ctx, vp)
	if err != nil {
		return nil, err
	}
	return failingVideo{VideoEncoder: enc, err: p.err}, nil
}

func TestJoinBeforeStopReturnsPipelineError(t *testing.T) {
	t.Parallel()
	boom := errors.New("encoder lost")
	deps := newDeps(t, failingPlatform{Synthetic: capture.NewSynthetic(capture.SyntheticOptions{}, nil), err: boom})
	s := allocSession(t, deps)

	if err := s.Start("10.0.0.1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := joinWithin(t, s, 2*time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("Join: got %v, want %v", err, boom)
	}
	if s.State() != Stopped {
		t.Errorf("state: got %s, want stopped", s.State())
	}
}

func TestVideoEventsReachEncoderThroughSegment(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, capture.NewSynthetic(capture.SyntheticOptions{GOP: 100000}, nil))
	s := allocSession(t, deps)
	if err := s.Start("10.0.0.1", shm.Video0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		s.Stop()
		s.Join()
	}()

	video := channel(t, deps.Segment, shm.Video0)
	waitFor(t, "first frames", func() bool { return video.Ring.WriteIndex() >= 3 })

	rd := shm.NewReaderAt(video.Ring, video.Ring.WriteIndex())
	video.Events.Push(shm.EventIDR, 1)

	waitFor(t, "key frame after IDR", func() bool {
		for {
			pkt, ok := rd.Next(nil)
			if !ok {
				return false
			}
			if pkt.Meta.KeyFrame {
				return true
			}
		}
	})
}

// taggedVideo replaces every payload with the display name it was opened
// for and records the bitrates it was asked to apply.
type taggedVideo struct {
	capture.VideoEncoder
	display string

	mu       sync.Mutex
	bitrates []int64
}

func (v *taggedVideo) ReadPacket(ctx context.Context) (media.VideoPacket, error) {
	pkt, err := v.VideoEncoder.ReadPacket(ctx)
	pkt.Data = []byte(v.display)
	return pkt, err
}

func (v *taggedVideo) SetBitrate(kbps int64) error {
	v.mu.Lock()
	v.bitrates = append(v.bitrates, kbps)
	v.mu.Unlock()
	return v.VideoEncoder.SetBitrate(kbps)
}

func (v *taggedVideo) applied() []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int64(nil), v.bitrates...)
}

type displayPlatform struct {
	*capture.Synthetic

	mu   sync.Mutex
	encs map[string]*taggedVideo
}

func (p *displayPlatform) OpenVideo(ctx context.Context, vp capture.VideoParams) (capture.VideoEncoder, error) {
	enc, err := p.Synthetic.OpenVideo(ctx, vp)
	if err != nil {
		return nil, err
	}
	tv := &taggedVideo{VideoEncoder: enc, display: vp.Display}
	p.mu.Lock()
	p.encs[vp.Display] = tv
	p.mu.Unlock()
	return tv, nil
}

func (p *displayPlatform) encoder(display string) *taggedVideo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encs[display]
}

func TestTwoDisplaysStayOnTheirOwnChannels(t *testing.T) {
	t.Parallel()
	p := &displayPlatform{
		Synthetic: capture.NewSynthetic(capture.SyntheticOptions{}, nil),
		encs:      make(map[string]*taggedVideo),
	}
	deps := newDeps(t, p)
	v0 := channel(t, deps.Segment, shm.Video0)
	v1 := channel(t, deps.Segment, shm.Video1)
	if err := v0.Metadata.SetDisplay("A"); err != nil {
		t.Fatal(err)
	}
	if err := v1.Metadata.SetDisplay("B"); err != nil {
		t.Fatal(err)
	}

	s := allocSession(t, deps)
	if err := s.Start("10.0.0.1", shm.Video0, shm.Video1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r0 := shm.NewReader(v0.Ring)
	r1 := shm.NewReader(v1.Ring)
	seen := map[shm.ChannelIndex]map[string]int{shm.Video0: {}, shm.Video1: {}}
	collect := func() {
		for idx, rd := range map[shm.ChannelIndex]*shm.Reader{shm.Video0: r0, shm.Video1: r1} {
			for {
				pkt, ok := rd.Next(nil)
				if !ok {
					break
				}
				seen[idx][string(pkt.Data)]++
			}
		}
	}
	waitFor(t, "frames on both rings", func() bool {
		collect()
		return seen[shm.Video0]["A"] >= 10 && seen[shm.Video1]["B"] >= 10
	})

	v1.Events.Push(shm.EventBitrate, 7000)
	waitFor(t, "bitrate on display B", func() bool {
		got := p.encoder("B").applied()
		return len(got) == 1 && got[0] == 7000
	})

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := joinWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Join: %v", err)
	}
	collect()

	if n := seen[shm.Video0]["B"]; n != 0 {
		t.Errorf("video0 ring carried %d packets of display B", n)
	}
	if n := seen[shm.Video1]["A"]; n != 0 {
		t.Errorf("video1 ring carried %d packets of display A", n)
	}
	if got := p.encoder("A").applied(); len(got) != 0 {
		t.Errorf("display A applied bitrates %v, want none", got)
	}
}
