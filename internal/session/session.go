// Package session implements the per-client streaming session: it owns the
// session configuration and key material and sequences the capture
// pipelines and bridges of each requested channel through a
// Stopped -> Starting -> Running -> Stopping -> Stopped lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sunbeam/internal/bridge"
	"github.com/zsiec/sunbeam/internal/capture"
	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
)

// KeySize is the size of the AES-GCM key and IV handed to Alloc.
const KeySize = 16

var (
	// ErrInvalidState is returned when a lifecycle call does not match the
	// current state, e.g. Start on a running session.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrNotRunning is returned by Stop and Join on a stopped session.
	ErrNotRunning = errors.New("session: not running")
	// ErrNoEncoder is returned by Start when encoder probing fails.
	ErrNoEncoder = errors.New("session: no working encoder")
	// ErrNoChannels is returned when Start is given an unusable channel set.
	ErrNoChannels = errors.New("session: no usable channels")
	// ErrInvalidKey is returned by Alloc for key material of the wrong size.
	ErrInvalidKey = errors.New("session: invalid key material")
)

// Deps are the collaborators a session is wired to.
type Deps struct {
	Segment  *shm.Segment     // shared segment holding every channel
	Process  *mail.Bus        // process bus carrying broadcast_shutdown
	Platform capture.Platform // capture and encoders
	Injector bridge.Injector  // input delivery; nil logs input

	Log          *slog.Logger
	Metrics      *metrics.Metrics
	PollInterval time.Duration // bridge polling, 0 for bridge.DefaultPollInterval
	BasePort     int
}

// Session is one client's streaming session.
type Session struct {
	id   uuid.UUID
	cfg  Config
	key  [KeySize]byte
	iv   [KeySize]byte
	deps Deps
	log  *slog.Logger

	state stateGuard

	mu        sync.Mutex
	bus       *mail.Bus
	group     *errgroup.Group
	cancel    context.CancelFunc
	grouping  fec.Grouping
	endpoints Endpoints
	channels  []shm.ChannelIndex
	startedAt time.Time
}

// Alloc builds a stopped session. cfg is copied; key and iv must each be
// KeySize bytes. No goroutines are started.
func Alloc(cfg Config, key, iv []byte, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(key) != KeySize || len(iv) != KeySize {
		return nil, fmt.Errorf("%w: key %d bytes, iv %d bytes, want %d", ErrInvalidKey, len(key), len(iv), KeySize)
	}
	if deps.Segment == nil {
		return nil, errors.New("session: nil segment")
	}
	if deps.Platform == nil {
		return nil, errors.New("session: nil platform")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Process == nil {
		deps.Process = mail.New(deps.Log)
	}
	if deps.Injector == nil {
		deps.Injector = bridge.LogInjector{Log: deps.Log}
	}

	id := uuid.New()
	s := &Session{
		id:   id,
		cfg:  cfg.clone(),
		deps: deps,
		log:  deps.Log.With("component", "session", "session", id.String()),
		bus:  mail.New(deps.Log),
	}
	copy(s.key[:], key)
	copy(s.iv[:], iv)
	s.log.Debug("session allocated")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.cfg.clone()
}

// Key returns the AES-GCM key and IV.
func (s *Session) Key() (key, iv [KeySize]byte) {
	return s.key, s.iv
}

// State returns a snapshot of the lifecycle state.
func (s *Session) State() State {
	return s.state.load()
}

// Bus returns the session bus of the current run, or nil after Join.
func (s *Session) Bus() *mail.Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// Info is a point-in-time description of a session.
type Info struct {
	ID        string             `msgpack:"id"`
	State     string             `msgpack:"state"`
	Endpoints Endpoints          `msgpack:"endpoints"`
	Grouping  fec.Grouping       `msgpack:"grouping"`
	Channels  []shm.ChannelIndex `msgpack:"channels"`
	StartedAt time.Time          `msgpack:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.id.String(),
		State:     s.state.load().String(),
		Endpoints: s.endpoints,
		Grouping:  s.grouping,
		Channels:  slices.Clone(s.channels),
		StartedAt: s.startedAt,
	}
}

// DefaultChannels are started when Start is given none.
func DefaultChannels() []shm.ChannelIndex {
	return []shm.ChannelIndex{shm.Video0, shm.Audio, shm.Input}
}

func checkChannels(channels []shm.ChannelIndex) error {
	seen := make(map[shm.ChannelIndex]bool, len(channels))
	for _, c := range channels {
		if !c.Valid() {
			return fmt.Errorf("%w: %s", ErrNoChannels, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: %s requested twice", ErrNoChannels, c)
		}
		seen[c] = true
	}
	return nil
}

func clientHost(addr string) (string, error) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "" {
		return "", fmt.Errorf("session: empty client address %q", addr)
	}
	return host, nil
}

// Start moves the session from Stopped to Running, spawning a capture
// pipeline and a bridge per channel. With no channels, DefaultChannels are
// used. On any failure the session returns to Stopped with nothing left
// running; a failed encoder probe is reported as ErrNoEncoder.
func (s *Session) Start(addr string, channels ...shm.ChannelIndex) (err error) {
	if !s.state.transition(Stopped, Starting) {
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, s.state.load())
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
			s.deps.Metrics.SessionFailed()
			s.state.store(Stopped)
			s.log.Error("session start failed", "error", err)
		}
	}()

	if len(channels) == 0 {
		channels = DefaultChannels()
	}
	if err := checkChannels(channels); err != nil {
		return err
	}
	client, err := clientHost(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cleanup = append(cleanup, cancel)

	needsEncoder := slices.ContainsFunc(channels, func(c shm.ChannelIndex) bool { return c.Egress() })
	if needsEncoder {
		if err := s.deps.Platform.Probe(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNoEncoder, err)
		}
	}

	grouping, err := fec.Derive(s.cfg.MinRequiredFECPackets, s.cfg.PacketSize, s.cfg.FECPercentage)
	if err != nil {
		return err
	}
	endpoints := NewEndpoints(client, s.deps.BasePort, s.log)

	s.mu.Lock()
	if s.bus == nil {
		s.bus = mail.New(s.deps.Log)
	}
	bus := s.bus
	s.mu.Unlock()

	buses := capture.Buses{Session: bus, Process: s.deps.Process}
	bopts := bridge.Options{PollInterval: s.deps.PollInterval, Metrics: s.deps.Metrics, Log: s.log}

	var tasks []func(context.Context) error
	for _, idx := range channels {
		ch, err := s.deps.Segment.Channel(idx)
		if err != nil {
			return fmt.Errorf("session: attach %s: %w", idx, err)
		}
		switch idx {
		case shm.Video0, shm.Video1:
			params := s.videoParams().WithMetadata(ch.Metadata)
			enc, err := s.deps.Platform.OpenVideo(ctx, params)
			if err != nil {
				return fmt.Errorf("session: open video encoder for %s: %w", idx, err)
			}
			cleanup = append(cleanup, func() { enc.Close() })
			push, err := bridge.NewPush(ch, bus, s.deps.Process, bopts)
			if err != nil {
				return err
			}
			pipe := capture.NewVideo(idx.String(), enc, buses, s.log)
			tasks = append(tasks, withClose(pipe.Run, enc.Close), push.Run)

		case shm.Audio:
			enc, err := s.deps.Platform.OpenAudio(ctx, s.audioParams())
			if err != nil {
				return fmt.Errorf("session: open audio encoder: %w", err)
			}
			cleanup = append(cleanup, func() { enc.Close() })
			push, err := bridge.NewPush(ch, bus, s.deps.Process, bopts)
			if err != nil {
				return err
			}
			pipe := capture.NewAudio(enc, buses, s.log)
			tasks = append(tasks, withClose(pipe.Run, enc.Close), push.Run)

		case shm.Input:
			pull, err := bridge.NewPull(ch, bus, s.deps.Process, bopts)
			if err != nil {
				return err
			}
			inj := s.deps.Injector
			tasks = append(tasks, pull.Run, func(ctx context.Context) error {
				return bridge.RunInjector(ctx, bus, inj, s.log)
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	g.Go(func() error {
		s.watch(gctx, cancel, bus)
		return nil
	})

	s.mu.Lock()
	s.group = g
	s.cancel = cancel
	s.grouping = grouping
	s.endpoints = endpoints
	s.channels = slices.Clone(channels)
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.state.store(Running)
	s.deps.Metrics.SessionStarted()
	s.log.Info("session started",
		"client", client, "channels", fmt.Sprint(channels),
		"control", endpoints.Control, "video", endpoints.Video, "audio", endpoints.Audio,
		"fec_min_parity", grouping.MinParity, "fec_max_data", grouping.MaxDataShards)
	return nil
}

// watch turns local or broadcast shutdown into context cancellation so
// blocking collaborators unwind, and raises local shutdown when the task
// group ends for any other reason.
func (s *Session) watch(ctx context.Context, cancel context.CancelFunc, bus *mail.Bus) {
	local := mail.ShutdownEvent(bus)
	broadcast := mail.BroadcastShutdownEvent(s.deps.Process)
	select {
	case <-local.Done():
		s.log.Debug("local shutdown observed")
	case <-broadcast.Done():
		s.log.Info("broadcast shutdown observed")
	case <-ctx.Done():
	}
	local.Raise(true)
	cancel()
}

func withClose(run func(context.Context) error, closeFn func() error) func(context.Context) error {
	return func(ctx context.Context) error {
		defer closeFn()
		return run(ctx)
	}
}

func (s *Session) videoParams() capture.VideoParams {
	v := s.cfg.Video
	return capture.VideoParams{
		Display:        v.Display,
		Codec:          shm.Codec(v.VideoFormat),
		Width:          v.Width,
		Height:         v.Height,
		Framerate:      v.Framerate,
		Bitrate:        v.Bitrate,
		SlicesPerFrame: v.SlicesPerFrame,
		NumRefFrames:   v.NumRefFrames,
		EncoderCscMode: v.EncoderCscMode,
		DynamicRange:   v.DynamicRange,
	}
}

func (s *Session) audioParams() capture.AudioParams {
	a := s.cfg.Audio
	return capture.AudioParams{
		PacketDuration: a.PacketDuration,
		Channels:       a.Channels,
		Mask:           a.Mask,
		HighQuality:    a.HighQuality,
	}
}

// Stop signals a running session to shut down and returns immediately.
// Stopping an already stopping session is a no-op; stopping a stopped
// session returns ErrNotRunning.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.transition(Running, Stopping) {
		mail.ShutdownEvent(s.bus).Raise(true)
		s.log.Info("session stopping")
		return nil
	}
	switch st := s.state.load(); st {
	case Stopping:
		return nil
	case Stopped:
		return ErrNotRunning
	default:
		return fmt.Errorf("%w: stop in state %s", ErrInvalidState, st)
	}
}

// Join blocks until every goroutine of the session has exited, then moves
// the session to Stopped and closes its bus. It may be called before Stop,
// in which case it waits for a natural or shutdown-triggered exit. Joining
// a session that is not started, or was already joined, returns
// ErrNotRunning.
func (s *Session) Join() error {
	s.mu.Lock()
	g, cancel, bus, started := s.group, s.cancel, s.bus, s.startedAt
	s.group = nil
	s.mu.Unlock()

	if g == nil {
		return ErrNotRunning
	}

	err := g.Wait()
	cancel()
	bus.Close()

	s.mu.Lock()
	s.bus = nil
	s.cancel = nil
	s.state.store(Stopped)
	s.mu.Unlock()

	s.deps.Metrics.SessionEnded(time.Since(started).Seconds())
	if err != nil {
		s.log.Warn("session joined with error", "error", err)
		return err
	}
	s.log.Info("session joined", "uptime", time.Since(started).Round(time.Millisecond))
	return nil
}
