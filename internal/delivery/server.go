package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sunbeam/internal/control"
	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/session"
	"github.com/zsiec/sunbeam/internal/shm"
)

// ErrNoTLS is returned by New when no TLS configuration is given.
var ErrNoTLS = errors.New("delivery: TLS config required for the control listener")

// Options configures a Server.
type Options struct {
	Segment      *shm.Segment
	Grouping     fec.Grouping
	Listen       string // host part of every listener; "" listens on all interfaces
	BasePort     int
	Buffer       int // per-subscriber shard buffer
	TLS          *tls.Config
	Codec        shm.Codec
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

// Server owns the delivery side of a segment.
type Server struct {
	id       string
	opts     Options
	log      *slog.Logger
	enc      *fec.Encoder
	relays   map[shm.ChannelIndex]*Relay
	applier  *Applier
	ports    control.Ports
	channels []string
}

// New creates a server for opts.Segment.
func New(opts Options) (*Server, error) {
	if opts.Segment == nil {
		return nil, errors.New("delivery: segment required")
	}
	if opts.TLS == nil {
		return nil, ErrNoTLS
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	applier, err := NewApplier(opts.Segment, opts.Metrics, opts.Log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		id:      uuid.NewString(),
		opts:    opts,
		log:     opts.Log.With("component", "delivery"),
		enc:     fec.NewEncoder(opts.Grouping),
		relays:  make(map[shm.ChannelIndex]*Relay),
		applier: applier,
		ports: control.Ports{
			Control: session.MapPort(opts.BasePort, session.ControlPort, opts.Log),
			Video:   session.MapPort(opts.BasePort, session.VideoStreamPort, opts.Log),
			Audio:   session.MapPort(opts.BasePort, session.AudioStreamPort, opts.Log),
		},
	}
	for _, idx := range shm.Channels() {
		if idx.Egress() {
			s.relays[idx] = NewRelay(idx.String(), opts.Buffer, opts.Metrics, opts.Log)
			s.channels = append(s.channels, idx.String())
		}
	}
	return s, nil
}

// PrepareSegment writes the display and codec every video channel should
// capture with. It must run before the capture host starts its sessions.
func PrepareSegment(seg *shm.Segment, display string, codec shm.Codec) error {
	for _, idx := range []shm.ChannelIndex{shm.Video0, shm.Video1} {
		ch, err := seg.Channel(idx)
		if err != nil {
			return err
		}
		if err := ch.Metadata.SetDisplay(display); err != nil {
			return err
		}
		ch.Metadata.SetCodec(codec)
	}
	return nil
}

// ID returns the identifier sent to clients in StreamInfo.
func (s *Server) ID() string { return s.id }

// Relay returns the relay of an egress channel, or nil.
func (s *Server) Relay(idx shm.ChannelIndex) *Relay { return s.relays[idx] }

// Applier returns the applier used by the control listener.
func (s *Server) Applier() *Applier { return s.applier }

// StreamInfo describes the server to a new control client.
func (s *Server) StreamInfo() control.StreamInfo {
	return control.StreamInfo{
		Session:  s.id,
		Ports:    s.ports,
		Grouping: s.opts.Grouping,
		Channels: s.channels,
		Codec:    s.opts.Codec.String(),
	}
}

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.opts.Listen, strconv.Itoa(port))
}

// Run starts the drainers and the listeners and blocks until ctx is
// cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for idx, r := range s.relays {
		ch, err := s.opts.Segment.Channel(idx)
		if err != nil {
			return err
		}
		d, err := NewDrainer(ch, s.enc, r, s.opts.PollInterval, s.opts.Metrics, s.opts.Log)
		if err != nil {
			return err
		}
		g.Go(func() error { return d.Run(ctx) })
	}

	video := NewSRTServer(s.addr(s.ports.Video), map[string]*Relay{
		shm.Video0.String(): s.relays[shm.Video0],
		shm.Video1.String(): s.relays[shm.Video1],
	}, shm.Video0.String(), s.opts.Log)
	audio := NewSRTServer(s.addr(s.ports.Audio), map[string]*Relay{
		shm.Audio.String(): s.relays[shm.Audio],
	}, shm.Audio.String(), s.opts.Log)
	ctrl := NewControlServer(s.addr(s.ports.Control), s.opts.TLS, s.StreamInfo, s.applier, s.opts.Metrics, s.opts.Log)

	g.Go(func() error { return video.Run(ctx) })
	g.Go(func() error { return audio.Run(ctx) })
	g.Go(func() error { return ctrl.Run(ctx) })

	s.log.Info("delivery started",
		"segment", s.opts.Segment.Name(),
		"control", s.ports.Control, "video", s.ports.Video, "audio", s.ports.Audio,
		"shard_size", s.opts.Grouping.ShardSize)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	return nil
}
