package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT receiver latency in nanoseconds (20ms). The
// session is interactive, so it is well below the usual broadcast setting.
const srtLatencyNs = 20_000_000

// SRTServer serves the shards of one or more relays over SRT. The stream ID
// a caller sends picks the relay; an empty ID picks the default.
type SRTServer struct {
	log    *slog.Logger
	addr   string
	relays map[string]*Relay
	def    string
}

// NewSRTServer creates an SRT server on addr. def must be a key of relays.
func NewSRTServer(addr string, relays map[string]*Relay, def string, log *slog.Logger) *SRTServer {
	if log == nil {
		log = slog.Default()
	}
	return &SRTServer{
		log:    log.With("component", "srt-server", "addr", addr),
		addr:   addr,
		relays: relays,
		def:    def,
	}
}

// resolve maps a caller's stream ID to a relay name.
func (s *SRTServer) resolve(streamID string) (string, bool) {
	name := strings.ToLower(strings.Trim(streamID, "/"))
	name = strings.TrimPrefix(name, "live/")
	if name == "" {
		name = s.def
	}
	_, ok := s.relays[name]
	return name, ok
}

// Run accepts callers until ctx is cancelled.
func (s *SRTServer) Run(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening")

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, ok := s.resolve(req.StreamID); !ok {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		name, ok := s.resolve(conn.StreamID())
		if !ok {
			conn.Close()
			continue
		}
		s.log.Info("subscribe", "stream", name, "remote", conn.RemoteAddr())
		go s.serve(ctx, conn, s.relays[name])
	}
}

func (s *SRTServer) serve(ctx context.Context, conn *srtgo.Conn, r *Relay) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := r.Subscribe(uuid.NewString())
	defer r.Unsubscribe(sub.ID())

	var sent int
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-sub.C():
			if _, err := conn.Write(b); err != nil {
				s.log.Debug("write error", "subscriber", sub.ID(), "sent", sent, "error", err)
				return
			}
			sent++
		}
	}
}
