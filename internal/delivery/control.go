package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/sunbeam/internal/control"
	"github.com/zsiec/sunbeam/internal/metrics"
)

// ControlALPN is the ALPN protocol of the control listener.
const ControlALPN = "sunbeam-control"

// QUIC error codes used when closing control connections.
const (
	codeNoError  quic.ApplicationErrorCode = 0x0
	codeProtocol quic.ApplicationErrorCode = 0x1
)

// ControlServer accepts QUIC connections on the control port. Each client
// opens one bidirectional stream and sends its first message on it; the
// server answers with StreamInfo and then applies every message the client
// sends, the first one included.
type ControlServer struct {
	addr    string
	tls     *tls.Config
	info    func() control.StreamInfo
	apply   *Applier
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewControlServer creates a control server listening on addr. info is
// called once per connection.
func NewControlServer(addr string, tlsConf *tls.Config, info func() control.StreamInfo, apply *Applier, m *metrics.Metrics, log *slog.Logger) *ControlServer {
	if log == nil {
		log = slog.Default()
	}
	return &ControlServer{
		addr:    addr,
		tls:     tlsConf,
		info:    info,
		apply:   apply,
		metrics: m,
		log:     log.With("component", "control-server"),
	}
}

// Run accepts connections until ctx is cancelled.
func (s *ControlServer) Run(ctx context.Context) error {
	ln, err := quic.ListenAddr(s.addr, s.tls, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.addr, err)
	}
	defer ln.Close()
	return s.serveListener(ctx, ln)
}

func (s *ControlServer) serveListener(ctx context.Context, ln *quic.Listener) error {
	s.log.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ControlServer) handleConn(ctx context.Context, conn quic.Connection) {
	log := s.log.With("remote", conn.RemoteAddr().String())
	str, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Debug("no control stream", "error", err)
		conn.CloseWithError(codeNoError, "")
		return
	}

	// Cancelling the read side unblocks Serve, which then sends GoAway.
	stop := context.AfterFunc(ctx, func() {
		str.CancelRead(quic.StreamErrorCode(codeNoError))
	})
	defer stop()

	if err := s.ServeStream(ctx, str); err != nil {
		log.Warn("control stream failed", "error", err)
		conn.CloseWithError(codeProtocol, err.Error())
		return
	}
	conn.CloseWithError(codeNoError, "")
}

// ServeStream speaks the control protocol on rw until the peer closes it or
// ctx is cancelled. On cancellation a GoAway is sent before returning.
func (s *ControlServer) ServeStream(ctx context.Context, rw io.ReadWriter) error {
	info := s.info()
	if err := control.WriteMsg(rw, control.MsgStreamInfo, info); err != nil {
		return fmt.Errorf("send stream info: %w", err)
	}
	s.metrics.Control(control.TypeName(control.MsgStreamInfo))

	r := control.NewReader(rw)
	for {
		msgType, payload, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				_ = control.WriteMsg(rw, control.MsgGoAway, control.GoAway{Reason: "shutdown"})
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		name := control.TypeName(msgType)
		s.metrics.Control(name)

		msg, err := control.Decode(msgType, payload)
		if err != nil {
			// Malformed or unknown messages are skipped; the framing is intact.
			s.metrics.ControlError()
			s.log.Debug("dropping message", "type", name, "error", err)
			continue
		}
		if err := s.apply.Apply(msg); err != nil {
			s.metrics.ControlError()
			s.log.Debug("apply failed", "type", name, "error", err)
		}
	}
}
