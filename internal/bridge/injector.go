package bridge

import (
	"context"
	"log/slog"

	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/media"
)

// Injector delivers client input to the operating system.
type Injector interface {
	Inject(ctx context.Context, pkt media.InputPacket) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, pkt media.InputPacket) error

// Inject calls f.
func (f InjectorFunc) Inject(ctx context.Context, pkt media.InputPacket) error {
	return f(ctx, pkt)
}

// LogInjector is the Injector used when no platform backend exists: it
// logs each packet at debug level.
type LogInjector struct {
	Log *slog.Logger
}

// Inject logs pkt.
func (l LogInjector) Inject(_ context.Context, pkt media.InputPacket) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("input packet", "bytes", len(pkt.Data))
	return nil
}

// RunInjector pops input_packets from the session bus and hands each one to
// inj until the queue is closed or ctx is done. Injection errors are logged
// and do not stop the loop.
func RunInjector(ctx context.Context, session *mail.Bus, inj Injector, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "injector")
	q := mail.InputQueue(session)

	var injected, failed int
	defer func() {
		log.Info("injector stopped", "injected", injected, "failed", failed)
	}()
	for {
		pkt, ok, err := q.PopContext(ctx)
		if err != nil || !ok {
			return nil
		}
		if err := inj.Inject(ctx, pkt); err != nil {
			failed++
			log.Warn("input injection failed", "error", err)
			continue
		}
		injected++
	}
}
