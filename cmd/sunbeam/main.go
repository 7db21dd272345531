// Command sunbeam runs capture sessions against a shared segment created by
// sunbeam-relay.
//
//	sunbeam [-config file] [-client addr] <segment> <video0|video1|audio|input|all>
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sunbeam/internal/capture"
	"github.com/zsiec/sunbeam/internal/config"
	"github.com/zsiec/sunbeam/internal/logging"
	"github.com/zsiec/sunbeam/internal/mail"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/session"
	"github.com/zsiec/sunbeam/internal/shm"
	"github.com/zsiec/sunbeam/internal/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	client := flag.String("client", "127.0.0.1", "client address the session streams to")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <segment> <video0|video1|audio|input|all>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, deinit := logging.Init(logging.Options{
		Level:     cfg.SlogLevel(),
		File:      cfg.Log.File,
		NoColor:   cfg.Log.NoColor,
		AddSource: cfg.Log.AddSource,
	})
	defer deinit()

	channels, err := parseChannels(flag.Arg(1))
	if err != nil {
		log.Error("bad channel argument", "error", err)
		return 2
	}

	seg, err := shm.Open(flag.Arg(0))
	if err != nil {
		log.Error("failed to open segment", "segment", flag.Arg(0), "error", err)
		return 1
	}
	defer seg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	process := mail.New(log)
	m := metrics.New()
	reg := session.NewRegistry(log)
	watchdog := shutdown.NewWatchdog(cfg.Stream.Watchdog, nil, log)
	defer watchdog.Disarm()

	// Pairing is out of scope; each run uses a fresh random key.
	key, iv, err := sessionKeys(rand.Reader)
	if err != nil {
		log.Error("failed to generate session key", "error", err)
		return 1
	}

	maxFrame := min(cfg.Stream.Rings.Video.SlotSize, 256<<10)
	s, err := session.Alloc(cfg.Session, key, iv, session.Deps{
		Segment:      seg,
		Process:      process,
		Platform:     capture.NewSynthetic(capture.SyntheticOptions{MaxFrameSize: maxFrame}, log),
		Log:          log,
		Metrics:      m,
		PollInterval: cfg.Stream.PollInterval,
		BasePort:     cfg.Port,
	})
	if err != nil {
		log.Error("failed to allocate session", "error", err)
		return 1
	}
	if !reg.Claim(s, channels...) {
		log.Error("channel already claimed", "channels", flag.Arg(1))
		return 1
	}
	defer reg.Release(s)

	log.Info("sunbeam starting",
		"version", version,
		"segment", seg.Name(),
		"channels", flag.Arg(1),
		"port", cfg.Port,
		"metrics", cfg.Metrics.Addr,
	)

	if err := s.Start(*client, channels...); err != nil {
		if errors.Is(err, session.ErrNoEncoder) {
			log.Error("no usable encoder", "error", err)
		} else {
			log.Error("failed to start session", "error", err)
		}
		return 1
	}

	stop := func() {
		watchdog.Arm()
		mail.BroadcastShutdownEvent(process).Raise(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shutdown.Listen(gctx, shutdown.Table{
			syscall.SIGINT:  stop,
			syscall.SIGTERM: stop,
			syscall.SIGHUP:  func() { log.Info("sessions", "active", len(reg.List())) },
		}, log)
		return nil
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m)}
		g.Go(func() error {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// A failing helper (metrics listener) stops the session too.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		return nil
	})

	code := 0
	if err := s.Join(); err != nil {
		log.Error("session failed", "error", err)
		code = 1
	}
	process.Close()
	cancel()
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		code = 1
	}
	log.Info("sunbeam stopped", "code", code)
	return code
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// sessionKeys reads a fresh key and IV from r.
func sessionKeys(r io.Reader) (key, iv []byte, err error) {
	key = make([]byte, session.KeySize)
	iv = make([]byte, session.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, fmt.Errorf("read key: %w", err)
	}
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, nil, fmt.Errorf("read iv: %w", err)
	}
	return key, iv, nil
}

// parseChannels accepts a channel name, a comma separated list, or "all".
func parseChannels(arg string) ([]shm.ChannelIndex, error) {
	if arg == "all" {
		return session.DefaultChannels(), nil
	}
	var out []shm.ChannelIndex
	for _, name := range strings.Split(arg, ",") {
		c, err := shm.ParseChannel(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
