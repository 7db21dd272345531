// Command sunbeam-relay creates the shared segment and delivers its
// streams to clients: FEC protected media over SRT and a QUIC control
// channel.
//
//	sunbeam-relay [-config file] [segment]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sunbeam/internal/certs"
	"github.com/zsiec/sunbeam/internal/config"
	"github.com/zsiec/sunbeam/internal/delivery"
	"github.com/zsiec/sunbeam/internal/fec"
	"github.com/zsiec/sunbeam/internal/logging"
	"github.com/zsiec/sunbeam/internal/metrics"
	"github.com/zsiec/sunbeam/internal/shm"
	"github.com/zsiec/sunbeam/internal/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

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

	name := cfg.Relay.Segment
	if flag.NArg() > 0 {
		name = flag.Arg(0)
	}
	codec, _ := config.ParseCodec(cfg.Relay.Codec)

	grouping, err := fec.Derive(cfg.Session.MinRequiredFECPackets, cfg.Session.PacketSize, cfg.Session.FECPercentage)
	if err != nil {
		log.Error("invalid FEC settings", "error", err)
		return 1
	}

	log.Info("generating self-signed certificate")
	cert, err := certs.Generate(certs.Options{Hosts: cfg.Relay.Hosts, Validity: cfg.Relay.CertValidity})
	if err != nil {
		log.Error("failed to generate cert", "error", err)
		return 1
	}
	log.Info("certificate generated",
		"fingerprint", cert.FingerprintHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	// A segment left behind by a crashed relay is replaced.
	_ = shm.Remove(name)
	seg, err := shm.Create(name, cfg.Stream.Rings.Layout())
	if err != nil {
		log.Error("failed to create segment", "segment", name, "error", err)
		return 1
	}
	defer func() {
		seg.Close()
		if err := shm.Remove(name); err != nil {
			log.Warn("failed to remove segment", "segment", name, "error", err)
		}
	}()
	if err := delivery.PrepareSegment(seg, cfg.Relay.Display, codec); err != nil {
		log.Error("failed to write channel metadata", "error", err)
		return 1
	}

	m := metrics.New()
	srv, err := delivery.New(delivery.Options{
		Segment:      seg,
		Grouping:     grouping,
		Listen:       cfg.Relay.Listen,
		BasePort:     cfg.Port,
		Buffer:       cfg.Relay.SubscriberBuffer,
		TLS:          cert.ServerConfig(delivery.ControlALPN),
		Codec:        codec,
		PollInterval: cfg.Stream.PollInterval,
		Metrics:      m,
		Log:          log,
	})
	if err != nil {
		log.Error("failed to create delivery server", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchdog := shutdown.NewWatchdog(cfg.Stream.Watchdog, nil, log)
	defer watchdog.Disarm()
	stop := func() {
		watchdog.Arm()
		cancel()
	}

	log.Info("sunbeam-relay starting",
		"version", version,
		"segment", seg.Name(),
		"size", seg.Size(),
		"port", cfg.Port,
		"fingerprint", cert.FingerprintHex(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shutdown.Listen(ctx, shutdown.Table{
			syscall.SIGINT:  stop,
			syscall.SIGTERM: stop,
		}, log)
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Relay.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		hs := &http.Server{Addr: cfg.Relay.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.Info("metrics server listening", "addr", cfg.Relay.MetricsAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return 1
	}
	log.Info("sunbeam-relay stopped")
	return 0
}
