// Package config loads the host configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/sunbeam/internal/shm"
	"github.com/zsiec/sunbeam/internal/session"
)

// DefaultPort is the base port; control, video and audio are base+1..3.
const DefaultPort = 47989

// Config is the root of the configuration file.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Port    int            `yaml:"port"`
	Stream  StreamConfig   `yaml:"stream"`
	Session session.Config `yaml:"session"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Relay   RelayConfig    `yaml:"relay"`
}

// LogConfig selects the log level and an optional file sink.
type LogConfig struct {
	Level     string `yaml:"level"` // verbose, debug, info, warning, error, fatal
	File      string `yaml:"file"`
	NoColor   bool   `yaml:"no_color"`
	AddSource bool   `yaml:"add_source"`
}

// StreamConfig tunes the streaming engine.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Watchdog     time.Duration `yaml:"watchdog"`
	Rings        RingConfig    `yaml:"rings"`
}

// RingConfig is the shared segment geometry. Video applies to both video
// channels.
type RingConfig struct {
	Video shm.ChannelLayout `yaml:"video"`
	Audio shm.ChannelLayout `yaml:"audio"`
	Input shm.ChannelLayout `yaml:"input"`
}

// Layout converts the ring configuration to a segment layout.
func (r RingConfig) Layout() shm.Layout {
	var l shm.Layout
	l.Channels[shm.Video0] = r.Video
	l.Channels[shm.Video1] = r.Video
	l.Channels[shm.Audio] = r.Audio
	l.Channels[shm.Input] = r.Input
	return l
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RelayConfig configures the delivery process.
type RelayConfig struct {
	Segment          string        `yaml:"segment"`
	Listen           string        `yaml:"listen"` // host part of every listener
	Hosts            []string      `yaml:"hosts"`  // extra certificate SANs
	CertValidity     time.Duration `yaml:"cert_validity"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Display          string        `yaml:"display"`
	Codec            string        `yaml:"codec"`
	MetricsAddr      string        `yaml:"metrics_addr"` // "" disables
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	l := shm.DefaultLayout()
	return &Config{
		Log:  LogConfig{Level: "info"},
		Port: DefaultPort,
		Stream: StreamConfig{
			PollInterval: 2 * time.Millisecond,
			Watchdog:     10 * time.Second,
			Rings: RingConfig{
				Video: l.Channels[shm.Video0],
				Audio: l.Channels[shm.Audio],
				Input: l.Channels[shm.Input],
			},
		},
		Session: session.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9464"},
		Relay: RelayConfig{
			Segment:          "default",
			CertValidity:     30 * 24 * time.Hour,
			SubscriberBuffer: 512,
			Codec:            "h264",
			MetricsAddr:      ":9465",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv applies SUNBEAM_LOG_LEVEL, SUNBEAM_PORT, SUNBEAM_SEGMENT and
// DEBUG. DEBUG set to anything forces the debug level.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SUNBEAM_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		c.Log.Level = "debug"
	}
	if v, ok := lookup("SUNBEAM_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SUNBEAM_PORT %q: %w", v, err)
		}
		c.Port = p
	}
	if v, ok := lookup("SUNBEAM_SEGMENT"); ok && v != "" {
		c.Relay.Segment = v
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	// Out-of-range mapped ports are logged, not rejected, so only the base
	// itself is checked here.
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d (must be between 1-65535)", c.Port))
	}
	if c.Stream.PollInterval <= 0 || c.Stream.PollInterval > time.Second {
		errs = append(errs, fmt.Errorf("invalid stream.poll_interval: %v", c.Stream.PollInterval))
	}
	if c.Stream.Watchdog <= 0 {
		errs = append(errs, fmt.Errorf("invalid stream.watchdog: %v", c.Stream.Watchdog))
	}
	if err := c.Stream.Rings.Layout().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Relay.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("invalid relay.subscriber_buffer: %d", c.Relay.SubscriberBuffer))
	}
	if _, err := ParseCodec(c.Relay.Codec); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseCodec maps a codec name to its shm identifier.
func ParseCodec(s string) (shm.Codec, error) {
	switch strings.ToLower(s) {
	case "h264", "avc", "":
		return shm.CodecH264, nil
	case "hevc", "h265":
		return shm.CodecHEVC, nil
	case "av1":
		return shm.CodecAV1, nil
	}
	return 0, fmt.Errorf("invalid codec: %q (must be one of: h264, hevc, av1)", s)
}
