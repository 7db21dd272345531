package session

import (
	"errors"
	"fmt"
	"maps"
)

// AudioConfig selects the audio stream parameters negotiated with the client.
type AudioConfig struct {
	PacketDuration int  `yaml:"packet_duration"` // milliseconds
	Channels       int  `yaml:"channels"`
	Mask           int  `yaml:"mask"`
	HighQuality    bool `yaml:"high_quality"`
}

// VideoConfig selects the display and encoder parameters negotiated with
// the client.
type VideoConfig struct {
	Display        string `yaml:"display"`
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	Framerate      int    `yaml:"framerate"`
	Bitrate        int    `yaml:"bitrate"` // kbps
	SlicesPerFrame int    `yaml:"slices_per_frame"`
	NumRefFrames   int    `yaml:"num_ref_frames"`
	EncoderCscMode int    `yaml:"encoder_csc_mode"`
	VideoFormat    int    `yaml:"video_format"` // 0 h264, 1 hevc, 2 av1
	DynamicRange   int    `yaml:"dynamic_range"`
}

// Config is the immutable per-session configuration. Alloc copies it.
type Config struct {
	Audio AudioConfig `yaml:"audio"`
	Video VideoConfig `yaml:"video"`

	PacketSize            int `yaml:"packet_size"`
	MinRequiredFECPackets int `yaml:"min_required_fec_packets"`
	FECPercentage         int `yaml:"fec_percentage"`

	FeatureFlags        uint32 `yaml:"feature_flags"`
	ControlProtocolType int    `yaml:"control_protocol_type"`
	AudioQoSType        int    `yaml:"audio_qos_type"`
	VideoQoSType        int    `yaml:"video_qos_type"`

	// ColorSpaces optionally maps a display name to an encoder colour space.
	ColorSpaces map[string]int `yaml:"color_spaces,omitempty"`
}

// DefaultConfig returns a 1080p60 configuration with 20% FEC.
func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			PacketDuration: 5,
			Channels:       2,
			Mask:           0x3,
		},
		Video: VideoConfig{
			Width:          1920,
			Height:         1080,
			Framerate:      60,
			Bitrate:        1000,
			SlicesPerFrame: 1,
			NumRefFrames:   0,
			EncoderCscMode: 1,
			VideoFormat:    0,
			DynamicRange:   0,
		},
		PacketSize:            1024,
		MinRequiredFECPackets: 2,
		FECPercentage:         20,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("session: invalid config")

// Validate checks the fields a session depends on.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Video.Width > 0 && c.Video.Height > 0, "video size %dx%d", c.Video.Width, c.Video.Height)
	check(c.Video.Framerate > 0 && c.Video.Framerate <= 1000, "video framerate %d", c.Video.Framerate)
	check(c.Video.Bitrate > 0, "video bitrate %d", c.Video.Bitrate)
	check(c.Video.SlicesPerFrame >= 1, "slices per frame %d", c.Video.SlicesPerFrame)
	check(c.Video.NumRefFrames >= 0, "reference frames %d", c.Video.NumRefFrames)
	check(c.Video.VideoFormat >= 0 && c.Video.VideoFormat <= 2, "video format %d", c.Video.VideoFormat)
	check(c.Audio.PacketDuration > 0, "audio packet duration %d", c.Audio.PacketDuration)
	check(c.Audio.Channels > 0 && c.Audio.Channels <= 8, "audio channels %d", c.Audio.Channels)
	check(c.PacketSize > 0, "packet size %d", c.PacketSize)
	check(c.MinRequiredFECPackets >= 0, "min required fec packets %d", c.MinRequiredFECPackets)
	check(c.FECPercentage >= 0 && c.FECPercentage <= 255, "fec percentage %d", c.FECPercentage)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (c Config) clone() Config {
	c.ColorSpaces = maps.Clone(c.ColorSpaces)
	return c
}
