package session

import (
	"fmt"
	"log/slog"
)

// Port offsets from the configured base port.
const (
	ControlPort     = 1
	VideoStreamPort = 2
	AudioStreamPort = 3
)

// MapPort returns base+offset. A result outside [1024, 65535] is logged but
// still returned; the caller decides whether it can bind it.
func MapPort(base, offset int, log *slog.Logger) int {
	port := base + offset
	if port < 1024 || port > 65535 {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("mapped port out of range", "port", port, "base", base, "offset", offset)
	}
	return port
}

// Endpoints are the client address and the three logical ports of a session.
type Endpoints struct {
	Client  string `msgpack:"client"`
	Control int    `msgpack:"control"`
	Video   int    `msgpack:"video"`
	Audio   int    `msgpack:"audio"`
}

// NewEndpoints maps the three logical ports from base.
func NewEndpoints(client string, base int, log *slog.Logger) Endpoints {
	return Endpoints{
		Client:  client,
		Control: MapPort(base, ControlPort, log),
		Video:   MapPort(base, VideoStreamPort, log),
		Audio:   MapPort(base, AudioStreamPort, log),
	}
}

func (e Endpoints) String() string {
	return fmt.Sprintf("%s control=%d video=%d audio=%d", e.Client, e.Control, e.Video, e.Audio)
}
