// Package control implements the control stream spoken between the
// delivery process and a client: a sequence of framed messages, each
// [type (QUIC varint)] [length (uint16 big-endian)] [msgpack payload].
package control

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zsiec/sunbeam/internal/fec"
)

// Message type IDs. Host to client messages are below 0x10.
const (
	MsgStreamInfo uint64 = 0x01
	MsgGoAway     uint64 = 0x02

	MsgInput     uint64 = 0x10
	MsgBitrate   uint64 = 0x11
	MsgFramerate uint64 = 0x12
	MsgIDR       uint64 = 0x13
	MsgPointer   uint64 = 0x14
)

// TypeName returns a short name for msgType, used in logs and metrics.
func TypeName(msgType uint64) string {
	switch msgType {
	case MsgStreamInfo:
		return "stream_info"
	case MsgGoAway:
		return "goaway"
	case MsgInput:
		return "input"
	case MsgBitrate:
		return "bitrate"
	case MsgFramerate:
		return "framerate"
	case MsgIDR:
		return "idr"
	case MsgPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// Ports are the logical ports a client connects to.
type Ports struct {
	Control int `msgpack:"control"`
	Video   int `msgpack:"video"`
	Audio   int `msgpack:"audio"`
}

// StreamInfo is the first message the host sends on a control stream.
type StreamInfo struct {
	Session  string       `msgpack:"session"`
	Ports    Ports        `msgpack:"ports"`
	Grouping fec.Grouping `msgpack:"grouping"`
	Channels []string     `msgpack:"channels"`
	Codec    string       `msgpack:"codec"`
}

// GoAway announces that the host is shutting down.
type GoAway struct {
	Reason string `msgpack:"reason"`
}

// Input carries one opaque input event for the injector.
type Input struct {
	Data []byte `msgpack:"data"`
}

// Bitrate requests a new video bitrate. An empty Channel targets every
// video channel.
type Bitrate struct {
	Channel string `msgpack:"channel,omitempty"`
	Kbps    int64  `msgpack:"kbps"`
}

// Framerate requests a new capture framerate.
type Framerate struct {
	Channel string `msgpack:"channel,omitempty"`
	FPS     int64  `msgpack:"fps"`
}

// IDR requests a key frame.
type IDR struct {
	Channel string `msgpack:"channel,omitempty"`
}

// Pointer toggles drawing the cursor into the capture.
type Pointer struct {
	Channel string `msgpack:"channel,omitempty"`
	Visible bool   `msgpack:"visible"`
}

// Reader reads framed messages from a stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. All reads of the stream must go through the Reader,
// which buffers.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next reads one message.
func (r *Reader) Next() (uint64, []byte, error) {
	msgType, err := quicvarint.Read(r.br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r.br, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// WriteMsg encodes v with msgpack and writes it as one frame in a single
// Write call, so concurrent writers on a stream never interleave frames.
func WriteMsg(w io.Writer, msgType uint64, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("control: encode %s: %w", TypeName(msgType), err)
	}
	return WriteFrame(w, msgType, payload)
}

// WriteFrame writes a raw payload as one frame.
func WriteFrame(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > math.MaxUint16 {
		return fmt.Errorf("%w: %s is %d bytes", ErrMessageTooLarge, TypeName(msgType), len(payload))
	}
	buf := make([]byte, 0, quicvarint.Len(msgType)+2+len(payload))
	buf = quicvarint.Append(buf, msgType)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// Decode unmarshals a payload into the message type registered for
// msgType.
func Decode(msgType uint64, payload []byte) (any, error) {
	switch msgType {
	case MsgStreamInfo:
		return decode[StreamInfo](msgType, payload)
	case MsgGoAway:
		return decode[GoAway](msgType, payload)
	case MsgInput:
		return decode[Input](msgType, payload)
	case MsgBitrate:
		return decode[Bitrate](msgType, payload)
	case MsgFramerate:
		return decode[Framerate](msgType, payload)
	case MsgIDR:
		return decode[IDR](msgType, payload)
	case MsgPointer:
		return decode[Pointer](msgType, payload)
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessage, msgType)
	}
}

func decode[T any](msgType uint64, payload []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return v, &ParseError{Field: TypeName(msgType), Err: err}
	}
	return v, nil
}
