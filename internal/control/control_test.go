package control

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/sunbeam/internal/fec"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	g, _ := fec.Derive(4, 1024, 0)
	info := StreamInfo{
		Session:  "abc",
		Ports:    Ports{Control: 47990, Video: 47991, Audio: 47992},
		Grouping: g,
		Channels: []string{"video0", "audio"},
		Codec:    "h264",
	}
	if err := WriteMsg(&buf, MsgStreamInfo, info); err != nil {
		t.Fatal(err)
	}
	if err := WriteMsg(&buf, MsgBitrate, Bitrate{Kbps: 8000}); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	msgType, payload, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgStreamInfo {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgStreamInfo)
	}
	v, err := Decode(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := v.(StreamInfo)
	if !ok {
		t.Fatalf("decoded %T, want StreamInfo", v)
	}
	if got.Session != "abc" || got.Ports != info.Ports || got.Grouping != g || len(got.Channels) != 2 {
		t.Errorf("got %+v, want %+v", got, info)
	}

	msgType, payload, err = r.Next()
	if err != nil {
		t.Fatal(err)
	}
	v, err = Decode(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := v.(Bitrate); !ok || b.Kbps != 8000 {
		t.Errorf("got %#v, want Bitrate{8000}", v)
	}

	if _, _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("end of stream: got %v, want EOF", err)
	}
}

func TestFrameTruncated(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgInput, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()[:buf.Len()-3]
	if _, _, err := NewReader(bytes.NewReader(b)).Next(); err == nil {
		t.Error("expected error on truncated payload")
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	t.Parallel()
	err := WriteFrame(io.Discard, MsgInput, make([]byte, 70000))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("got %v, want ErrMessageTooLarge", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	if _, err := Decode(0x7f, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("unknown type: got %v, want ErrUnknownMessage", err)
	}

	_, err := Decode(MsgBitrate, []byte{0xc1})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want *ParseError", err)
	}
	if pe.Field != "bitrate" {
		t.Errorf("field: got %q, want bitrate", pe.Field)
	}
}

func TestTypeName(t *testing.T) {
	t.Parallel()
	for msgType, want := range map[uint64]string{
		MsgInput: "input", MsgIDR: "idr", MsgPointer: "pointer", 0x99: "unknown",
	} {
		if got := TypeName(msgType); got != want {
			t.Errorf("TypeName(%#x): got %q, want %q", msgType, got, want)
		}
	}
}
