package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/zsiec/sunbeam/internal/session"
	"github.com/zsiec/sunbeam/internal/shm"
)

func TestParseChannels(t *testing.T) {
	t.Parallel()

	all, err := parseChannels("all")
	if err != nil || len(all) != len(session.DefaultChannels()) {
		t.Errorf("all: got %v %v", all, err)
	}

	got, err := parseChannels("video1, input")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != shm.Video1 || got[1] != shm.Input {
		t.Errorf("got %v, want [video1 input]", got)
	}

	if _, err := parseChannels("video2"); err == nil {
		t.Error("expected error for unknown channel")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestSessionKeys(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte{0xab}, 2*session.KeySize)
	key, iv, err := sessionKeys(bytes.NewReader(src))
	if err != nil {
		t.Fatalf("sessionKeys: %v", err)
	}
	if len(key) != session.KeySize || len(iv) != session.KeySize {
		t.Errorf("sizes: got %d %d, want %d", len(key), len(iv), session.KeySize)
	}

	if _, _, err := sessionKeys(failingReader{}); err == nil || !strings.Contains(err.Error(), "entropy unavailable") {
		t.Errorf("failing reader: got %v, want entropy error", err)
	}
	if _, _, err := sessionKeys(bytes.NewReader(src[:session.KeySize+1])); err == nil {
		t.Error("short reader: got nil error")
	}
}
