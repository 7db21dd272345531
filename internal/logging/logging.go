// Package logging builds the process logger: a tint console handler plus an
// optional uncoloured file sink.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures Init.
type Options struct {
	Level     slog.Leveler
	File      string
	NoColor   bool
	AddSource bool
	Stderr    io.Writer // defaults to os.Stderr
}

// Init builds a logger, installs it as the slog default and returns it with
// a func that closes the file sink. A file that cannot be opened is reported
// on the console logger and skipped.
func Init(opts Options) (*slog.Logger, func()) {
	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	console := NewHandler(out, opts.Level, opts.NoColor, opts.AddSource)
	log := slog.New(console)
	deinit := func() {}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error("failed to open log file", "path", opts.File, "error", err)
		} else {
			file := NewHandler(f, opts.Level, true, opts.AddSource)
			log = slog.New(Fanout(console, file))
			deinit = func() { f.Close() }
		}
	}

	slog.SetDefault(log)
	return log, deinit
}

// NewHandler returns a tint handler writing RFC3339 timestamps and trimming
// source paths to their base name.
func NewHandler(w io.Writer, level slog.Leveler, noColor, addSource bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   addSource,
		NoColor:     noColor,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			switch {
			case lvl < slog.LevelDebug:
				a.Value = slog.StringValue("VRB")
			case lvl > slog.LevelError:
				a.Value = slog.StringValue("FTL")
			}
		}
	}
	return a
}

// Fanout returns a handler that writes every record to each handler.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
