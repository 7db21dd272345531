// Package shutdown maps OS signals to actions and bounds how long a
// graceful stop may take.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// ExitTimeout is the exit code used when the watchdog fires.
const ExitTimeout = 2

// Table maps a signal to the action run when it arrives.
type Table map[os.Signal]func()

// Listen runs the matching action for every signal in table until ctx is
// done.
func Listen(ctx context.Context, table Table, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	sigs := make([]os.Signal, 0, len(table))
	for s := range table {
		sigs = append(sigs, s)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	dispatch(ctx, ch, table, log)
}

func dispatch(ctx context.Context, ch <-chan os.Signal, table Table, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			log.Info("signal received", "signal", s.String())
			if fn := table[s]; fn != nil {
				fn()
			}
		}
	}
}

// Watchdog forces the process out if a graceful stop stalls.
type Watchdog struct {
	delay time.Duration
	exit  func(int)
	log   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatchdog returns a disarmed watchdog. A nil exit uses os.Exit.
func NewWatchdog(delay time.Duration, exit func(int), log *slog.Logger) *Watchdog {
	if exit == nil {
		exit = os.Exit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{delay: delay, exit: exit, log: log.With("component", "watchdog")}
}

// Arm starts the countdown. Arming an armed watchdog is a no-op.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return
	}
	w.log.Debug("armed", "delay", w.delay)
	w.timer = time.AfterFunc(w.delay, func() {
		w.log.Error("shutdown timed out, forcing exit", "delay", w.delay)
		w.exit(ExitTimeout)
	})
}

// Disarm cancels a pending countdown.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
