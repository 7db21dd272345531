package session

import (
	"log/slog"
	"sync"

	"github.com/zsiec/sunbeam/internal/shm"
)

// Registry holds the current session of each channel index. It is owned by
// a binary's bootstrap and passed to whatever needs it.
type Registry struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[shm.ChannelIndex]*Session
}

// NewRegistry creates an empty registry. If log is nil, slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "session-registry"),
		sessions: make(map[shm.ChannelIndex]*Session),
	}
}

// Claim records s as the current session of every index in channels. It
// returns false and claims nothing if any index is already held.
func (r *Registry) Claim(s *Session, channels ...shm.ChannelIndex) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range channels {
		if cur, ok := r.sessions[c]; ok {
			r.log.Warn("channel already claimed, rejecting", "channel", c.String(), "session", cur.ID().String())
			return false
		}
	}
	for _, c := range channels {
		r.sessions[c] = s
	}
	r.log.Info("session claimed channels", "session", s.ID().String(), "channels", len(channels))
	return true
}

// Release drops every index held by s.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	n := 0
	for c, cur := range r.sessions {
		if cur == s {
			delete(r.sessions, c)
			n++
		}
	}
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("session released channels", "session", s.ID().String(), "channels", n)
	}
}

// Get returns the current session of channel c.
func (r *Registry) Get(c shm.ChannelIndex) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[c]
	return s, ok
}

// List returns each distinct registered session once.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Session]bool, len(r.sessions))
	out := make([]*Session, 0, len(r.sessions))
	for _, c := range shm.Channels() {
		if s, ok := r.sessions[c]; ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// StopAll stops every registered session. Errors from sessions that are
// not running are ignored.
func (r *Registry) StopAll() {
	for _, s := range r.List() {
		if err := s.Stop(); err != nil {
			r.log.Debug("stop skipped", "session", s.ID().String(), "error", err)
		}
	}
}
