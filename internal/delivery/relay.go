package delivery

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/sunbeam/internal/metrics"
)

// maxCacheShards bounds the key frame cache. A GOP larger than this is not
// replayed to late subscribers.
const maxCacheShards = 8192

// Subscriber receives marshalled shards through a bounded channel. Shards
// that do not fit are dropped and counted.
type Subscriber struct {
	id      string
	ch      chan []byte
	dropped atomic.Int64
}

func newSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{id: id, ch: make(chan []byte, buffer)}
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the receive side of the subscriber's buffer.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Dropped returns how many shards were discarded because the buffer was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Relay fans the shards of one channel out to its subscribers. It caches
// the shards since the last key frame so a new video subscriber can start
// decoding without waiting for the next one.
type Relay struct {
	log     *slog.Logger
	channel string
	buffer  int
	metrics *metrics.Metrics

	mu      sync.Mutex
	subs    map[string]*Subscriber
	cache   [][]byte
	caching bool
}

// NewRelay creates a relay for channel whose subscribers buffer up to
// buffer shards.
func NewRelay(channel string, buffer int, m *metrics.Metrics, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Relay{
		log:     log.With("component", "relay", "channel", channel),
		channel: channel,
		buffer:  buffer,
		metrics: m,
		subs:    make(map[string]*Subscriber),
	}
}

// Channel returns the name of the relayed channel.
func (r *Relay) Channel() string { return r.channel }

// Subscribe registers a subscriber after replaying the cached key frame
// group into its buffer.
func (r *Relay) Subscribe(id string) *Subscriber {
	s := newSubscriber(id, r.buffer)

	r.mu.Lock()
	for _, b := range r.cache {
		r.offer(s, b)
	}
	r.subs[id] = s
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.SubscriberDelta(r.channel, 1)
	r.log.Info("subscriber added", "subscriber", id, "subscribers", n)
	return s
}

// Unsubscribe removes the subscriber with id. Its channel is not closed;
// the caller stops reading it.
func (r *Relay) Unsubscribe(id string) {
	r.mu.Lock()
	s, ok := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.SubscriberDelta(r.channel, -1)
	r.log.Info("subscriber removed", "subscriber", id, "subscribers", n, "dropped", s.Dropped())
}

// Count returns the number of subscribers.
func (r *Relay) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Broadcast delivers the shards of one packet to every subscriber. It never
// blocks.
func (r *Relay) Broadcast(shards [][]byte, keyFrame bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if keyFrame {
		r.cache = r.cache[:0]
		r.caching = true
	}
	if r.caching {
		if len(r.cache)+len(shards) > maxCacheShards {
			r.cache = r.cache[:0]
			r.caching = false
		} else {
			r.cache = append(r.cache, shards...)
		}
	}

	for _, s := range r.subs {
		for _, b := range shards {
			r.offer(s, b)
		}
	}
}

func (r *Relay) offer(s *Subscriber, b []byte) {
	select {
	case s.ch <- b:
		r.metrics.ShardSent(r.channel, 1)
	default:
		s.dropped.Add(1)
		r.metrics.SubscriberDropped(r.channel)
	}
}
