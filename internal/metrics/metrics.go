// Package metrics exposes the host's packet, loss and session counters to
// Prometheus. Every recorder method is safe on a nil *Metrics so components
// can run without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the sunbeam host.
type Metrics struct {
	reg *prometheus.Registry

	// bridges
	PacketsForwarded *prometheus.CounterVec
	EventsForwarded  *prometheus.CounterVec
	PacketsLost      *prometheus.CounterVec
	OversizeDrops    *prometheus.CounterVec

	// mail queues
	QueueDrops *prometheus.CounterVec

	// sessions
	SessionsStarted prometheus.Counter
	SessionsFailed  prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// delivery
	ShardsSent       *prometheus.CounterVec
	SubscriberDrops  *prometheus.CounterVec
	Subscribers      *prometheus.GaugeVec
	ControlMessages  *prometheus.CounterVec
	ControlErrors    prometheus.Counter
	FECEncodeSeconds prometheus.Histogram
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		PacketsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_bridge_packets_forwarded_total",
			Help: "Packets moved between the mail bus and a shared ring",
		}, []string{"channel"}),
		EventsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_bridge_events_forwarded_total",
			Help: "Control events moved from a shared event table onto the mail bus",
		}, []string{"channel", "event"}),
		PacketsLost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_ring_packets_lost_total",
			Help: "Ring packets overwritten before the consumer reached them",
		}, []string{"channel"}),
		OversizeDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_ring_oversize_drops_total",
			Help: "Packets dropped because they exceed the ring slot size",
		}, []string{"channel"}),

		QueueDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_mail_queue_drops_total",
			Help: "Items discarded by bounded mail queues",
		}, []string{"queue"}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "sunbeam_sessions_started_total",
			Help: "Sessions that reached the running state",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "sunbeam_sessions_failed_total",
			Help: "Session starts refused, e.g. because no encoder was found",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "sunbeam_active_sessions",
			Help: "Sessions currently running",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sunbeam_session_duration_seconds",
			Help:    "Time from session start to join",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),

		ShardsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_delivery_shards_sent_total",
			Help: "FEC shards handed to subscribers",
		}, []string{"channel"}),
		SubscriberDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_delivery_subscriber_drops_total",
			Help: "Shards dropped because a subscriber buffer was full",
		}, []string{"channel"}),
		Subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sunbeam_delivery_subscribers",
			Help: "Connected media subscribers",
		}, []string{"channel"}),
		ControlMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunbeam_control_messages_total",
			Help: "Control messages received from clients",
		}, []string{"type"}),
		ControlErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sunbeam_control_errors_total",
			Help: "Malformed or failed control messages",
		}),
		FECEncodeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sunbeam_fec_encode_seconds",
			Help:    "Time spent FEC encoding one packet",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Forwarded records n packets moved on channel.
func (m *Metrics) Forwarded(channel string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PacketsForwarded.WithLabelValues(channel).Add(float64(n))
}

// Event records one control event moved on channel.
func (m *Metrics) Event(channel, event string) {
	if m == nil {
		return
	}
	m.EventsForwarded.WithLabelValues(channel, event).Inc()
}

// Lost records n ring packets lost on channel.
func (m *Metrics) Lost(channel string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.PacketsLost.WithLabelValues(channel).Add(float64(n))
}

// Oversize records a packet too large for its ring slot.
func (m *Metrics) Oversize(channel string) {
	if m == nil {
		return
	}
	m.OversizeDrops.WithLabelValues(channel).Inc()
}

// QueueDropped records n items discarded by a bounded mail queue.
func (m *Metrics) QueueDropped(queue string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.QueueDrops.WithLabelValues(queue).Add(float64(n))
}

// SessionStarted records a session entering the running state.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionFailed records a refused session start.
func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

// SessionEnded records a joined session and how long it ran.
func (m *Metrics) SessionEnded(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

// ShardSent records n shards delivered on channel.
func (m *Metrics) ShardSent(channel string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ShardsSent.WithLabelValues(channel).Add(float64(n))
}

// SubscriberDropped records a shard dropped for a slow subscriber.
func (m *Metrics) SubscriberDropped(channel string) {
	if m == nil {
		return
	}
	m.SubscriberDrops.WithLabelValues(channel).Inc()
}

// SubscriberDelta adjusts the subscriber gauge of channel by delta.
func (m *Metrics) SubscriberDelta(channel string, delta int) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(channel).Add(float64(delta))
}

// Control records one control message of the given type.
func (m *Metrics) Control(msgType string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(msgType).Inc()
}

// ControlError records a malformed control message.
func (m *Metrics) ControlError() {
	if m == nil {
		return
	}
	m.ControlErrors.Inc()
}

// FECEncoded records the time spent encoding one packet.
func (m *Metrics) FECEncoded(seconds float64) {
	if m == nil {
		return
	}
	m.FECEncodeSeconds.Observe(seconds)
}
