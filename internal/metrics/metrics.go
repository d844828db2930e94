// Package metrics provides Prometheus metrics for the chat relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "relaychat"
)

// Transport label values.
const (
	TransportStream   = "stream"
	TransportDatagram = "datagram"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsJoined    prometheus.Counter
	SessionsLeft      prometheus.Counter
	SessionDuration   prometheus.Histogram
	HandshakeRejected *prometheus.CounterVec

	// Fan-out metrics
	FramesRelayed   prometheus.Counter
	BytesRelayed    prometheus.Counter
	SendFailures    *prometheus.CounterVec
	PresenceSent    *prometheus.CounterVec
	FanoutWidth     prometheus.Histogram
	FramesThrottled prometheus.Counter

	// Datagram socket
	DatagramsDiscarded prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the metrics instance registered with the default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewUnregistered returns metrics attached to a private registry.
func NewUnregistered() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates metrics registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of registered sessions",
		}),
		SessionsJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_joined_total",
			Help:      "Total sessions that completed the handshake",
		}),
		SessionsLeft: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_left_total",
			Help:      "Total registered sessions torn down",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of registered sessions",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}),
		HandshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejected_total",
			Help:      "Frames discarded before a valid handshake, by reason",
		}, []string{"reason"}),

		FramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Chat frames received for fan-out",
		}),
		BytesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Bytes written to stream targets",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Per-target send failures during broadcast",
		}, []string{"transport"}),
		PresenceSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_sent_total",
			Help:      "Presence datagrams sent, by kind",
		}, []string{"kind"}),
		FanoutWidth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_targets",
			Help:      "Number of targets per stream broadcast",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		FramesThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_throttled_total",
			Help:      "Frames delayed by the per-session rate limit",
		}),

		DatagramsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_discarded_total",
			Help:      "Inbound datagrams read and ignored by the relay",
		}),
	}
}

// RecordJoin records a session completing its handshake. active is the
// registry size after insertion.
func (m *Metrics) RecordJoin(active int) {
	m.SessionsJoined.Inc()
	m.SessionsActive.Set(float64(active))
}

// RecordLeave records a session tearing down. active is the registry size
// after removal.
func (m *Metrics) RecordLeave(active int, durationSeconds float64) {
	m.SessionsLeft.Inc()
	m.SessionsActive.Set(float64(active))
	m.SessionDuration.Observe(durationSeconds)
}

// SetActive updates the registered-session gauge.
func (m *Metrics) SetActive(active int) {
	m.SessionsActive.Set(float64(active))
}

// RecordHandshakeRejected records a discarded pre-handshake frame.
func (m *Metrics) RecordHandshakeRejected(reason string) {
	m.HandshakeRejected.WithLabelValues(reason).Inc()
}

// RecordFanout records one stream broadcast to targets recipients.
func (m *Metrics) RecordFanout(targets int) {
	m.FramesRelayed.Inc()
	m.FanoutWidth.Observe(float64(targets))
}

// RecordBytesRelayed adds n bytes written to stream targets.
func (m *Metrics) RecordBytesRelayed(n int) {
	m.BytesRelayed.Add(float64(n))
}

// RecordSendFailure records a failed send on transport.
func (m *Metrics) RecordSendFailure(transport string) {
	m.SendFailures.WithLabelValues(transport).Inc()
}

// RecordPresence records a presence datagram of kind.
func (m *Metrics) RecordPresence(kind string) {
	m.PresenceSent.WithLabelValues(kind).Inc()
}

// RecordThrottled records a frame delayed by the rate limiter.
func (m *Metrics) RecordThrottled() {
	m.FramesThrottled.Inc()
}

// RecordDatagramDiscarded records an ignored inbound datagram.
func (m *Metrics) RecordDatagramDiscarded() {
	m.DatagramsDiscarded.Inc()
}
