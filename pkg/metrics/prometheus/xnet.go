// Package prometheus implements the pkg/metrics interfaces on top of the
// process-wide Prometheus registry.
//
// Every constructor returns nil when metrics are disabled (InitRegistry not
// called), so its result can be passed straight to the components.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/xnet/pkg/metrics"
)

// frameBuckets spans the legal frame sizes (20B header up to ~64KB payload).
var frameBuckets = []float64{
	32,    // header + tiny payload
	128,   // control packets
	512,   // small messages
	4096,  // one stream chunk
	16384, // 16KB
	65571, // largest legal frame
}

// latencyBuckets in milliseconds.
var latencyBuckets = []float64{
	0.05, // 50us - in-process handlers
	0.1,  // 100us
	0.5,  // 500us
	1,    // 1ms
	5,    // 5ms - LAN round trip
	10,   // 10ms
	50,   // 50ms
	100,  // 100ms - WAN round trip
	500,  // 500ms
	1000, // 1s
	5000, // 5s
}

// connectionMetrics is the Prometheus implementation of metrics.ConnectionMetrics.
type connectionMetrics struct {
	framesReceived   *prometheus.CounterVec
	framesSent       *prometheus.CounterVec
	frameBytes       *prometheus.HistogramVec
	dispatchDuration *prometheus.HistogramVec
	dispatchFailures *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requests         *prometheus.CounterVec
	violations       *prometheus.CounterVec
}

// NewConnectionMetrics creates a Prometheus-backed ConnectionMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewConnectionMetrics() metrics.ConnectionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &connectionMetrics{
		framesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_frames_received_total",
				Help: "Total number of frames decoded by packet kind",
			},
			[]string{"kind"},
		),
		framesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_frames_sent_total",
				Help: "Total number of frames written by packet kind",
			},
			[]string{"kind"},
		),
		frameBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xnet_frame_bytes",
				Help:    "Distribution of frame sizes including the header",
				Buckets: frameBuckets,
			},
			[]string{"direction"}, // "in", "out"
		),
		dispatchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xnet_dispatch_duration_milliseconds",
				Help:    "Duration of one packet's pass through the handler chain",
				Buckets: latencyBuckets,
			},
			[]string{"kind"},
		),
		dispatchFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_dispatch_failures_total",
				Help: "Total number of handler chains that failed",
			},
			[]string{"kind"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xnet_request_duration_milliseconds",
				Help:    "Round-trip time of correlated requests",
				Buckets: latencyBuckets,
			},
			[]string{"kind"},
		),
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_requests_total",
				Help: "Total number of correlated requests by outcome",
			},
			[]string{"kind", "outcome"},
		),
		violations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_protocol_violations_total",
				Help: "Total number of connections closed for protocol or handler faults",
			},
			[]string{"reason"},
		),
	}
}

func (m *connectionMetrics) RecordFrameReceived(kind string, bytes int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
	m.frameBytes.WithLabelValues("in").Observe(float64(bytes))
}

func (m *connectionMetrics) RecordFrameSent(kind string, bytes int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(kind).Inc()
	m.frameBytes.WithLabelValues("out").Observe(float64(bytes))
}

func (m *connectionMetrics) RecordDispatch(kind string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(kind).Observe(duration.Seconds() * 1000)
	if failed {
		m.dispatchFailures.WithLabelValues(kind).Inc()
	}
}

func (m *connectionMetrics) RecordRequest(kind string, duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
	if outcome == metrics.OutcomeOK {
		m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds() * 1000)
	}
}

func (m *connectionMetrics) RecordProtocolViolation(reason string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(reason).Inc()
}
