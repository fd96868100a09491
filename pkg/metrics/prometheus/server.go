package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/xnet/internal/bytesize"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/metrics"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	accepted    *prometheus.CounterVec
	closed      *prometheus.CounterVec
	forceClosed *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	active      *prometheus.GaugeVec
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics.
//
// Returns nil if metrics are not enabled.
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &serverMetrics{
		accepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
			[]string{"network"},
		),
		closed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_connections_closed_total",
				Help: "Total number of connections that finished serving",
			},
			[]string{"network"},
		),
		forceClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_connections_force_closed_total",
				Help: "Total number of connections closed after the shutdown timeout",
			},
			[]string{"network"},
		),
		rejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xnet_connections_rejected_total",
				Help: "Total number of connections refused at the connection limit",
			},
			[]string{"network"},
		),
		active: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xnet_connections_active",
				Help: "Current number of active connections",
			},
			[]string{"network"},
		),
	}
}

func (m *serverMetrics) RecordConnectionAccepted(network string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(network).Inc()
}

func (m *serverMetrics) RecordConnectionClosed(network string) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(network).Inc()
}

func (m *serverMetrics) RecordConnectionForceClosed(network string) {
	if m == nil {
		return
	}
	m.forceClosed.WithLabelValues(network).Inc()
}

func (m *serverMetrics) RecordConnectionRejected(network string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(network).Inc()
}

func (m *serverMetrics) SetActiveConnections(network string, count int32) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(network).Set(float64(count))
}

// ============================================================================
// Heartbeat
// ============================================================================

type heartbeatMetrics struct {
	probes   prometheus.Counter
	timeouts prometheus.Counter
	tracked  prometheus.Gauge
}

// NewHeartbeatMetrics creates a Prometheus-backed HeartbeatMetrics.
//
// Returns nil if metrics are not enabled.
func NewHeartbeatMetrics() metrics.HeartbeatMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &heartbeatMetrics{
		probes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "xnet_heartbeat_probes_total",
			Help: "Total number of liveness probes sent",
		}),
		timeouts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "xnet_heartbeat_timeouts_total",
			Help: "Total number of connections closed for missing liveness probes",
		}),
		tracked: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "xnet_heartbeat_tracked_connections",
			Help: "Current number of connections under liveness supervision",
		}),
	}
}

func (m *heartbeatMetrics) RecordProbe() {
	if m == nil {
		return
	}
	m.probes.Inc()
}

func (m *heartbeatMetrics) RecordLivenessTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *heartbeatMetrics) SetTracked(count int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(count))
}

// ============================================================================
// Buffer pool
// ============================================================================

// poolCollector exports bufpool statistics at scrape time.
type poolCollector struct {
	pool    *bufpool.Pool
	free    *prometheus.Desc
	hits    *prometheus.Desc
	misses  *prometheus.Desc
	dropped *prometheus.Desc
}

// RegisterPoolCollector exports the statistics of pool on the registry.
// It is a no-op when metrics are disabled.
func RegisterPoolCollector(pool *bufpool.Pool) {
	if !metrics.IsEnabled() {
		return
	}

	labels := []string{"size"}
	metrics.GetRegistry().MustRegister(&poolCollector{
		pool:    pool,
		free:    prometheus.NewDesc("xnet_bufpool_free_buffers", "Buffers retained on the free list", labels, nil),
		hits:    prometheus.NewDesc("xnet_bufpool_hits_total", "Get calls served from the free list", labels, nil),
		misses:  prometheus.NewDesc("xnet_bufpool_misses_total", "Get calls that allocated", labels, nil),
		dropped: prometheus.NewDesc("xnet_bufpool_dropped_total", "Put calls rejected by the retention limit", labels, nil),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.free
	ch <- c.hits
	ch <- c.misses
	ch <- c.dropped
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pool.Stats() {
		size := sizeLabel(s.Size)
		ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(s.Free), size)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), size)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), size)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), size)
	}
}

func sizeLabel(size int) string {
	return bytesize.ByteSize(size).String()
}
