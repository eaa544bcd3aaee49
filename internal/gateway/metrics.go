package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	state            prometheus.Gauge
	reconnects       *prometheus.CounterVec
	heartbeatLatency prometheus.Histogram
	dispatches       *prometheus.CounterVec
	pending          prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them on reg.
// It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kephascord",
			Subsystem: "gateway",
			Name:      "state",
			Help:      "Current session state (0=disconnected ... 7=reconnecting)",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kephascord",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total number of reconnects by whether the session was resumable",
		}, []string{"resumable"}),
		heartbeatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kephascord",
			Subsystem: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Heartbeat round-trip latency",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kephascord",
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Total number of dispatch events received by type",
		}, []string{"event"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kephascord",
			Subsystem: "gateway",
			Name:      "pending_dispatches",
			Help:      "Dispatch events read but not yet taken by the consumer",
		}),
	}

	reg.MustRegister(m.state, m.reconnects, m.heartbeatLatency, m.dispatches, m.pending)
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) observeReconnect(resumable bool) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(strconv.FormatBool(resumable)).Inc()
}

func (m *Metrics) observeLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.heartbeatLatency.Observe(d.Seconds())
}

func (m *Metrics) observeDispatch(event string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(event).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
