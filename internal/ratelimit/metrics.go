package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	attemptDuration *prometheus.HistogramVec
}

// NewMetrics creates the scheduler collectors and registers them on reg.
// It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kephascord",
			Subsystem: "rest",
			Name:      "attempts_total",
			Help:      "Total number of REST attempts by route and outcome",
		}, []string{"route", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kephascord",
			Subsystem: "rest",
			Name:      "rate_limited_total",
			Help:      "Total number of 429 responses by scope",
		}, []string{"scope"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kephascord",
			Subsystem: "rest",
			Name:      "queue_depth",
			Help:      "Number of queued requests not yet dispatched",
		}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kephascord",
			Subsystem: "rest",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of REST attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(m.requests, m.rateLimited, m.queueDepth, m.attemptDuration)
	return m
}

func (m *Metrics) observeAttempt(route, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.attemptDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) observeRateLimit(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
