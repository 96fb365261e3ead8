// Package metrics exposes prometheus instrumentation for the dispatch queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the queue's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	EmailsSent    prometheus.Counter
	EmailsFailed  prometheus.Counter
	SendAttempts  prometheus.Counter
	CycleDuration prometheus.Histogram
	QueueDepth    prometheus.Gauge
}

// New creates and registers the queue collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EmailsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "postbox",
		Name:      "emails_sent_total",
		Help:      "Number of e-mails delivered successfully.",
	})
	m.EmailsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "postbox",
		Name:      "emails_failed_total",
		Help:      "Number of e-mails that exhausted their attempts.",
	})
	m.SendAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "postbox",
		Name:      "send_attempts_total",
		Help:      "Number of delivery attempts made.",
	})
	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "postbox",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of one queue runner cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "postbox",
		Name:      "queue_depth",
		Help:      "Number of e-mails selected in the last runner cycle.",
	})

	m.registry.MustRegister(
		m.EmailsSent,
		m.EmailsFailed,
		m.SendAttempts,
		m.CycleDuration,
		m.QueueDepth,
	)

	return m
}

// Registry returns the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
