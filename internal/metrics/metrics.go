// Package metrics provides Prometheus metrics for Flingr.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "flingr"
)

// Lookup request results.
const (
	LookupValid     = "valid"
	LookupInvalid   = "invalid"
	LookupError     = "error"
	LookupSignError = "sign_error"
)

// Metrics contains all Prometheus metrics for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lookup metrics
	LookupRequests *prometheus.CounterVec
	LookupLatency  prometheus.Histogram
	Resolves       *prometheus.CounterVec
	ResolveLatency prometheus.Histogram

	// Session metrics
	SessionOpens       *prometheus.CounterVec
	SessionOpenLatency prometheus.Histogram
	SessionsActive     prometheus.Gauge

	// Transfer metrics
	Transfers        *prometheus.CounterVec
	TransfersActive  prometheus.Gauge
	BytesUploaded    *prometheus.CounterVec
	TransferDuration prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LookupRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_requests_total",
			Help:      "Total lookup service requests by result",
		}, []string{"result"}),
		LookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_request_seconds",
			Help:      "Histogram of single lookup request latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		Resolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Total activation code resolutions by outcome",
		}, []string{"outcome"}),
		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_seconds",
			Help:      "Histogram of time spent resolving an activation code",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30},
		}),

		SessionOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_opens_total",
			Help:      "Total session open attempts by endpoint and result",
		}, []string{"endpoint", "result"}),
		SessionOpenLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_open_seconds",
			Help:      "Histogram of session handshake latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open sessions",
		}),

		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total transfers by status and failure reason",
		}, []string{"status", "reason"}),
		TransfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of transfers in progress",
		}),
		BytesUploaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total bytes written to remote files by endpoint",
		}, []string{"endpoint"}),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_seconds",
			Help:      "Histogram of whole transfer duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// RecordLookup records one lookup request.
func (m *Metrics) RecordLookup(result string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.LookupRequests.WithLabelValues(result).Inc()
	m.LookupLatency.Observe(latencySeconds)
}

// RecordResolve records the terminal outcome of a resolution.
func (m *Metrics) RecordResolve(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.Resolves.WithLabelValues(outcome).Inc()
	m.ResolveLatency.Observe(latencySeconds)
}

// RecordSessionOpen records a successful session handshake.
func (m *Metrics) RecordSessionOpen(endpoint string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.SessionOpens.WithLabelValues(endpoint, "ok").Inc()
	m.SessionOpenLatency.Observe(latencySeconds)
	m.SessionsActive.Inc()
}

// RecordSessionFailure records a failed session handshake.
func (m *Metrics) RecordSessionFailure(endpoint string) {
	if m == nil {
		return
	}
	m.SessionOpens.WithLabelValues(endpoint, "failed").Inc()
}

// RecordSessionClose records a session being closed.
func (m *Metrics) RecordSessionClose() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordTransferStart records a transfer beginning.
func (m *Metrics) RecordTransferStart() {
	if m == nil {
		return
	}
	m.TransfersActive.Inc()
}

// RecordTransferEnd records the terminal outcome of a transfer.
func (m *Metrics) RecordTransferEnd(status, reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TransfersActive.Dec()
	m.Transfers.WithLabelValues(status, reason).Inc()
	m.TransferDuration.Observe(durationSeconds)
}

// RecordBytesUploaded records bytes written over an endpoint.
func (m *Metrics) RecordBytesUploaded(endpoint string, n int) {
	if m == nil {
		return
	}
	m.BytesUploaded.WithLabelValues(endpoint).Add(float64(n))
}
