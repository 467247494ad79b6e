package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeDegraded  = "degraded"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics holds all Prometheus metrics for one shmcopy process.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Chunk metrics
	ChunksTotal      *prometheus.CounterVec
	BytesTotal       *prometheus.CounterVec
	EmptyChunksTotal *prometheus.CounterVec
	WaitDuration     *prometheus.HistogramVec

	// Stream metrics
	StreamErrors *prometheus.CounterVec

	// Transfer metrics
	TransfersTotal   *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	LastCompletion   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector backed by its own registry,
// so that repeated transfers in one process (tests) never collide with
// the global default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Chunk metrics
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_chunks_total",
				Help: "Total number of chunks moved through the shared segment",
			},
			[]string{"role"},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_bytes_total",
				Help: "Total number of payload bytes moved through the shared segment",
			},
			[]string{"role"},
		),
		EmptyChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_empty_chunks_total",
				Help: "Zero-length terminal chunks published or received",
			},
			[]string{"role"},
		),
		WaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shmcopy_wait_duration_seconds",
				Help:    "Time spent blocked on a slot condition",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"role"},
		),

		// Stream metrics
		StreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_stream_errors_total",
				Help: "Source read and destination write failures",
			},
			[]string{"role", "direction"},
		),

		// Transfer metrics
		TransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_transfers_total",
				Help: "Total number of transfers by outcome",
			},
			[]string{"role", "outcome"},
		),
		TransferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shmcopy_transfer_duration_seconds",
				Help:    "Transfer duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 60},
			},
			[]string{"role"},
		),
		LastCompletion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shmcopy_last_completion_timestamp_seconds",
				Help: "Unix time of the last finished transfer",
			},
		),
	}
}

// Registry returns the registry holding every shmcopy metric.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveChunk records one chunk of n bytes.
func (m *Metrics) ObserveChunk(role string, n int) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(role).Inc()
	if n == 0 {
		m.EmptyChunksTotal.WithLabelValues(role).Inc()
		return
	}
	m.BytesTotal.WithLabelValues(role).Add(float64(n))
}

// ObserveWait records time spent blocked on a slot.
func (m *Metrics) ObserveWait(role string, d time.Duration) {
	if m == nil {
		return
	}
	m.WaitDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ObserveStreamError records a failed source read or destination write.
func (m *Metrics) ObserveStreamError(role, direction string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(role, direction).Inc()
}

// RecordTransfer records a finished transfer
func (m *Metrics) RecordTransfer(role, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(role, outcome).Inc()
	m.TransferDuration.WithLabelValues(role).Observe(duration.Seconds())
	m.LastCompletion.SetToCurrentTime()
}

// WriteTextfile writes every metric to path in the Prometheus text
// format, atomically, for pickup by a node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
