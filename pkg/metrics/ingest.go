package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics records ingestion outcomes and blob write volume.
type IngestMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	written  *prometheus.CounterVec
	bytes    prometheus.Counter
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_ingest_total",
		Help: "Image uploads by dedup outcome (miss, reuse, existing, error).",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "image_ingest_duration_seconds",
		Help:    "Wall time of image ingestion including variant generation.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})
	written := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_blob_writes_total",
		Help: "Variant objects written to blob storage.",
	}, []string{"size_class"})
	bytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_blob_bytes_written_total",
		Help: "Bytes of variant objects written to blob storage.",
	})
	reg.MustRegister(outcomes, duration, written, bytes)
	return &IngestMetrics{outcomes: outcomes, duration: duration, written: written, bytes: bytes}
}

// Observe counts one ingestion and its duration under outcome.
func (m *IngestMetrics) Observe(outcome string, d time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddWritten records one stored variant object.
func (m *IngestMetrics) AddWritten(sizeClass string, n int64) {
	if m == nil || m.written == nil {
		return
	}
	m.written.WithLabelValues(normalizeLabel(sizeClass)).Inc()
	m.bytes.Add(float64(n))
}
