package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics records publisher results per event type.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	pending      prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events published.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"event_type"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the dead letter table.",
	}, []string{"event_type"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_batch_size",
		Help: "Rows claimed by the most recent publisher poll.",
	})
	reg.MustRegister(published, failed, deadLettered, pending)
	return &OutboxMetrics{published: published, failed: failed, deadLettered: deadLettered, pending: pending}
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(eventType string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) SetBatch(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}
