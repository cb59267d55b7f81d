package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("blob-gc", 250*time.Millisecond)
	m.IncSuccess("blob-gc")
	m.AddItems("blob-gc", "purged", 3)
	m.AddItems("blob-gc", "purged", 0)
	m.AddItems("outbox-retention", "dlq_deleted", -2)
	m.IncFailure("primary-reconcile")
	m.IncFailure("")

	g := gather(t, reg)
	cases := []struct {
		metric string
		labels []string
		want   float64
	}{
		{"cron_job_success_total", []string{"job", "blob-gc"}, 1},
		{"cron_job_failure_total", []string{"job", "primary-reconcile"}, 1},
		{"cron_job_failure_total", []string{"job", "unknown"}, 1},
		{"cron_job_items_total", []string{"job", "blob-gc", "action", "purged"}, 3},
	}
	for _, tc := range cases {
		if got := g.counter(t, tc.metric, tc.labels...); got != tc.want {
			t.Fatalf("%s%v = %v, want %v", tc.metric, tc.labels, got, tc.want)
		}
	}
	if n := len(g["cron_job_items_total"].GetMetric()); n != 1 {
		t.Fatalf("non-positive item counts should not create series, got %d", n)
	}
	if ts := g.sample(t, "cron_job_last_success_timestamp_seconds", "job", "blob-gc").GetGauge().GetValue(); ts <= 0 {
		t.Fatalf("expected last success timestamp, got %v", ts)
	}
	h := g.sample(t, "cron_job_duration_seconds", "job", "blob-gc").GetHistogram()
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 0.25 {
		t.Fatalf("unexpected duration histogram count=%d sum=%v", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestCronJobMetricsWithoutRegistry(t *testing.T) {
	var nilMetrics *CronJobMetrics
	for _, m := range []*CronJobMetrics{nilMetrics, NewCronJobMetrics(nil)} {
		m.ObserveDuration("blob-gc", time.Second)
		m.IncSuccess("blob-gc")
		m.IncFailure("blob-gc")
		m.AddItems("blob-gc", "purged", 1)
	}
}
