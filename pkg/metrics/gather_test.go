package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gathered indexes a registry snapshot by family name.
type gathered map[string]*dto.MetricFamily

func gather(t *testing.T, reg *prometheus.Registry) gathered {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	out := gathered{}
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// sample returns the series of name whose labels include every pair in
// kv (name, value, name, value...).
func (g gathered) sample(t *testing.T, name string, kv ...string) *dto.Metric {
	t.Helper()
	mf, ok := g[name]
	if !ok {
		t.Fatalf("metric %q not registered", name)
	}
	for _, m := range mf.GetMetric() {
		if hasLabels(m, kv) {
			return m
		}
	}
	t.Fatalf("metric %q has no series %v", name, kv)
	return nil
}

func (g gathered) counter(t *testing.T, name string, kv ...string) float64 {
	t.Helper()
	return g.sample(t, name, kv...).GetCounter().GetValue()
}

func hasLabels(m *dto.Metric, kv []string) bool {
	for i := 0; i+1 < len(kv); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == kv[i] && lp.GetValue() == kv[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
