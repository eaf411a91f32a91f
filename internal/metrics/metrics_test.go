package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCacheHitMissCounters(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	if v := counterValue(t, m.CacheLookups.WithLabelValues("hit")); v != 2 {
		t.Fatalf("expected 2 hits, got %v", v)
	}
	if v := counterValue(t, m.CacheLookups.WithLabelValues("miss")); v != 1 {
		t.Fatalf("expected 1 miss, got %v", v)
	}
}

func TestMustRegisterDoesNotPanic(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered collectors to report metric families")
	}
}

func TestRaceOutcomeCounters(t *testing.T) {
	m := New()
	m.RaceResult()
	m.RaceRedirect()
	m.RaceRedirect()

	if v := counterValue(t, m.RaceOutcomes.WithLabelValues("redirect")); v != 2 {
		t.Fatalf("expected 2 redirects, got %v", v)
	}
}
