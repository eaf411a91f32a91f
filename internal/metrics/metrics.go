// Package metrics defines the Prometheus collectors exposed at /metrics:
// cache hit/miss counts, in-flight coalescing, dispatcher race outcomes,
// and batch progress. Counter/label shape follows
// other_examples' eopa batchquery handler
// (CounterVec with a "status" label, explicit Register on a registry); the
// promhttp.Handler wiring itself follows the teacher's cmd/cie/index.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this server registers.
type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	InFlightJoins   prometheus.Counter
	RaceOutcomes    *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	BatchTasksTotal *prometheus.CounterVec
}

// New constructs the collector set without registering it.
func New() *Metrics {
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "occi_cache_lookups_total",
			Help: "Cache lookups by outcome (label \"status\" is hit or miss).",
		}, []string{"status"}),
		InFlightJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occi_dispatch_in_flight_joins_total",
			Help: "Requests that joined an already-in-flight build instead of enqueuing a new one.",
		}),
		RaceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "occi_dispatch_race_outcomes_total",
			Help: "Dispatcher wait-or-redirect race outcomes (label \"outcome\" is result or redirect).",
		}, []string{"outcome"}),
		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "occi_compute_duration_seconds",
			Help:    "Worker compute duration by engine.",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine"}),
		BatchTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "occi_batch_tasks_total",
			Help: "Batch precompute tasks completed (label \"outcome\" is success, failure, or cached).",
		}, []string{"outcome"}),
	}
}

// MustRegister registers every collector on reg, panicking (as
// prometheus.MustRegister does) on a duplicate-registration bug.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.CacheLookups,
		m.InFlightJoins,
		m.RaceOutcomes,
		m.ComputeDuration,
		m.BatchTasksTotal,
	)
}

// CacheHit/CacheMiss/Redirected/Served/BatchTaskDone are small convenience
// wrappers so callers don't sprinkle label strings across the codebase.

func (m *Metrics) CacheHit()  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.CacheLookups.WithLabelValues("miss").Inc() }

func (m *Metrics) RaceResult()   { m.RaceOutcomes.WithLabelValues("result").Inc() }
func (m *Metrics) RaceRedirect() { m.RaceOutcomes.WithLabelValues("redirect").Inc() }

func (m *Metrics) BatchTaskSucceeded() { m.BatchTasksTotal.WithLabelValues("success").Inc() }
func (m *Metrics) BatchTaskFailed()    { m.BatchTasksTotal.WithLabelValues("failure").Inc() }
func (m *Metrics) BatchTaskCached()    { m.BatchTasksTotal.WithLabelValues("cached").Inc() }

func (m *Metrics) ObserveComputeDuration(engine string, seconds float64) {
	m.ComputeDuration.WithLabelValues(engine).Observe(seconds)
}
