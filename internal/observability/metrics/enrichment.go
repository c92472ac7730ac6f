// Package metrics provides custom Prometheus metrics for the metadata core.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EnrichmentMetrics contains all Prometheus metrics related to metadata
// enrichment and identifier resolution.
type EnrichmentMetrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	ResolveActions   *prometheus.CounterVec
	ConflictsCreated prometheus.Counter
	ConflictsUpdated *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewEnrichmentMetrics creates a new instance of EnrichmentMetrics registered
// on the given Prometheus registry.
func NewEnrichmentMetrics(registry *prometheus.Registry) (*EnrichmentMetrics, error) {
	m := &EnrichmentMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register enrichment metrics: %w", err)
	}
	return m, nil
}

func (m *EnrichmentMetrics) initMetrics() {
	m.ProviderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_provider_calls_total",
		Help: "Total number of external provider calls.",
	}, []string{"source", "capability"})

	m.ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_provider_errors_total",
		Help: "Total number of failed external provider calls.",
	}, []string{"source", "capability"})

	m.ProviderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrichment_provider_duration_seconds",
		Help:    "Duration of external provider calls in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"source"})

	m.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_cache_hits_total",
		Help: "Total number of cache hits per cache kind.",
	}, []string{"cache"})

	m.CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_cache_misses_total",
		Help: "Total number of cache misses per cache kind.",
	}, []string{"cache"})

	m.ResolveActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identifier_resolve_actions_total",
		Help: "Identifier resolution outcomes by action.",
	}, []string{"entity_type", "action"})

	m.ConflictsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_conflicts_created_total",
		Help: "Total number of metadata conflicts created.",
	})

	m.ConflictsUpdated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metadata_conflicts_resolved_total",
		Help: "Total number of metadata conflicts resolved by outcome.",
	}, []string{"outcome"})
}

// RecordProviderCall records one provider call with its outcome and duration.
func (m *EnrichmentMetrics) RecordProviderCall(source, capability string, seconds float64, err error) {
	m.ProviderCalls.WithLabelValues(source, capability).Inc()
	m.ProviderDuration.WithLabelValues(source).Observe(seconds)
	if err != nil {
		m.ProviderErrors.WithLabelValues(source, capability).Inc()
	}
}

// RecordCacheHit increments the hit counter for the named cache.
func (m *EnrichmentMetrics) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss increments the miss counter for the named cache.
func (m *EnrichmentMetrics) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// RecordResolveAction records the outcome of one identifier resolution.
func (m *EnrichmentMetrics) RecordResolveAction(entityType, action string) {
	m.ResolveActions.WithLabelValues(entityType, action).Inc()
}

// RecordConflictCreated increments the created-conflict counter.
func (m *EnrichmentMetrics) RecordConflictCreated() {
	m.ConflictsCreated.Inc()
}

// RecordConflictResolved records one conflict resolution outcome.
func (m *EnrichmentMetrics) RecordConflictResolved(outcome string) {
	m.ConflictsUpdated.WithLabelValues(outcome).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *EnrichmentMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ProviderCalls.Collect(ch)
	m.ProviderErrors.Collect(ch)
	m.ProviderDuration.Collect(ch)
	m.CacheHits.Collect(ch)
	m.CacheMisses.Collect(ch)
	m.ResolveActions.Collect(ch)
	m.ConflictsCreated.Collect(ch)
	m.ConflictsUpdated.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *EnrichmentMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ProviderCalls.Describe(ch)
	m.ProviderErrors.Describe(ch)
	m.ProviderDuration.Describe(ch)
	m.CacheHits.Describe(ch)
	m.CacheMisses.Describe(ch)
	m.ResolveActions.Describe(ch)
	m.ConflictsCreated.Describe(ch)
	m.ConflictsUpdated.Describe(ch)
}
