// Package metrics exposes Prometheus collectors for pipeline runs.
//
// Collectors live on a private registry so tests can create independent
// instances and the schedule command can serve exactly these series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "city_events"

// Metrics holds the collectors updated by the fetch chain and the pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	discovered    *prometheus.CounterVec
	datasetSize   *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec
	lastSuccessTS *prometheus.GaugeVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by city and outcome",
	}, []string{"city", "outcome"})
	m.fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Fetch strategy attempts by strategy and result",
	}, []string{"strategy", "result"})
	m.discovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_discovered_total",
		Help:      "Newly discovered events by city",
	}, []string{"city"})
	m.datasetSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dataset_events",
		Help:      "Events in the most recently persisted dataset",
	}, []string{"city"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a single city run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"city"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that persisted a dataset",
	}, []string{"city"})

	m.registry.MustRegister(
		m.runsTotal,
		m.fetchAttempts,
		m.discovered,
		m.datasetSize,
		m.runDuration,
		m.lastSuccessTS,
	)
	return m
}

// Registry returns the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FetchAttempt counts one strategy attempt
func (m *Metrics) FetchAttempt(strategy string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.fetchAttempts.WithLabelValues(strategy, result).Inc()
}

// RunFinished records the outcome of a city run
func (m *Metrics) RunFinished(city, outcome string, newEvents, total int, persisted bool, took time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(city, outcome).Inc()
	m.runDuration.WithLabelValues(city).Observe(took.Seconds())
	if newEvents > 0 {
		m.discovered.WithLabelValues(city).Add(float64(newEvents))
	}
	if persisted {
		m.datasetSize.WithLabelValues(city).Set(float64(total))
		m.lastSuccessTS.WithLabelValues(city).SetToCurrentTime()
	}
}
