// Package metrics exposes Prometheus counters for scraping and ingestion.
//
// Metrics are registered on a dedicated registry rather than the global one so
// that each Metrics value (and each test) starts from zero.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "city_events"

// Run status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics tracks per-source ingestion counters and fetch timings.
// All operations are thread-safe.
type Metrics struct {
	registry *prometheus.Registry

	scrapeRuns     *prometheus.CounterVec
	eventsFound    *prometheus.CounterVec
	eventsInserted *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	insertFailures *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
}

// New creates a Metrics value with its own registry. Go runtime and process
// collectors are registered alongside the ingestion metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scrapeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrape_runs_total",
				Help:      "Scraper invocations by source and outcome",
			},
			[]string{"source", "status"},
		),
		eventsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_found_total",
				Help:      "Candidate events parsed from a source",
			},
			[]string{"source"},
		),
		eventsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_inserted_total",
				Help:      "Events written to storage",
			},
			[]string{"source"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_total",
				Help:      "Candidate events skipped because they already exist",
			},
			[]string{"source"},
		),
		insertFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "insert_failures_total",
				Help:      "Candidate events that were invalid or could not be looked up or inserted",
			},
			[]string{"source"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time spent fetching and parsing a source page",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"source"},
		),
	}

	m.registry.MustRegister(
		m.scrapeRuns,
		m.eventsFound,
		m.eventsInserted,
		m.duplicates,
		m.insertFailures,
		m.fetchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records the outcome of one scraper invocation
func (m *Metrics) ObserveRun(source string, success bool) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.scrapeRuns.WithLabelValues(source, status).Inc()
}

// ObserveFetch records how long a fetch took and how many candidates it produced
func (m *Metrics) ObserveFetch(source string, duration time.Duration, found int) {
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.eventsFound.WithLabelValues(source).Add(float64(found))
}

// IncInserted counts one inserted event
func (m *Metrics) IncInserted(source string) {
	m.eventsInserted.WithLabelValues(source).Inc()
}

// IncDuplicate counts one skipped duplicate
func (m *Metrics) IncDuplicate(source string) {
	m.duplicates.WithLabelValues(source).Inc()
}

// IncInsertFailure counts one invalid event or failed lookup or insert
func (m *Metrics) IncInsertFailure(source string) {
	m.insertFailures.WithLabelValues(source).Inc()
}
