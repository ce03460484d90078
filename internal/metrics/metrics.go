// Package metrics defines the Prometheus collectors for the suggestion index
// and exposes an HTTP handler for scraping.
//
// A nil *Metrics is valid and records nothing, so core packages never need to
// check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PostingsWritten   prometheus.Counter
	PostingsRemoved   prometheus.Counter
	SearchResults     prometheus.Histogram
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suggest_operations_total",
				Help: "Total index operations by operation and status (ok, error).",
			},
			[]string{"op", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "suggest_operation_duration_seconds",
				Help:    "Index operation latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"op"},
		),
		PostingsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "suggest_postings_written_total",
				Help: "Total postings written to the references collection.",
			},
		),
		PostingsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "suggest_postings_removed_total",
				Help: "Total postings removed from the references collection.",
			},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "suggest_search_results",
				Help:    "Number of documents returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "suggest_tokenizer_cache_hits_total",
				Help: "Total tokenizer cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "suggest_tokenizer_cache_misses_total",
				Help: "Total tokenizer cache misses.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.OperationsTotal,
			m.OperationDuration,
			m.PostingsWritten,
			m.PostingsRemoved,
			m.SearchResults,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
		)
	}

	return m
}

// ObserveOperation records the outcome and latency of one operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddPostingsWritten counts postings added by a committed write.
func (m *Metrics) AddPostingsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostingsWritten.Add(float64(n))
}

// AddPostingsRemoved counts postings removed by a committed write.
func (m *Metrics) AddPostingsRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostingsRemoved.Add(float64(n))
}

// ObserveSearchResults records the size of one search result.
func (m *Metrics) ObserveSearchResults(n int) {
	if m == nil {
		return
	}
	m.SearchResults.Observe(float64(n))
}

// CacheHit implements tokenizer.CacheObserver.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// CacheMiss implements tokenizer.CacheObserver.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}
