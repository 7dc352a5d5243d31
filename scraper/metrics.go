package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	SellersFound     prometheus.Counter
	RetriesTotal     prometheus.Counter
	ExhaustedTotal   prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	InFlightRequests prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total offer page requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for offer page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sellers := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_sellers_found_total",
			Help: "Total number of seller records produced.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	exhausted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_exhausted_total",
			Help: "ASINs that failed on every attempt.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of failed attempts by error type.",
		},
		[]string{"error_type"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "ASINs served from the run cache.",
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_inflight_fetches",
			Help: "Fetches currently admitted by the concurrency limiter.",
		},
	)

	registry.MustRegister(requests, requestDuration, sellers, retries, exhausted, errorsTotal, cacheHits, inFlight)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		SellersFound:     sellers,
		RetriesTotal:     retries,
		ExhaustedTotal:   exhausted,
		ErrorsTotal:      errorsTotal,
		CacheHitsTotal:   cacheHits,
		InFlightRequests: inFlight,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddSellers adds n produced seller records.
func (m *Metrics) AddSellers(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SellersFound.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncExhausted counts an ASIN whose attempts all failed.
func (m *Metrics) IncExhausted() {
	if m == nil {
		return
	}
	m.ExhaustedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCacheHit counts an ASIN answered from the run cache.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// SetInFlight records the number of admitted fetches.
func (m *Metrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.InFlightRequests.Set(float64(n))
}
