package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection plus in-memory
// per-domain aggregates, readable through DomainAggregates.
type MetricsCollector struct {
	// Counters
	PagesCrawledTotal     prometheus.Counter
	FailuresTotal         *prometheus.CounterVec
	RetriesScheduledTotal prometheus.Counter
	QueuedURLsTotal       prometheus.Counter
	RobotsDisallowedTotal prometheus.Counter

	// Gauges
	QueueSize    prometheus.Gauge
	OpenCircuits prometheus.Gauge
	SpaDetected  prometheus.Gauge

	// Histograms
	ScrapingDuration prometheus.Histogram
	ResponseSize     prometheus.Histogram

	mu      sync.Mutex
	domains map[string]*DomainAggregate
}

// DomainAggregate is the per-domain rollup kept alongside the Prometheus
// series.
type DomainAggregate struct {
	Domain       string
	PagesCrawled int
	Failures     int
	BytesFetched int64
}

// NewMetricsCollector creates a collector registered against reg. Pass
// prometheus.DefaultRegisterer in production wiring, or a fresh registry
// in tests.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		// Counters
		PagesCrawledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_crawled_total",
			Help: "The total number of pages successfully downloaded",
		}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_failures_total",
			Help: "The total number of terminal fetch failures by type",
		}, []string{"failure_type"}),
		RetriesScheduledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_retries_scheduled_total",
			Help: "The total number of retries scheduled",
		}),
		QueuedURLsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_urls_queued_total",
			Help: "The total number of URLs queued",
		}),
		RobotsDisallowedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_robots_disallowed_total",
			Help: "The total number of URLs disallowed by robots.txt",
		}),

		// Gauges
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_queue_size",
			Help: "The current size of the frontier (ready + retry queues)",
		}),
		OpenCircuits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_open_circuits",
			Help: "The number of currently open circuit breakers",
		}),
		SpaDetected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_spa_detected",
			Help: "Whether the session's SPA check detected a client-rendered site",
		}),

		// Histograms
		ScrapingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "The distribution of fetch durations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // From 10ms to ~5s
		}),
		ResponseSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_response_size_bytes",
			Help:    "The distribution of response sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // From 1KB to 512KB
		}),

		domains: make(map[string]*DomainAggregate),
	}
}

func (m *MetricsCollector) domain(name string) *DomainAggregate {
	agg, exists := m.domains[name]
	if !exists {
		agg = &DomainAggregate{Domain: name}
		m.domains[name] = agg
	}
	return agg
}

// RecordPageCrawled records a successful download for a domain.
func (m *MetricsCollector) RecordPageCrawled(domain string, size int) {
	m.PagesCrawledTotal.Inc()
	m.ResponseSize.Observe(float64(size))

	m.mu.Lock()
	agg := m.domain(domain)
	agg.PagesCrawled++
	agg.BytesFetched += int64(size)
	m.mu.Unlock()
}

// RecordFailure records a terminal failure for a domain.
func (m *MetricsCollector) RecordFailure(domain, failureType string) {
	m.FailuresTotal.WithLabelValues(failureType).Inc()

	m.mu.Lock()
	m.domain(domain).Failures++
	m.mu.Unlock()
}

// RecordScrapingDuration records the duration of a fetch
func (m *MetricsCollector) RecordScrapingDuration(duration time.Duration) {
	m.ScrapingDuration.Observe(duration.Seconds())
}

// IncrementRetriesScheduled increments the counter for scheduled retries
func (m *MetricsCollector) IncrementRetriesScheduled() {
	m.RetriesScheduledTotal.Inc()
}

// IncrementQueuedURLs increments the counter for queued URLs
func (m *MetricsCollector) IncrementQueuedURLs() {
	m.QueuedURLsTotal.Inc()
}

// IncrementRobotsDisallowed increments the counter for URLs disallowed by robots.txt
func (m *MetricsCollector) IncrementRobotsDisallowed() {
	m.RobotsDisallowedTotal.Inc()
}

// SetQueueSize sets the gauge for frontier size
func (m *MetricsCollector) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetOpenCircuits sets the gauge for open circuits
func (m *MetricsCollector) SetOpenCircuits(count int) {
	m.OpenCircuits.Set(float64(count))
}

// SetSpaDetected sets the SPA detection gauge.
func (m *MetricsCollector) SetSpaDetected(detected bool) {
	if detected {
		m.SpaDetected.Set(1)
	} else {
		m.SpaDetected.Set(0)
	}
}

// DomainAggregates returns a copy of the per-domain rollups, sorted by
// domain name.
func (m *MetricsCollector) DomainAggregates() []DomainAggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DomainAggregate, 0, len(m.domains))
	for _, agg := range m.domains {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Handler returns an HTTP handler for exposing metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
