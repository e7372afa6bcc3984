package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	PagesTotal        *prometheus.CounterVec
	SitesTotal        *prometheus.CounterVec
	SiteDuration      prometheus.Histogram
	DiagnosticsTotal  prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of normalised products per site.",
		},
		[]string{"site_id"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts issued.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages processed by outcome.",
		},
		[]string{"outcome"},
	)
	sites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_sites_total",
			Help: "Site runs by terminal state.",
		},
		[]string{"state"},
	)
	siteDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_site_duration_seconds",
			Help:    "Wall-clock time of one site run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	diagnostics := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_diagnostics_saved_total",
			Help: "Diagnostic page captures written for zero-result sites.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, retries, errorsTotal, pages, sites, siteDuration, diagnostics)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		PagesTotal:        pages,
		SitesTotal:        sites,
		SiteDuration:      siteDuration,
		DiagnosticsTotal:  diagnostics,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddItems adds normalised products for a site.
func (m *Metrics) AddItems(siteID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(siteID).Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncPage counts a listing page by outcome.
func (m *Metrics) IncPage(outcome PageOutcome) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveSite records the terminal state and duration of a site run.
func (m *Metrics) ObserveSite(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.SitesTotal.WithLabelValues(state).Inc()
	m.SiteDuration.Observe(d.Seconds())
}

// IncDiagnostics counts a saved diagnostic capture.
func (m *Metrics) IncDiagnostics() {
	if m == nil {
		return
	}
	m.DiagnosticsTotal.Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format, for
// batch runs that exit before a scrape could happen.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
