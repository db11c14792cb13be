package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	PagesTotal         prometheus.Counter
	RowsAppendedTotal  prometheus.Counter
	DedupSkippedTotal  prometheus.Counter
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	ImagesWrittenTotal prometheus.Counter
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
			Help:    "HTTP request latency for search requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total search pages fetched successfully.",
		},
	)
	rowsAppended := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_rows_appended_total",
			Help: "Total rows appended to the JSONL snapshot.",
		},
	)
	dedupSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_dedup_skipped_total",
			Help: "Total items skipped because their SKU was already seen.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts after failed requests.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of failed requests by status.",
		},
		[]string{"status"},
	)
	imagesWritten := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_images_written_total",
			Help: "Total product images newly written to disk.",
		},
	)

	registry.MustRegister(requests, requestDuration, pages, rowsAppended, dedupSkipped, retries, errorsTotal, imagesWritten)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		PagesTotal:         pages,
		RowsAppendedTotal:  rowsAppended,
		DedupSkippedTotal:  dedupSkipped,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		ImagesWrittenTotal: imagesWritten,
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

// IncPages increments the fetched pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncRows increments the appended rows counter.
func (m *Metrics) IncRows() {
	if m == nil {
		return
	}
	m.RowsAppendedTotal.Inc()
}

// IncDedupSkipped increments the dedup skip counter.
func (m *Metrics) IncDedupSkipped() {
	if m == nil {
		return
	}
	m.DedupSkippedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a status label.
func (m *Metrics) IncError(status Status) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(status)).Inc()
}

// AddImagesWritten adds to the written images counter.
func (m *Metrics) AddImagesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesWrittenTotal.Add(float64(n))
}
