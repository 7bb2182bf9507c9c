// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                   *prometheus.CounterVec
	emailsFoundTotal             *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	robotsTLSHandshakeTimeouts   prometheus.Counter
	jobsTotal                    *prometheus.CounterVec
	activeWorkers                prometheus.Gauge
	rateLimitDelaysSeconds       *prometheus.HistogramVec
	directoryCallsTotal          *prometheus.CounterVec
	leadsStoredTotal             *prometheus.CounterVec
	eventsDroppedTotal           prometheus.Counter
	directoryCallDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of pages visited, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		emailsFoundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_emails_found_total",
				Help: "Total number of distinct email addresses found, labeled by job kind.",
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		robotsTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of finished jobs, labeled by kind and final status.",
			},
			[]string{"kind", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		directoryCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_directory_calls_total",
				Help: "Directory API calls, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "status"},
		)

		directoryCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_directory_call_duration_seconds",
				Help:    "Histogram of directory API call latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
		)

		leadsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_leads_stored_total",
				Help: "Leads written to the lead store, labeled by lead status.",
			},
			[]string{"status"},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_events_dropped_total",
				Help: "Events dropped because the event hub buffer was full.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a visited page.
func ObservePage(site, status string) {
	pagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveEmails adds n newly found addresses for the job kind.
func ObserveEmails(kind string, n int) {
	if n <= 0 {
		return
	}
	emailsFoundTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsTLSHandshakeTimeout increments the robots.txt handshake timeout counter.
func ObserveRobotsTLSHandshakeTimeout() {
	robotsTLSHandshakeTimeouts.Inc()
}

// ObserveJob increments the job counter for the given kind and status.
func ObserveJob(kind, status string) {
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveDirectoryCall records one directory API round trip.
func ObserveDirectoryCall(endpoint, status string, duration time.Duration) {
	directoryCallsTotal.WithLabelValues(endpoint, status).Inc()
	directoryCallDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveLeadStored counts a lead insert.
func ObserveLeadStored(status string) {
	if status == "" {
		status = "pending"
	}
	leadsStoredTotal.WithLabelValues(status).Inc()
}

// ObserveEventDropped counts an event the hub could not buffer.
func ObserveEventDropped() {
	eventsDroppedTotal.Inc()
}
