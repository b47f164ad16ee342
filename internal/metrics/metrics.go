// Package metrics exposes Prometheus collectors for the acquisition service.
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
	acquisitionsTotal          *prometheus.CounterVec
	acquisitionDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	pathSelectionsTotal        *prometheus.CounterVec
	challengesTotal            *prometheus.CounterVec
	pacingDelaySeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisition_attempts_total",
				Help: "Total acquisition attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		acquisitionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acquisition_duration_seconds",
				Help:    "Histogram of end-to-end attempt durations, labeled by stealth level.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 45},
			},
			[]string{"level"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_total",
				Help: "Total number of jobs processed, labeled by final status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)

		pathSelectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "path_selections_total",
				Help: "Network path selections, labeled by provider and class.",
			},
			[]string{"provider", "class"},
		)

		challengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challenges_total",
				Help: "Challenges encountered, labeled by type and resolution outcome.",
			},
			[]string{"type", "outcome"},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pacing_delay_seconds",
				Help:    "Histogram of total pacing delay per attempt, labeled by archetype.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"archetype"},
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
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAcquisition records one attempt outcome and its duration.
func ObserveAcquisition(site, outcome string, level int, duration time.Duration) {
	acquisitionsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	acquisitionDurationSeconds.WithLabelValues(strconv.Itoa(level)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObservePathSelection counts a path pick.
func ObservePathSelection(provider, class string) {
	pathSelectionsTotal.WithLabelValues(provider, class).Inc()
}

// ObserveChallenge counts a detected challenge and how it ended.
func ObserveChallenge(challengeType, outcome string) {
	challengesTotal.WithLabelValues(challengeType, outcome).Inc()
}

// ObservePacingDelay records the total pacing delay of one attempt.
func ObservePacingDelay(archetype string, total time.Duration) {
	pacingDelaySeconds.WithLabelValues(archetype).Observe(total.Seconds())
}
