// Package telemetry exposes Prometheus collectors for the ingestion pipeline and
// the ops HTTP server.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_fetches_total",
			Help: "Total number of page fetches, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_extractions_total",
			Help: "Pages processed by the extractor, labeled by the strategy that matched (none when nothing did).",
		},
		[]string{"strategy"},
	)

	extractedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_extracted_records_total",
			Help: "Raw records extracted, labeled by strategy.",
		},
		[]string{"strategy"},
	)

	upsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_upserts_total",
			Help: "Records applied to the store, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	batchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipotracker_batch_failures_total",
			Help: "Upsert batches rolled back because of a store error.",
		},
	)

	publishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipotracker_publish_failures_total",
			Help: "Change events that could not be published.",
		},
	)

	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipotracker_cycles_total",
			Help: "Completed scheduler cycles, labeled by result.",
		},
		[]string{"result"},
	)

	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipotracker_cycle_duration_seconds",
			Help:    "Histogram of full cycle durations.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	schedulerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ipotracker_scheduler_state",
			Help: "1 for the scheduler's current state, 0 for the others.",
		},
		[]string{"state"},
	)

	pacingDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipotracker_pacing_delay_seconds",
			Help:    "Histogram of delays inserted between fetches.",
			Buckets: []float64{0.5, 1, 1.5, 2, 3, 5},
		},
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
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// SanitizeSite extracts the lowercase hostname from a URL, or "unknown".
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

// ObserveFetch records one fetch attempt. outcome is "ok" or a failure kind.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveExtraction records which strategy handled a page and how many records
// it produced. An empty strategy means nothing matched.
func ObserveExtraction(strategy string, records int) {
	if strategy == "" {
		strategy = "none"
	}
	extractionsTotal.WithLabelValues(strategy).Inc()
	if records > 0 {
		extractedRecordsTotal.WithLabelValues(strategy).Add(float64(records))
	}
}

// ObserveUpserts records the outcome counts of one applied batch.
func ObserveUpserts(inserted, updated, unchanged, skipped int) {
	for outcome, n := range map[string]int{
		"inserted":  inserted,
		"updated":   updated,
		"unchanged": unchanged,
		"skipped":   skipped,
	} {
		if n > 0 {
			upsertsTotal.WithLabelValues(outcome).Add(float64(n))
		}
	}
}

// ObserveBatchFailure records a rolled-back batch.
func ObserveBatchFailure() {
	batchFailuresTotal.Inc()
}

// ObservePublishFailure records an undeliverable change event.
func ObservePublishFailure() {
	publishFailuresTotal.Inc()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetSchedulerState marks state as current among states.
func SetSchedulerState(state string, states []string) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		schedulerState.WithLabelValues(s).Set(value)
	}
}

// ObservePacingDelay records an inter-fetch delay.
func ObservePacingDelay(d time.Duration) {
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
