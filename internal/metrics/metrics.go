// Package metrics exposes Prometheus collectors for the gateway.
//
// Collectors are registered at import time via promauto and served
// from the /metrics endpoint. Submission outcomes, recovery lookups,
// persistence failures, and backend round-trips are the signals that
// matter operationally: a spike in "processing" outcomes paired with
// recovery misses means the analysis service is wedged, while persist
// failures mean completed work is not being recorded.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts analysis submissions by terminal outcome:
	// completed, recovered, processing, rejected, unavailable.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_submissions_total",
			Help: "Total analysis submissions by terminal outcome",
		},
		[]string{"outcome"},
	)

	// SubmissionDuration tracks end-to-end attempt time. Buckets are
	// wide because a cold analysis run on a long video takes minutes.
	SubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poise_submission_duration_seconds",
			Help:    "End-to-end duration of analysis submissions in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// SubmissionsInFlight gauges submissions currently holding a slot.
	SubmissionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poise_submissions_in_flight",
			Help: "Number of analysis submissions currently in flight",
		},
	)

	// BackendRequests counts round-trips to the analysis service,
	// labelled with the endpoint path and the fault class ("ok" on
	// success, otherwise rejected/unavailable/header_timeout/deadline).
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_backend_requests_total",
			Help: "Total requests to the analysis backend by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	// RecoveryChecks counts reconciler lookups by whether a record was
	// found inside the recovery window.
	RecoveryChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_recovery_checks_total",
			Help: "Total recovery reconciler lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// PersistFailures counts completed analyses whose record could not
	// be written. The result was still returned to the caller.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poise_record_persist_failures_total",
			Help: "Total analysis records that failed to persist",
		},
	)

	// ArchiveUploads counts source video uploads to the archive store.
	ArchiveUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_archive_uploads_total",
			Help: "Total source video archive uploads by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	// StatusChecks counts status-check requests by completion state.
	StatusChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_status_checks_total",
			Help: "Total status-check lookups by result",
		},
		[]string{"result"}, // "completed", "pending"
	)

	// HTTPRequests counts inbound API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poise_http_requests_total",
			Help: "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks inbound request latency per route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poise_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordSubmission records one terminal submission outcome and its
// wall-clock duration.
func RecordSubmission(outcome string, duration time.Duration) {
	SubmissionsTotal.WithLabelValues(outcome).Inc()
	SubmissionDuration.Observe(duration.Seconds())
}

// RecordBackendRequest records one backend round-trip. Result should
// be "ok" or a fault class string.
func RecordBackendRequest(endpoint, result string) {
	BackendRequests.WithLabelValues(endpoint, result).Inc()
}

// RecordRecoveryCheck records one reconciler lookup.
func RecordRecoveryCheck(result string) {
	RecoveryChecks.WithLabelValues(result).Inc()
}

// RecordStatusCheck records one status-check lookup.
func RecordStatusCheck(completed bool) {
	if completed {
		StatusChecks.WithLabelValues("completed").Inc()
		return
	}
	StatusChecks.WithLabelValues("pending").Inc()
}
