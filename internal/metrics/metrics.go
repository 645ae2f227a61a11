// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Uploads counts upload attempts by kind and outcome
	// (accepted, invalid, quota_exceeded, error).
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_uploads_total",
			Help: "Upload attempts by file kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	UploadedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_uploaded_bytes_total",
			Help: "Bytes accepted into storage.",
		},
		[]string{"kind"},
	)

	// PipelineRuns counts terminal pipeline outcomes (completed, degraded,
	// infected, failed, abandoned).
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_pipeline_runs_total",
			Help: "Processing pipeline runs by file kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveyfiles_pipeline_duration_seconds",
			Help:    "Time from claim to terminal state.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	// ScanVerdicts counts scanner results: clean, infected, unavailable.
	ScanVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_scan_verdicts_total",
			Help: "Virus scan verdicts, including fail-open decisions.",
		},
		[]string{"verdict"},
	)

	AccessURLCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_access_url_cache_total",
			Help: "Access URL lookups served from the record cache (hit) or re-issued (miss).",
		},
		[]string{"result"},
	)

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surveyfiles_processing_queue_depth",
		Help: "Jobs waiting in the in-process processing queue.",
	})

	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_events_total",
			Help: "Lifecycle events by type and delivery outcome.",
		},
		[]string{"event", "outcome"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveyfiles_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveyfiles_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Middleware records request counts and latency. Routes are labelled by their
// chi pattern so ids never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
