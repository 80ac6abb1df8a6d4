package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aquiferai_api_build_info",
			Help: "Build information of the AquiferAI API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquiferai_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aquiferai_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquiferai_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquiferai_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"escalated"},
	)

	PipelineHealingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquiferai_pipeline_healing_retries_total",
			Help: "Total number of healing retries across all queries",
		},
	)

	PipelineValidationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquiferai_pipeline_validation_outcomes_total",
			Help: "Terminal validation outcomes by status",
		},
		[]string{"status"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordRun records the counters for one completed pipeline run.
func RecordRun(escalated bool, retries int, statuses []string) {
	PipelineRunsTotal.WithLabelValues(strconv.FormatBool(escalated)).Inc()
	PipelineHealingRetries.Add(float64(retries))
	for _, s := range statuses {
		PipelineValidationOutcomes.WithLabelValues(s).Inc()
	}
}
