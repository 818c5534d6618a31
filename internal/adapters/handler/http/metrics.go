package http

import (
	"strconv"
	"time"

	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/services"
	"tgnms.poller/internal/poller"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_commands_total",
			Help: "Commands received by the worker, by type and outcome",
		},
		[]string{"type", "accepted"},
	)

	// Controller query metrics
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_queries_total",
			Help: "Controller queries completed, by query type and outcome",
		},
		[]string{"query", "success"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_query_duration_seconds",
			Help:    "Controller query duration including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"query"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_retries_total",
			Help: "Controller calls retried, by API method",
		},
		[]string{"method"},
	)

	scanResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_scan_resets_total",
			Help: "Scan status resets issued, by outcome",
		},
		[]string{"success"},
	)

	// Result stream metrics, as seen by the parent
	resultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_results_total",
			Help: "Result messages received from the worker",
		},
		[]string{"network", "type", "success"},
	)

	resultResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_result_response_time_seconds",
			Help:    "Response time reported in result messages",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"type"},
	)

	networksOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_networks_online",
			Help: "Networks whose controller is currently online",
		},
	)
)

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			path = rc.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// PollerMetrics exports poller and result-stream events to Prometheus.
type PollerMetrics struct{}

var (
	_ poller.Observer         = PollerMetrics{}
	_ services.ResultRecorder = PollerMetrics{}
)

func (PollerMetrics) ObserveCommand(t domain.CommandType, accepted bool) {
	commandsTotal.WithLabelValues(string(t), strconv.FormatBool(accepted)).Inc()
}

func (PollerMetrics) ObserveQuery(q domain.QueryType, outcome domain.QueryOutcome) {
	queriesTotal.WithLabelValues(string(q), strconv.FormatBool(outcome.Success)).Inc()
	queryDuration.WithLabelValues(string(q)).Observe(outcome.ResponseTime.Seconds())
}

func (PollerMetrics) ObserveRetry(method string) {
	retriesTotal.WithLabelValues(method).Inc()
}

func (PollerMetrics) ObserveScanReset(success bool) {
	scanResetsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (PollerMetrics) RecordResult(msg domain.ResultMessage) {
	resultsTotal.WithLabelValues(msg.Name, string(msg.Type), strconv.FormatBool(msg.Success)).Inc()
	resultResponseTime.WithLabelValues(string(msg.Type)).Observe(float64(msg.ResponseTime) / 1000)
}

// SetNetworksOnline sets the number of networks with an online controller
func SetNetworksOnline(count int) {
	networksOnline.Set(float64(count))
}
