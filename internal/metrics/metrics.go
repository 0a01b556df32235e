// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debrisk_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	tleParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_tle_parsed_total",
			Help: "Element sets parsed from catalog responses.",
		},
		[]string{"result"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_fetch_total",
			Help: "Upstream catalog fetches by request kind.",
		},
		[]string{"kind"},
	)

	fetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_fetch_retries_total",
			Help: "Upstream fetch attempts retried after a failure.",
		},
	)

	fetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debrisk_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_cache_hits_total",
			Help: "Element-set cache hits.",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_cache_misses_total",
			Help: "Element-set cache misses.",
		},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_analyses_total",
			Help: "Completed per-object risk assessments by category.",
		},
		[]string{"risk_level"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debrisk_analysis_duration_seconds",
			Help:    "Per-object risk assessment duration in seconds.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_batches_total",
			Help: "Completed batch analyses.",
		},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debrisk_batch_duration_seconds",
			Help:    "Batch analysis duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	batchObjects = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debrisk_batch_objects",
			Help:    "Objects submitted per batch.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	ensembleTrainingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_ensemble_trainings_total",
			Help: "Completed ensemble training runs.",
		},
	)

	ensembleTrainingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debrisk_ensemble_training_duration_seconds",
			Help:    "Ensemble training duration in seconds.",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	predictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_predictions_total",
			Help: "Decay-rate predictions served by the ensemble.",
		},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "debrisk_workers_active",
			Help: "Worker pool goroutines currently running.",
		},
	)

	archiveWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_archive_writes_total",
			Help: "Batch summaries written to the history archive.",
		},
	)

	alertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_alerts_sent_total",
			Help: "Operator alert deliveries by result.",
		},
		[]string{"result"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "debrisk_streams_active",
			Help: "SSE assessment streams currently connected.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_stream_messages_total",
			Help: "SSE messages sent across all streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "debrisk_stream_bytes_total",
			Help: "SSE payload bytes sent across all streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrisk_stream_errors_total",
			Help: "SSE stream failures by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		tleParsedTotal,
		fetchTotal,
		fetchRetriesTotal,
		fetchDurationSeconds,
		cacheHitsTotal,
		cacheMissesTotal,
		analysesTotal,
		analysisDurationSeconds,
		batchesTotal,
		batchDurationSeconds,
		batchObjects,
		ensembleTrainingsTotal,
		ensembleTrainingDurationSeconds,
		predictionsTotal,
		workersActive,
		archiveWritesTotal,
		alertsSentTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveParse counts one parsed element set.
func ObserveParse(ok bool) {
	tleParsedTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveFetch records one upstream fetch of the given kind.
func ObserveFetch(kind string, seconds float64) {
	fetchTotal.WithLabelValues(kind).Inc()
	fetchDurationSeconds.Observe(seconds)
}

// FetchRetried counts one retried fetch attempt.
func FetchRetried() {
	fetchRetriesTotal.Inc()
}

// CacheHit counts one cache hit.
func CacheHit() {
	cacheHitsTotal.Inc()
}

// CacheMiss counts one cache miss.
func CacheMiss() {
	cacheMissesTotal.Inc()
}

// ObserveAnalysis records one completed assessment.
func ObserveAnalysis(riskLevel string, seconds float64) {
	analysesTotal.WithLabelValues(riskLevel).Inc()
	analysisDurationSeconds.Observe(seconds)
}

// ObserveBatch records one completed batch.
func ObserveBatch(objects int, seconds float64) {
	batchesTotal.Inc()
	batchObjects.Observe(float64(objects))
	batchDurationSeconds.Observe(seconds)
}

// ObserveTraining records one completed ensemble training run.
func ObserveTraining(seconds float64) {
	ensembleTrainingsTotal.Inc()
	ensembleTrainingDurationSeconds.Observe(seconds)
}

// PredictionMade counts one ensemble prediction.
func PredictionMade() {
	predictionsTotal.Inc()
}

// WorkerStarted marks one pool worker as running.
func WorkerStarted() {
	workersActive.Inc()
}

// WorkerStopped marks one pool worker as stopped.
func WorkerStopped() {
	workersActive.Dec()
}

// ArchiveWrite counts one archived batch summary.
func ArchiveWrite() {
	archiveWritesTotal.Inc()
}

// AlertSent counts one alert delivery attempt.
func AlertSent(ok bool) {
	alertsSentTotal.WithLabelValues(result(ok)).Inc()
}

// StreamConnected marks one SSE stream as active.
func StreamConnected() {
	streamsActive.Inc()
}

// StreamDisconnected marks one SSE stream as closed.
func StreamDisconnected() {
	streamsActive.Dec()
}

// StreamMessage counts one SSE message sent.
func StreamMessage() {
	streamMessagesTotal.Inc()
}

// StreamBytes counts SSE payload bytes written to a client.
func StreamBytes(n int64) {
	streamBytesTotal.Add(float64(n))
}

// StreamError counts one SSE stream failure.
func StreamError(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the wrapped writer so SSE
// handlers keep working behind this middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the wrapped writer's
// deadline support.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

var exactRoutes = map[string]bool{
	"/healthz":                     true,
	"/readyz":                      true,
	"/metrics":                     true,
	"/api/v1/analyze":              true,
	"/api/v1/analyze/batch":        true,
	"/api/v1/report/risk":          true,
	"/api/v1/satellites/high-risk": true,
	"/api/v1/decay/predict":        true,
	"/api/v1/model/info":           true,
	"/api/v1/model/train":          true,
	"/api/v1/cache/stats":          true,
	"/api/v1/cache/clear":          true,
	"/api/v1/history":              true,
}

// normalizeRoute collapses request paths to a bounded label set so
// scanner traffic and path parameters cannot inflate cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	switch {
	case strings.HasPrefix(path, "/api/v1/analyze/group/"):
		return "/api/v1/analyze/group/{group}"
	case strings.HasPrefix(path, "/api/v1/tle/"):
		return "/api/v1/tle/{catnr}"
	case strings.HasPrefix(path, "/api/v1/stream/group/"):
		return "/api/v1/stream/group/{group}"
	}
	return "other"
}
