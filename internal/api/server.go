// Package api assembles the HTTP surface of the service: route
// registration, the middleware chain, and the JSON handlers over the
// batch, model, archive, and streaming components.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/debrisk/debrisk/internal/alert"
	"github.com/debrisk/debrisk/internal/archive"
	"github.com/debrisk/debrisk/internal/auth"
	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/decay"
	"github.com/debrisk/debrisk/internal/health"
	"github.com/debrisk/debrisk/internal/metrics"
	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/stream"
	"github.com/debrisk/debrisk/internal/tle"
)

// Model is the trained-ensemble surface the API exposes directly:
// on-demand training, raw decay prediction, and state description.
// *ml.Ensemble satisfies it.
type Model interface {
	Train(ctx context.Context, samples int) (map[string]ml.ModelMetrics, error)
	TrainCount() int64
	PredictObject(ctx context.Context, p decay.Params) (float64, error)
	Info() ml.Info
}

// Deps carries the wired components the server routes to. Archive may
// be nil, which disables the history endpoint. Notifier may be nil; the
// alert package treats a nil notifier as a no-op.
type Deps struct {
	Batch    *batch.Service
	TLEs     *tle.Client
	Model    Model
	Archive  *archive.Archive
	Notifier *alert.Notifier
	Streams  *stream.Handler
	Ready    func() bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	svc        *batch.Service
	tles       *tle.Client
	model      Model
	arch       *archive.Archive
	notifier   *alert.Notifier
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, deps Deps, authCfg auth.Config, logger *slog.Logger) *Server {
	s := &Server{
		svc:      deps.Batch,
		tles:     deps.TLEs,
		model:    deps.Model,
		arch:     deps.Archive,
		notifier: deps.Notifier,
		logger:   logger,
	}
	ready := deps.Ready
	if ready == nil {
		ready = func() bool { return true }
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(ready))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/analyze/batch", s.handleAnalyzeBatch)
	mux.HandleFunc("GET /api/v1/analyze/group/{group}", s.handleAnalyzeGroup)
	mux.HandleFunc("GET /api/v1/report/risk", s.handleReportRisk)
	mux.HandleFunc("GET /api/v1/satellites/high-risk", s.handleHighRisk)
	mux.HandleFunc("GET /api/v1/tle/{catnr}", s.handleTLE)
	mux.HandleFunc("GET /api/v1/decay/predict", s.handleDecayPredict)
	mux.HandleFunc("GET /api/v1/model/info", s.handleModelInfo)
	mux.HandleFunc("POST /api/v1/model/train", s.handleModelTrain)
	mux.HandleFunc("GET /api/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /api/v1/cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	if deps.Streams != nil {
		mux.HandleFunc("GET /api/v1/stream/group/{group}", deps.Streams.HandleGroup)
	}

	// Build middleware chain: metrics -> logging -> cors -> auth -> mux.
	// CORS sits outside auth so preflight OPTIONS requests succeed
	// without a bearer token.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = corsMiddleware(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the wrapped writer so SSE
// handlers keep working behind this middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the wrapped writer's
// deadline support.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

// corsMiddleware allows cross-origin browser access to the API.
// Preflight requests are answered here and never reach the mux.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
