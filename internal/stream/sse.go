// Package stream implements Server-Sent Events (SSE) streaming of group
// risk assessments. Clients connect via GET /api/v1/stream/group/{group}
// and receive one message per completed member assessment while the
// batch runs, so large debris groups render incrementally instead of
// blocking on the full response.
//
// Message order on every connection:
//
//	data: {"type":"metadata","batch_id":"...","group":"...","total_pieces":N,...}\n\n
//	data: {"type":"assessment","index":i,"result":{...}}\n\n   (per member, completion order)
//	data: {"type":"error","index":i,"error":"..."}\n\n          (per failed member)
//	data: {"type":"summary","batch_id":"...","summary":{...}}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval so
// proxies do not drop the connection during slow assessments.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/metrics"
	"github.com/debrisk/debrisk/internal/tle"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // max concurrent streams per IP (default 10)
	MaxConcurrentTotal int           // global stream cap (default 1000)
	KeepaliveInterval  time.Duration // keep-alive comment interval (default 30s)
	TrustProxy         bool          // trust X-Forwarded-For / X-Real-IP for limiter keys
}

// Handler manages SSE streaming connections.
type Handler struct {
	svc     *batch.Service
	tles    *tle.Client
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler over the batch service and the
// element-set client.
func NewHandler(svc *batch.Service, tles *tle.Client, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.MaxConcurrentTotal <= 0 {
		config.MaxConcurrentTotal = 1000
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		svc:     svc,
		tles:    tles,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrentTotal),
		logger:  logger,
	}
}

// HandleGroup streams the assessment of one catalog group.
// GET /api/v1/stream/group/{group}?forecast_days=30
func (h *Handler) HandleGroup(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	if group == "" {
		writeJSONError(w, http.StatusBadRequest, "missing group name")
		return
	}

	forecastDays := h.svc.Config().DefaultForecastDays
	if v := r.URL.Query().Get("forecast_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid forecast_days parameter")
			return
		}
		forecastDays = n
	}
	if err := batch.ValidateForecastDays(forecastDays); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := clientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.StreamError("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	// Resolve the group before committing to the SSE content type so a
	// bad group name still gets a regular JSON error status.
	ctx := r.Context()
	records, failures, err := h.tles.Group(ctx, group)
	if err != nil {
		metrics.StreamError("group_fetch")
		if errors.Is(err, tle.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", group))
			return
		}
		h.logger.Warn("stream group fetch failed", "group", group, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "element data unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamConnected()
	startTime := time.Now()
	batchID := uuid.NewString()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"group", group,
		"batch_id", batchID,
		"pieces", len(records),
	)
	defer func() {
		metrics.StreamDisconnected()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"batch_id", batchID,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// The server's WriteTimeout would kill a long stream; manage write
	// deadlines per message through a ResponseController instead.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := newClient(w, flusher, rc, ip, h.logger)

	// Jittered retry interval (3-7s) to prevent thundering-herd
	// reconnection storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	meta := metadataMessage{
		Type:         "metadata",
		BatchID:      batchID,
		Group:        group,
		TotalPieces:  len(records) + len(failures),
		ParseErrors:  len(failures),
		ForecastDays: forecastDays,
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.StreamError("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	h.streamAssessments(ctx, c, records, forecastDays, batchID, len(failures))
}

// streamAssessments runs the group through the pool and relays results
// until the channel drains or the client leaves.
func (h *Handler) streamAssessments(ctx context.Context, c *client, records []tle.OrbitalElements, forecastDays int, batchID string, parseErrors int) {
	results := h.svc.AssessAll(ctx, records, forecastDays)

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	completed := make([]batch.ObjectResult, 0, len(records))
	streamErrors := parseErrors
	for {
		select {
		case <-ctx.Done():
			return

		case sr, ok := <-results:
			if !ok {
				sum := summaryMessage{
					Type:      "summary",
					BatchID:   batchID,
					Summary:   h.svc.Summarize(completed),
					Errors:    streamErrors,
					ElapsedMS: time.Since(c.connectedAt()).Milliseconds(),
				}
				if err := c.sendJSON(sum); err != nil {
					metrics.StreamError("send_error")
					h.logger.Warn("stream send error (summary)", "remote_ip", c.ip, "error", err)
				}
				return
			}

			var msg any
			if sr.Err != nil {
				streamErrors++
				msg = errorMessage{Type: "error", Index: sr.Index, Error: sr.Err.Error()}
			} else {
				completed = append(completed, *sr.Result)
				msg = assessmentMessage{Type: "assessment", Index: sr.Index, Result: sr.Result}
			}
			if err := c.sendJSON(msg); err != nil {
				metrics.StreamError("send_error")
				h.logger.Warn("stream send error", "remote_ip", c.ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.StreamError("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", c.ip, "error", err)
				return
			}
		}
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type metadataMessage struct {
	Type         string `json:"type"`
	BatchID      string `json:"batch_id"`
	Group        string `json:"group"`
	TotalPieces  int    `json:"total_pieces"`
	ParseErrors  int    `json:"parse_errors"`
	ForecastDays int    `json:"forecast_days"`
}

type assessmentMessage struct {
	Type   string              `json:"type"`
	Index  int                 `json:"index"`
	Result *batch.ObjectResult `json:"result"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Error string `json:"error"`
}

type summaryMessage struct {
	Type      string        `json:"type"`
	BatchID   string        `json:"batch_id"`
	Summary   batch.Summary `json:"summary"`
	Errors    int           `json:"errors"`
	ElapsedMS int64         `json:"elapsed_ms"`
}
