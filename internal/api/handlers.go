package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/decay"
	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/orbit"
	"github.com/debrisk/debrisk/internal/tle"
)

const (
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20

	// maxBatchIdentifiers caps one batch request.
	maxBatchIdentifiers = 50
)

type analyzeRequest struct {
	Name         string `json:"name"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2"`
	ForecastDays int    `json:"forecast_days"`
}

// analyzeResponse extends the per-object result with the instantaneous
// SGP4 subpoint, when the element set propagates cleanly.
type analyzeResponse struct {
	*batch.ObjectResult
	CurrentPosition *orbit.Position `json:"current_position,omitempty"`
}

// handleAnalyze assesses one caller-provided element set.
// POST /api/v1/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Line1 == "" || req.Line2 == "" {
		writeError(w, http.StatusBadRequest, "line1 and line2 are required")
		return
	}
	if req.ForecastDays == 0 {
		req.ForecastDays = s.svc.Config().DefaultForecastDays
	}
	if err := batch.ValidateForecastDays(req.ForecastDays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := tle.ParseRecord(req.Name, req.Line1, req.Line2, time.Now())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.svc.Assess(r.Context(), rec, req.ForecastDays)
	if err != nil {
		s.logger.Error("single assessment failed", "catalog_number", rec.CatalogNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		ObjectResult:    res,
		CurrentPosition: s.currentPosition(rec),
	})
}

// currentPosition resolves the object's subpoint at the current time.
// Propagation failure degrades to a missing field, not a request error.
func (s *Server) currentPosition(rec tle.OrbitalElements) *orbit.Position {
	prop, err := orbit.NewPropagator(rec.Line1, rec.Line2, rec.CatalogNumber)
	if err != nil {
		s.logger.Debug("position unavailable", "catalog_number", rec.CatalogNumber, "error", err)
		return nil
	}
	pos, err := prop.PositionAt(time.Now())
	if err != nil {
		s.logger.Debug("position unavailable", "catalog_number", rec.CatalogNumber, "error", err)
		return nil
	}
	return &pos
}

type batchRequest struct {
	Identifiers  []any `json:"identifiers"`
	ForecastDays int   `json:"forecast_days"`
}

// handleAnalyzeBatch assesses a heterogeneous identifier list: catalog
// numbers, pasted element sets, and group names.
// POST /api/v1/analyze/batch
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w)

	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.Identifiers) == 0 {
		writeError(w, http.StatusBadRequest, "missing required field: identifiers")
		return
	}
	if len(req.Identifiers) > maxBatchIdentifiers {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch size cannot exceed %d identifiers", maxBatchIdentifiers))
		return
	}
	if req.ForecastDays == 0 {
		req.ForecastDays = s.svc.Config().DefaultForecastDays
	}
	if err := batch.ValidateForecastDays(req.ForecastDays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := batch.ParseIdentifiers(req.Identifiers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.svc.ProcessBatch(r.Context(), ids, req.ForecastDays)
	if err != nil {
		s.logger.Error("batch processing failed", "identifiers", len(ids), "error", err)
		writeError(w, http.StatusInternalServerError, "batch analysis failed")
		return
	}

	s.record("batch", resp.Summary)
	writeJSON(w, http.StatusOK, resp)
}

// handleAnalyzeGroup assesses every member of a catalog group.
// GET /api/v1/analyze/group/{group}?forecast_days=30
func (s *Server) handleAnalyzeGroup(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w)

	group := r.PathValue("group")
	days, ok := s.forecastDaysParam(w, r)
	if !ok {
		return
	}

	gr, err := s.svc.ProcessGroup(r.Context(), group, days)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	s.record(group, s.svc.Summarize(gr.Results))
	writeJSON(w, http.StatusOK, gr)
}

// handleReportRisk runs a group analysis and renders the operator
// report over it.
// GET /api/v1/report/risk?group=cosmos-2251-debris&forecast_days=30
func (s *Server) handleReportRisk(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w)

	group := r.URL.Query().Get("group")
	if group == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: group")
		return
	}
	days, ok := s.forecastDaysParam(w, r)
	if !ok {
		return
	}

	gr, err := s.svc.ProcessGroup(r.Context(), group, days)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	report := s.svc.GenerateReport(&batch.Response{
		Summary: s.svc.Summarize(gr.Results),
		Results: gr.Results,
	})
	writeJSON(w, http.StatusOK, report)
}

type highRiskResponse struct {
	HighRiskSatellites []batch.RankedResult `json:"high_risk_satellites"`
	TotalAnalyzed      int                  `json:"total_analyzed"`
	HighRiskCount      int                  `json:"high_risk_count"`
	RiskThresholdUsed  float64              `json:"risk_threshold_used"`
}

// handleHighRisk filters a group's members at or above a risk
// threshold, ranked by monitoring priority.
// GET /api/v1/satellites/high-risk?group=active&threshold=0.5
func (s *Server) handleHighRisk(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w)

	q := r.URL.Query()
	group := q.Get("group")
	if group == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: group")
		return
	}
	days, ok := s.forecastDaysParam(w, r)
	if !ok {
		return
	}
	threshold, err := queryFloat(q, "threshold", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if threshold < 0 || threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return
	}
	if threshold == 0 {
		threshold = s.svc.Config().MediumRiskThreshold
	}

	gr, err := s.svc.ProcessGroup(r.Context(), group, days)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	ranked := s.svc.HighRisk(gr.Results, threshold)
	writeJSON(w, http.StatusOK, highRiskResponse{
		HighRiskSatellites: ranked,
		TotalAnalyzed:      len(gr.Results),
		HighRiskCount:      len(ranked),
		RiskThresholdUsed:  threshold,
	})
}

// handleTLE fetches and decodes one catalog object's element set.
// GET /api/v1/tle/{catnr}
func (s *Server) handleTLE(w http.ResponseWriter, r *http.Request) {
	catnr, err := strconv.Atoi(r.PathValue("catnr"))
	if err != nil || catnr <= 0 {
		writeError(w, http.StatusBadRequest, "catalog number must be a positive integer")
		return
	}

	rec, err := s.tles.Catalog(r.Context(), catnr)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type decayInputs struct {
	AltitudeKM     float64 `json:"altitude_km"`
	InclinationDeg float64 `json:"inclination_deg"`
	Eccentricity   float64 `json:"eccentricity"`
	MassKG         float64 `json:"mass_kg"`
	AreaM2         float64 `json:"area_m2"`
	SolarFlux      float64 `json:"solar_flux"`
}

type decayPredictResponse struct {
	DecayRateKMPerDay float64     `json:"decay_rate_km_per_day"`
	Inputs            decayInputs `json:"inputs"`
}

// handleDecayPredict queries the ensemble directly with explicit object
// parameters. Unspecified physical parameters use the standard-object
// defaults.
// GET /api/v1/decay/predict?altitude=450&inclination=51.6&eccentricity=0.001
func (s *Server) handleDecayPredict(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w) // first call may train the ensemble

	q := r.URL.Query()
	if q.Get("altitude") == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: altitude")
		return
	}

	var parseErr error
	parse := func(key string, def float64) float64 {
		f, err := queryFloat(q, key, def)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		return f
	}
	in := decayInputs{
		AltitudeKM:     parse("altitude", 0),
		InclinationDeg: parse("inclination", 0),
		Eccentricity:   parse("eccentricity", 0),
		MassKG:         parse("mass", ml.DefaultMassKG),
		AreaM2:         parse("area", ml.DefaultAreaM2),
		SolarFlux:      parse("solar_flux", ml.DefaultSolarFlux),
	}
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, parseErr.Error())
		return
	}

	switch {
	case in.AltitudeKM <= 0:
		writeError(w, http.StatusBadRequest, "altitude must be positive")
		return
	case in.InclinationDeg < 0 || in.InclinationDeg > 180:
		writeError(w, http.StatusBadRequest, "inclination must be between 0 and 180 degrees")
		return
	case in.Eccentricity < 0 || in.Eccentricity >= 1:
		writeError(w, http.StatusBadRequest, "eccentricity must be in [0, 1)")
		return
	case in.MassKG <= 0 || in.AreaM2 <= 0 || in.SolarFlux <= 0:
		writeError(w, http.StatusBadRequest, "mass, area, and solar_flux must be positive")
		return
	}

	rate, err := s.model.PredictObject(r.Context(), decay.Params{
		AltitudeKM:     in.AltitudeKM,
		InclinationDeg: in.InclinationDeg,
		Eccentricity:   in.Eccentricity,
		MassKG:         in.MassKG,
		AreaM2:         in.AreaM2,
		SolarFlux:      in.SolarFlux,
	})
	if err != nil {
		s.logger.Error("decay prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	writeJSON(w, http.StatusOK, decayPredictResponse{
		DecayRateKMPerDay: rate,
		Inputs:            in,
	})
}

// handleModelInfo describes the ensemble and its fit metrics.
// GET /api/v1/model/info
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.model.Info())
}

type trainRequest struct {
	Samples int `json:"samples"`
}

type trainResponse struct {
	Trained      bool                       `json:"trained"`
	TrainingRuns int64                      `json:"training_runs"`
	Metrics      map[string]ml.ModelMetrics `json:"metrics"`
}

// handleModelTrain triggers a training run. Training is idempotent:
// once fitted, repeat calls return the cached metrics and the run
// counter stays put.
// POST /api/v1/model/train
func (s *Server) handleModelTrain(w http.ResponseWriter, r *http.Request) {
	extendWriteDeadline(w) // training outlasts the server write timeout

	var req trainRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}
	if req.Samples != 0 && req.Samples < 10 {
		writeError(w, http.StatusBadRequest, "training requires at least 10 samples")
		return
	}

	m, err := s.model.Train(r.Context(), req.Samples)
	if err != nil {
		s.logger.Error("training failed", "samples", req.Samples, "error", err)
		writeError(w, http.StatusInternalServerError, "training failed")
		return
	}

	writeJSON(w, http.StatusOK, trainResponse{
		Trained:      true,
		TrainingRuns: s.model.TrainCount(),
		Metrics:      m,
	})
}

// handleCacheStats reports element-set cache hit statistics.
// GET /api/v1/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tles.Cache().Stats())
}

// handleCacheClear drops every cached element set.
// POST /api/v1/cache/clear
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed := s.tles.Cache().Clear(r.Context())
	s.logger.Info("TLE cache cleared", "entries_removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"cache_cleared":   true,
		"entries_removed": removed,
	})
}

// handleHistory lists recent archived batch summaries, newest first.
// GET /api/v1/history?limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		writeError(w, http.StatusServiceUnavailable, "history archive disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.arch.Recent(limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// record archives a batch summary and kicks off alerting. Both are
// best-effort side channels of a successful analysis.
func (s *Server) record(source string, sum batch.Summary) {
	if s.arch != nil {
		if err := s.arch.Record(source, sum); err != nil {
			s.logger.Warn("archive write failed", "source", source, "error", err)
		}
	}
	// Alert delivery retries with sleeps between attempts; keep it off
	// the request path.
	go s.notifier.NotifyBatch(source, sum)
}

// forecastDaysParam reads and validates the forecast_days query
// parameter, writing the error response itself on failure.
func (s *Server) forecastDaysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	days := s.svc.Config().DefaultForecastDays
	if v := r.URL.Query().Get("forecast_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid forecast_days parameter")
			return 0, false
		}
		days = n
	}
	if err := batch.ValidateForecastDays(days); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return days, true
}

// writeResolveError maps element-set resolution failures to status
// codes: unknown objects 404, malformed records 422, upstream trouble
// 503.
func (s *Server) writeResolveError(w http.ResponseWriter, err error) {
	var fe *tle.FormatError
	switch {
	case errors.Is(err, tle.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &fe):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Warn("element resolution failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "element data unavailable")
	}
}

func queryFloat(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter", key)
	}
	return f, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "request payload too large")
		return
	}
	writeError(w, http.StatusBadRequest, "request body must be valid JSON")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// extendWriteDeadline clears the per-request write deadline for
// handlers whose work can outlast the server's WriteTimeout.
func extendWriteDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
