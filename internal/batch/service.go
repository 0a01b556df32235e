// Package batch turns individual risk assessments into batch products:
// identifier resolution, pooled fan-out across objects, aggregation,
// and report generation.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/debrisk/debrisk/internal/metrics"
	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/reentry"
	"github.com/debrisk/debrisk/internal/tle"
)

// Predictor is the trained model surface the service needs: decay-rate
// prediction plus a description of the fitted state. *ml.Ensemble
// satisfies it.
type Predictor interface {
	Predict(ctx context.Context, altitudeKM, inclinationDeg, eccentricity float64) (float64, error)
	Info() ml.Info
}

// Config carries the service knobs taken from the application config.
type Config struct {
	HighRiskThreshold   float64
	MediumRiskThreshold float64
	ObjectTimeout       time.Duration
	DefaultForecastDays int
	ConcurrentFetch     int
}

// Service coordinates TLE resolution, decay prediction, and risk
// scoring for one or many objects at a time.
type Service struct {
	tles     *tle.Client
	analyzer *reentry.Analyzer
	model    Predictor
	pool     *Pool
	cfg      Config
	logger   *slog.Logger

	// fetchSem bounds concurrent upstream catalog lookups; pool workers
	// can outnumber what the element-data source will tolerate.
	fetchSem chan struct{}

	now func() time.Time
}

// NewService wires the batch service. Zero config fields fall back to
// the documented defaults.
func NewService(tles *tle.Client, model Predictor, pool *Pool, cfg Config, logger *slog.Logger) *Service {
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = 0.7
	}
	if cfg.MediumRiskThreshold <= 0 {
		cfg.MediumRiskThreshold = 0.4
	}
	if cfg.ObjectTimeout <= 0 {
		cfg.ObjectTimeout = 120 * time.Second
	}
	if cfg.DefaultForecastDays <= 0 {
		cfg.DefaultForecastDays = 30
	}
	if cfg.ConcurrentFetch <= 0 {
		cfg.ConcurrentFetch = 5
	}
	return &Service{
		tles:     tles,
		analyzer: reentry.NewAnalyzer(model),
		model:    model,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		fetchSem: make(chan struct{}, cfg.ConcurrentFetch),
		now:      time.Now,
	}
}

// Config returns the effective service configuration.
func (s *Service) Config() Config { return s.cfg }

// ValidateForecastDays bounds the forecast horizon accepted by the
// service.
func ValidateForecastDays(days int) error {
	if days < 1 {
		return errors.New("forecast days must be at least 1")
	}
	if days > 365 {
		return errors.New("forecast days cannot exceed 365")
	}
	return nil
}

// ParseIdentifiers converts a raw JSON identifier array into typed
// identifiers. Numbers become catalog lookups; strings containing a
// newline are treated as pasted element sets, any other string as a
// CelesTrak group name.
func ParseIdentifiers(raw []any) ([]Identifier, error) {
	ids := make([]Identifier, 0, len(raw))
	for i, v := range raw {
		switch id := v.(type) {
		case string:
			trimmed := strings.TrimSpace(id)
			switch {
			case trimmed == "":
				return nil, fmt.Errorf("identifier at index %d is empty", i)
			case strings.Contains(trimmed, "\n"):
				ids = append(ids, Identifier{TLE: id})
			default:
				ids = append(ids, Identifier{Group: trimmed})
			}
		case float64:
			if id != math.Trunc(id) || id <= 0 {
				return nil, fmt.Errorf("catalog number at index %d must be a positive integer", i)
			}
			ids = append(ids, Identifier{Catalog: int(id)})
		case json.Number:
			n, err := id.Int64()
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("catalog number at index %d must be a positive integer", i)
			}
			ids = append(ids, Identifier{Catalog: int(n)})
		case int:
			if id <= 0 {
				return nil, fmt.Errorf("catalog number at index %d must be a positive integer", i)
			}
			ids = append(ids, Identifier{Catalog: id})
		default:
			return nil, fmt.Errorf("invalid identifier type at index %d", i)
		}
	}
	return ids, nil
}

// Categorize maps a risk score to its category label.
func (s *Service) Categorize(risk float64) string {
	switch {
	case risk >= s.cfg.HighRiskThreshold:
		return "HIGH"
	case risk >= s.cfg.MediumRiskThreshold:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ObjectType classifies a catalog object from its name suffix
// convention: debris pieces carry " DEB", spent stages " R/B".
func ObjectType(name string) string {
	switch {
	case strings.Contains(name, " DEB"):
		return "DEBRIS"
	case strings.Contains(name, " R/B"):
		return "ROCKET BODY"
	default:
		return "PAYLOAD"
	}
}

// Assess runs decay prediction and risk scoring for one parsed record
// and composes the full per-object result.
func (s *Service) Assess(ctx context.Context, rec tle.OrbitalElements, forecastDays int) (*ObjectResult, error) {
	start := time.Now()
	asmt, err := s.analyzer.Analyze(ctx, rec, forecastDays)
	if err != nil {
		return nil, err
	}
	category := s.Categorize(asmt.Risk.OverallReentryRisk)
	metrics.ObserveAnalysis(category, time.Since(start).Seconds())
	return &ObjectResult{
		Satellite: SatelliteInfo{
			Name:           rec.Name,
			CatalogNumber:  rec.CatalogNumber,
			Classification: rec.Classification,
			ElementSet:     rec.ElementSet,
			EphemerisType:  rec.EphemerisType,
			ObjectType:     ObjectType(rec.Name),
		},
		Orbit:   asmt.Orbit,
		Reentry: asmt.Window,
		Risk: RiskReport{
			Risk:     asmt.Risk,
			Category: category,
			Factors:  riskFactors(rec, asmt),
		},
		Quality: DataQuality{
			TLEAgeDays:           rec.AgeDays,
			AgeWarning:           firstWarning(rec.Warnings),
			PredictionConfidence: confidence(rec),
		},
		Meta: ResultMeta{
			AnalysisTimestamp: s.now().UTC(),
			ForecastDays:      forecastDays,
			ModelVersion:      s.model.Info(),
		},
	}, nil
}

// AssessTLE parses caller-provided element text and assesses it.
func (s *Service) AssessTLE(ctx context.Context, raw string, forecastDays int) (*ObjectResult, error) {
	if err := ValidateForecastDays(forecastDays); err != nil {
		return nil, err
	}
	rec, err := parseTLEString(raw, s.now())
	if err != nil {
		return nil, err
	}
	return s.Assess(ctx, rec, forecastDays)
}

// ProcessBatch assesses a heterogeneous identifier list. Each failed
// identifier becomes one error entry; the batch always completes.
// Group identifiers contribute all their members to the flat result
// list plus a per-identifier group digest.
func (s *Service) ProcessBatch(ctx context.Context, ids []Identifier, forecastDays int) (*Response, error) {
	if err := ValidateForecastDays(forecastDays); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no identifiers given")
	}

	start := time.Now()
	s.logger.Info("processing batch", "identifiers", len(ids), "forecast_days", forecastDays)

	type slot struct {
		results []ObjectResult
		group   *GroupSummary
		err     error
	}
	slots := make([]slot, len(ids))

	// Single objects fan out on the pool. Each task writes only its own
	// slot, so collection after Wait needs no locking.
	var wg sync.WaitGroup
	for i := range ids {
		if ids[i].Group != "" {
			continue
		}
		wg.Add(1)
		id := ids[i]
		submitErr := s.pool.Submit(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slots[i].err = fmt.Errorf("assessment panic: %v", r)
					s.logger.Error("object assessment panicked", "index", i, "panic", r)
				}
			}()
			octx, cancel := context.WithTimeout(ctx, s.cfg.ObjectTimeout)
			defer cancel()
			res, err := s.assessIdentifier(octx, id, forecastDays)
			if err != nil {
				slots[i].err = err
				return
			}
			slots[i].results = []ObjectResult{*res}
		})
		if submitErr != nil {
			wg.Done()
			slots[i].err = submitErr
		}
	}

	// Group identifiers are expanded here on the caller's goroutine:
	// their member assessments go through the same pool, and nesting
	// Submit calls inside pool tasks could deadlock a saturated pool.
	for i := range ids {
		if ids[i].Group == "" {
			continue
		}
		gr, err := s.ProcessGroup(ctx, ids[i].Group, forecastDays)
		if err != nil {
			slots[i].err = err
			continue
		}
		slots[i].results = gr.Results
		slots[i].group = &GroupSummary{
			Group:        gr.Group,
			Distribution: gr.Distribution,
			HighestRisk:  gr.HighestRisk,
		}
	}
	wg.Wait()

	results := make([]ObjectResult, 0, len(ids))
	errList := make([]ObjectError, 0)
	groupMeta := make(map[int]GroupSummary)
	for i := range slots {
		if slots[i].err != nil {
			errList = append(errList, ObjectError{Index: i, Message: slots[i].err.Error()})
			continue
		}
		results = append(results, slots[i].results...)
		if slots[i].group != nil {
			groupMeta[i] = *slots[i].group
		}
	}

	sortByRisk(results)

	resp := &Response{
		Summary: s.Summarize(results),
		Results: results,
		Errors:  errList,
		Meta: BatchMeta{
			TotalSatellites:    len(ids),
			SuccessfulAnalyses: len(results),
			FailedAnalyses:     len(errList),
			AnalysisTimestamp:  s.now().UTC(),
		},
	}
	if len(groupMeta) > 0 {
		resp.GroupMetadata = groupMeta
	}
	metrics.ObserveBatch(len(ids), time.Since(start).Seconds())
	return resp, nil
}

// ProcessGroup fetches a CelesTrak group and assesses every member.
// The whole group shares one object-timeout budget, mirroring the
// per-identifier bound in ProcessBatch.
func (s *Service) ProcessGroup(ctx context.Context, group string, forecastDays int) (*GroupResponse, error) {
	if err := ValidateForecastDays(forecastDays); err != nil {
		return nil, err
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.ObjectTimeout)
	defer cancel()

	records, failures, err := s.tles.Group(gctx, group)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", group, err)
	}
	return s.assessGroup(gctx, records, failures, forecastDays), nil
}

// assessGroup fans the parsed group members out on the pool and folds
// the per-piece results into the group response.
func (s *Service) assessGroup(ctx context.Context, records []tle.OrbitalElements, failures []tle.RecordError, forecastDays int) *GroupResponse {
	s.logger.Info("processing debris group", "pieces", len(records), "unparsed", len(failures))

	errList := make([]GroupError, 0, len(failures))
	for _, f := range failures {
		errList = append(errList, GroupError{Index: f.Index, Message: f.Err.Error()})
	}

	type slot struct {
		res *ObjectResult
		err error
	}
	slots := make([]slot, len(records))
	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		rec := records[i]
		submitErr := s.pool.Submit(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slots[i].err = fmt.Errorf("assessment panic: %v", r)
					s.logger.Error("object assessment panicked", "catalog_number", rec.CatalogNumber, "panic", r)
				}
			}()
			slots[i].res, slots[i].err = s.Assess(ctx, rec, forecastDays)
		})
		if submitErr != nil {
			wg.Done()
			slots[i].err = submitErr
		}
	}
	wg.Wait()

	results := make([]ObjectResult, 0, len(records))
	var riskStats Accumulator
	for i := range slots {
		if slots[i].err != nil {
			errList = append(errList, GroupError{
				Index:         i,
				CatalogNumber: records[i].CatalogNumber,
				Message:       slots[i].err.Error(),
			})
			continue
		}
		res := *slots[i].res
		res.Debris = &DebrisInfo{
			CatalogNumber:   records[i].CatalogNumber,
			Name:            records[i].Name,
			AltitudeKM:      records[i].Derived.AvgAltitudeKM,
			ProcessingIndex: i,
		}
		results = append(results, res)
		riskStats.Add(res.Risk.OverallReentryRisk)
	}

	sortByRisk(results)

	var dist RiskDistribution
	var highRisk int
	for i := range results {
		risk := results[i].Risk.OverallReentryRisk
		switch {
		case risk >= s.cfg.HighRiskThreshold:
			dist.High++
		case risk >= s.cfg.MediumRiskThreshold:
			dist.Medium++
		default:
			dist.Low++
		}
		if risk >= s.cfg.MediumRiskThreshold {
			highRisk++
		}
	}

	highest := results
	if len(highest) > 10 {
		highest = highest[:10]
	}

	return &GroupResponse{
		Group: GroupAnalysis{
			TotalPieces:           len(records) + len(failures),
			SuccessfullyProcessed: len(results),
			ProcessingErrors:      len(errList),
			HighRiskPieces:        highRisk,
			HighestRiskScore:      riskStats.Max(),
			AverageRiskScore:      riskStats.Mean(),
		},
		Distribution: GroupRiskStats{
			High:   dist.High,
			Medium: dist.Medium,
			Low:    dist.Low,
			Stats: RiskStats{
				Max:  riskStats.Max(),
				Min:  riskStats.Min(),
				Mean: riskStats.Mean(),
				Std:  riskStats.Std(),
			},
		},
		HighestRisk: highest,
		Results:     results,
		Errors:      errList,
		Meta: GroupMeta{
			AnalysisTimestamp: s.now().UTC(),
			ForecastDays:      forecastDays,
			ProcessingMethod:  "comprehensive_debris_analysis",
		},
	}
}

// StreamResult is one completed member assessment delivered during a
// streaming run. Index refers to the record's position in the input
// slice, not the delivery order.
type StreamResult struct {
	Index  int
	Result *ObjectResult
	Err    error
}

// AssessAll fans records out on the pool and delivers each assessment
// on the returned channel as it completes. The channel is buffered for
// the full record count and closes once every record is done, so a
// consumer that walks away early never blocks the workers.
func (s *Service) AssessAll(ctx context.Context, records []tle.OrbitalElements, forecastDays int) <-chan StreamResult {
	out := make(chan StreamResult, len(records))

	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		rec := records[i]
		submitErr := s.pool.Submit(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					out <- StreamResult{Index: i, Err: fmt.Errorf("assessment panic: %v", r)}
					s.logger.Error("object assessment panicked", "catalog_number", rec.CatalogNumber, "panic", r)
				}
			}()
			res, err := s.Assess(ctx, rec, forecastDays)
			out <- StreamResult{Index: i, Result: res, Err: err}
		})
		if submitErr != nil {
			wg.Done()
			out <- StreamResult{Index: i, Err: submitErr}
		}
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Summarize aggregates successful results into batch statistics.
func (s *Service) Summarize(results []ObjectResult) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	var alt, conf Accumulator
	var dist RiskDistribution
	var highRisk, reentries30 int
	for i := range results {
		r := &results[i]
		risk := r.Risk.OverallReentryRisk
		switch {
		case risk >= s.cfg.HighRiskThreshold:
			dist.High++
		case risk >= s.cfg.MediumRiskThreshold:
			dist.Medium++
		default:
			dist.Low++
		}
		if risk >= s.cfg.MediumRiskThreshold {
			highRisk++
		}
		if r.Reentry.DaysFromNow <= 30 {
			reentries30++
		}
		alt.Add(r.Orbit.AltitudeKM)
		conf.Add(r.Quality.PredictionConfidence)
	}
	return Summary{
		TotalSatellites:       len(results),
		HighRiskSatellites:    highRisk,
		ReentriesWithin30Days: reentries30,
		RiskDistribution:      dist,
		AltitudeStatistics: AltitudeStats{
			Average: alt.Mean(),
			Min:     alt.Min(),
			Max:     alt.Max(),
		},
		AverageConfidence: conf.Mean(),
	}
}

// assessIdentifier resolves one non-group identifier to a record and
// assesses it.
func (s *Service) assessIdentifier(ctx context.Context, id Identifier, forecastDays int) (*ObjectResult, error) {
	switch {
	case id.TLE != "":
		rec, err := parseTLEString(id.TLE, s.now())
		if err != nil {
			return nil, err
		}
		return s.Assess(ctx, rec, forecastDays)
	case id.Catalog != 0:
		rec, err := s.fetchCatalog(ctx, id.Catalog)
		if err != nil {
			return nil, err
		}
		return s.Assess(ctx, rec, forecastDays)
	default:
		return nil, errors.New("empty identifier")
	}
}

// fetchCatalog performs one catalog lookup under the fetch semaphore.
func (s *Service) fetchCatalog(ctx context.Context, catnr int) (tle.OrbitalElements, error) {
	select {
	case s.fetchSem <- struct{}{}:
	case <-ctx.Done():
		return tle.OrbitalElements{}, ctx.Err()
	}
	defer func() { <-s.fetchSem }()
	return s.tles.Catalog(ctx, catnr)
}

// parseTLEString splits caller-provided element text into its name and
// data lines. The name line is optional.
func parseTLEString(raw string, now time.Time) (tle.OrbitalElements, error) {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	switch {
	case len(lines) >= 3:
		return tle.ParseRecord(lines[0], lines[1], lines[2], now)
	case len(lines) == 2:
		return tle.ParseRecord("", lines[0], lines[1], now)
	default:
		return tle.OrbitalElements{}, fmt.Errorf("element set needs two data lines, got %d line(s)", len(lines))
	}
}

// riskFactors lists the qualitative conditions contributing to an
// object's risk, in a fixed order.
func riskFactors(rec tle.OrbitalElements, asmt *reentry.Assessment) []string {
	factors := make([]string, 0, 4)
	alt := rec.Derived.AvgAltitudeKM
	switch {
	case alt < 400:
		factors = append(factors, "Very low altitude - high atmospheric drag")
	case alt < 600:
		factors = append(factors, "Low altitude - increased atmospheric interaction")
	}
	if rec.Eccentricity > 0.3 {
		factors = append(factors, "High eccentricity - unstable orbit")
	}
	if rec.InclinationDeg > 60 {
		factors = append(factors, "High inclination - extensive populated area coverage")
	}
	if rec.AgeDays > 14 {
		factors = append(factors, "Outdated TLE data - prediction uncertainty")
	}
	switch {
	case asmt.Window.DaysFromNow < 30:
		factors = append(factors, "Imminent reentry expected")
	case asmt.Window.DaysFromNow < 365:
		factors = append(factors, "Reentry within one year")
	}
	return factors
}

// confidence scores how much the prediction can be trusted given the
// element-set age and the orbit regime.
func confidence(rec tle.OrbitalElements) float64 {
	c := 0.8
	switch {
	case rec.AgeDays > 30:
		c -= 0.3
	case rec.AgeDays > 14:
		c -= 0.15
	case rec.AgeDays > 7:
		c -= 0.05
	}
	alt := rec.Derived.AvgAltitudeKM
	if alt < 300 || alt > 2000 {
		c -= 0.1
	}
	return math.Max(0.1, math.Min(1.0, c))
}

func firstWarning(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	return warnings[0]
}

func sortByRisk(results []ObjectResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Risk.OverallReentryRisk > results[j].Risk.OverallReentryRisk
	})
}
