// Package reentry scores decay-driven reentry risk for orbital objects.
package reentry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/debrisk/debrisk/internal/tle"
)

// reentryAltitudeKM is the approximate atmospheric boundary used as the
// reentry threshold.
const reentryAltitudeKM = 100.0

// stableOrbitDays stands in for "effectively permanent" when the
// predicted decay rate is not positive.
const stableOrbitDays = 365.0 * 100

// DecayPredictor estimates an object's altitude loss rate in km/day.
// *ml.Ensemble satisfies it.
type DecayPredictor interface {
	Predict(ctx context.Context, altitudeKM, inclinationDeg, eccentricity float64) (float64, error)
}

// Window bounds the predicted reentry time. PredictedDate is nil for
// orbits too stable to decay.
type Window struct {
	PredictedDate   *time.Time `json:"predicted_date"`
	DaysFromNow     float64    `json:"days_from_now"`
	UncertaintyDays float64    `json:"uncertainty_days"`
}

// RiskBounds are the uncertainty bounds on the risk score itself.
type RiskBounds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Risk carries the scored risk components.
type Risk struct {
	OverallReentryRisk float64    `json:"overall_reentry_risk"`
	PeakSpatialRisk    float64    `json:"peak_spatial_risk"`
	UncertaintyBounds  RiskBounds `json:"uncertainty_bounds"`
}

// OrbitState echoes the inputs the scores were computed from.
type OrbitState struct {
	AltitudeKM        float64 `json:"current_altitude_km"`
	InclinationDeg    float64 `json:"inclination_deg"`
	Eccentricity      float64 `json:"eccentricity"`
	DecayRateKMPerDay float64 `json:"predicted_decay_rate_km_per_day"`
}

// Assessment is the full per-object reentry evaluation.
type Assessment struct {
	Window       Window     `json:"reentry_window"`
	Risk         Risk       `json:"risk_assessment"`
	Orbit        OrbitState `json:"orbital_parameters"`
	ForecastDays int        `json:"forecast_days"`
}

// Analyzer scores reentry risk. It holds no mutable state; every call
// is a pure computation over the record plus one predictor query.
type Analyzer struct {
	predictor DecayPredictor

	now func() time.Time
}

// NewAnalyzer creates an Analyzer over the given predictor.
func NewAnalyzer(predictor DecayPredictor) *Analyzer {
	return &Analyzer{predictor: predictor, now: time.Now}
}

// Analyze evaluates one object. An error means the object should be
// skipped by the caller, not that the batch failed.
func (a *Analyzer) Analyze(ctx context.Context, rec tle.OrbitalElements, forecastDays int) (*Assessment, error) {
	altitude := rec.Derived.AvgAltitudeKM
	inclination := rec.InclinationDeg
	eccentricity := rec.Eccentricity

	if math.IsNaN(altitude) || math.IsInf(altitude, 0) {
		return nil, fmt.Errorf("catalog %d: degenerate altitude %v", rec.CatalogNumber, altitude)
	}

	decayRate, err := a.predictor.Predict(ctx, altitude, inclination, eccentricity)
	if err != nil {
		return nil, fmt.Errorf("decay prediction for catalog %d: %w", rec.CatalogNumber, err)
	}
	if math.IsNaN(decayRate) || math.IsInf(decayRate, 0) {
		return nil, fmt.Errorf("decay prediction for catalog %d: degenerate rate %v", rec.CatalogNumber, decayRate)
	}

	now := a.now().UTC()
	var (
		days float64
		date *time.Time
	)
	if decayRate > 0 {
		days = math.Max((altitude-reentryAltitudeKM)/decayRate, 0)
		d := addDays(now, days)
		date = &d
	} else {
		days = stableOrbitDays
	}

	overall := reentryRisk(days, altitude, eccentricity)

	return &Assessment{
		Window: Window{
			PredictedDate:   date,
			DaysFromNow:     days,
			UncertaintyDays: uncertaintyDays(days, altitude, decayRate),
		},
		Risk: Risk{
			OverallReentryRisk: overall,
			PeakSpatialRisk:    spatialRisk(inclination, altitude, days),
			UncertaintyBounds: RiskBounds{
				Lower: math.Max(0, overall-0.1),
				Upper: math.Min(1, overall+0.1),
			},
		},
		Orbit: OrbitState{
			AltitudeKM:        altitude,
			InclinationDeg:    inclination,
			Eccentricity:      eccentricity,
			DecayRateKMPerDay: decayRate,
		},
		ForecastDays: forecastDays,
	}, nil
}

// addDays advances t by a fractional day count. Whole days go through
// AddDate because a time.Duration caps out around 292 years, which slow
// decays exceed easily.
func addDays(t time.Time, days float64) time.Time {
	whole := math.Floor(days)
	frac := days - whole
	return t.AddDate(0, 0, int(whole)).Add(time.Duration(frac * float64(24*time.Hour)))
}

// timeTier maps days-to-reentry onto the stepped urgency score.
func timeTier(days float64) float64 {
	switch {
	case days < 30:
		return 0.9
	case days < 365:
		return 0.6
	case days < 365*5:
		return 0.3
	default:
		return 0.1
	}
}

// reentryRisk blends urgency, altitude, and eccentricity into the
// overall score.
func reentryRisk(days, altitude, eccentricity float64) float64 {
	altitudeRisk := clip((1000-altitude)/800, 0, 1)
	eccRisk := math.Min(1, eccentricity*2)
	return math.Min(1.0, timeTier(days)*0.5+altitudeRisk*0.3+eccRisk*0.2)
}

// spatialRisk estimates populated-area exposure: high inclinations
// overfly more of the inhabited surface.
func spatialRisk(inclination, altitude, days float64) float64 {
	inclinationFactor := math.Min(1, inclination/90)
	altitudeFactor := clip((800-altitude)/600, 0, 1)
	timeFactor := 0.5
	if days < 30 {
		timeFactor = 1.0
	}
	return math.Min(1.0, inclinationFactor*0.4+altitudeFactor*0.4+timeFactor*0.2)
}

// uncertaintyDays widens the prediction window for extreme altitudes
// and near-zero decay rates.
func uncertaintyDays(days, altitude, decayRate float64) float64 {
	base := math.Max(1, days*0.1)
	if altitude < 300 || altitude > 1500 {
		base *= 1.5
	}
	if decayRate < 0.01 {
		base *= 2.0
	}
	return math.Min(days*0.5, base)
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
