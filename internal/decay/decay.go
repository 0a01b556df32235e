// Package decay implements the closed-form atmospheric drag model that labels
// the synthetic training set for the decay ensemble.
//
// The model is deliberately simplified physics: piecewise-exponential density
// bands scaled by solar activity, a ballistic-coefficient drag term, and
// altitude/eccentricity/inclination correction factors. It exists to produce a
// learnable, reproducible dataset, not as ground truth, so the functional form
// and constants are fixed. Do not retune them: the ensemble's trained behavior
// and the test suite both depend on this exact distribution.
package decay

import "math"

// Physics constants shared across the risk pipeline.
const (
	// EarthRadiusKM is the mean Earth radius.
	EarthRadiusKM = 6371.0

	// EarthMu is the standard gravitational parameter of Earth in km^3/s^2.
	EarthMu = 398600.4418

	// DragCoefficient is the assumed drag coefficient for all objects.
	DragCoefficient = 2.2

	// MinDecayRate is the floor applied to every modeled or predicted decay
	// rate, in km/day.
	MinDecayRate = 0.001

	secondsPerDay = 86400.0
)

// Params holds the drag-relevant state of one orbiting object.
type Params struct {
	AltitudeKM     float64 // average altitude above the surface
	InclinationDeg float64
	Eccentricity   float64
	MassKG         float64
	AreaM2         float64 // cross-sectional area
	SolarFlux      float64 // F10.7 index
}

// Features returns the parameter vector in the fixed order the ensemble
// models were trained on.
func (p Params) Features() []float64 {
	return []float64{
		p.AltitudeKM,
		p.InclinationDeg,
		p.Eccentricity,
		p.MassKG,
		p.AreaM2,
		p.SolarFlux,
	}
}

// FeatureNames lists the feature order used by Params.Features.
func FeatureNames() []string {
	return []string{
		"altitude_km", "inclination_deg", "eccentricity",
		"mass_kg", "area_m2", "solar_flux",
	}
}

// Density returns the modeled atmospheric density at the given altitude,
// scaled by solar activity. Three exponential bands: below 300 km, 300-600 km,
// and above 600 km, each decaying from a band-specific reference value.
func Density(altitudeKM, solarFlux float64) float64 {
	var density float64
	switch {
	case altitudeKM < 300:
		density = 1e-11 * math.Exp(-(altitudeKM-200)/50)
	case altitudeKM < 600:
		density = 1e-12 * math.Exp(-(altitudeKM-300)/100)
	default:
		density = 1e-15 * math.Exp(-(altitudeKM-600)/200)
	}
	return density * math.Sqrt(solarFlux/150)
}

// Rate returns the modeled orbital decay rate in km/day, floored at
// MinDecayRate.
//
// decay = (rho * A * Cd * 86400) / (2 * bc), bc = m / (Cd * A),
// then scaled by (alt/R)^2, (1+e), and (1 + 0.1*sin(i)).
func Rate(p Params) float64 {
	density := Density(p.AltitudeKM, p.SolarFlux)

	ballisticCoeff := p.MassKG / (DragCoefficient * p.AreaM2)

	rate := (density * p.AreaM2 * DragCoefficient * secondsPerDay) / (2 * ballisticCoeff)
	rate *= (p.AltitudeKM / EarthRadiusKM) * (p.AltitudeKM / EarthRadiusKM)
	rate *= 1 + p.Eccentricity
	rate *= 1 + 0.1*math.Sin(p.InclinationDeg*math.Pi/180)

	return math.Max(MinDecayRate, rate)
}
