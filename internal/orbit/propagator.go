// Package orbit resolves instantaneous satellite positions from raw
// element lines using the SGP4 model.
package orbit

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go (no CGO), explicit TEME output, ships the ECI-to-geodetic
// conversion used here.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not
// visible to the caller. Propagation failures are detected by checking
// the output for NaN/Inf and unreasonable position magnitudes.

// Position is a geodetic subpoint with altitude at a point in time.
type Position struct {
	LatitudeDeg  float64   `json:"latitude_deg"`
	LongitudeDeg float64   `json:"longitude_deg"`
	AltitudeKM   float64   `json:"altitude_km"`
	At           time.Time `json:"at"`
}

// Propagator wraps the SGP4 model for a single object.
type Propagator struct {
	sat     satellite.Satellite
	catalog int
}

// NewPropagator creates a propagator from raw TLE lines.
//
// Pre-validates the line format before passing to the library, because
// go-satellite calls log.Fatal on malformed input (which would kill the
// process).
func NewPropagator(line1, line2 string, catalog int) (*Propagator, error) {
	if err := validateLines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for catalog %d: %w", catalog, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for catalog %d: code=%d %s", catalog, sat.Error, sat.ErrorStr)
	}
	return &Propagator{sat: sat, catalog: catalog}, nil
}

// validateLines performs basic format validation on TLE lines.
func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// PositionAt computes the geodetic position at the given time.
func (p *Propagator) PositionAt(t time.Time) (Position, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)

	// Detect propagation failures via NaN/Inf check.
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return Position{}, fmt.Errorf("sgp4 propagation failed for catalog %d: output is NaN/Inf", p.catalog)
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return Position{}, fmt.Errorf("sgp4 propagation failed for catalog %d: unreasonable position magnitude %.1f km", p.catalog, mag)
	}

	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)
	alt, _, ll := satellite.ECIToLLA(pos, gmst)
	deg := satellite.LatLongDeg(ll)

	return Position{
		LatitudeDeg:  deg.Latitude,
		LongitudeDeg: normalizeLongitude(deg.Longitude),
		AltitudeKM:   alt,
		At:           t,
	}, nil
}

// normalizeLongitude wraps a longitude into [-180, 180).
func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon >= 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return lon
}
