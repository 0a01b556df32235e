package orbit

import (
	"strings"
	"testing"
	"time"
)

// Historical ISS record with valid checksums on both lines.
const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

// TestNewPropagatorValidation rejects malformed lines before they reach
// the SGP4 library.
func TestNewPropagatorValidation(t *testing.T) {
	tests := []struct {
		name  string
		line1 string
		line2 string
	}{
		{"empty lines", "", ""},
		{"short line1", issLine1[:68], issLine2},
		{"short line2", issLine1, issLine2[:50]},
		{"wrong line1 prefix", "X" + issLine1[1:], issLine2},
		{"wrong line2 prefix", issLine1, "X" + issLine2[1:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPropagator(tt.line1, tt.line2, 25544); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// TestPositionAtISS propagates the reference record at its own epoch
// and checks the geodetic output stays inside physical bounds.
func TestPositionAtISS(t *testing.T) {
	prop, err := NewPropagator(issLine1, issLine2, 25544)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	epoch := time.Date(2008, time.September, 20, 12, 25, 40, 0, time.UTC)
	pos, err := prop.PositionAt(epoch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos.AltitudeKM < 300 || pos.AltitudeKM > 420 {
		t.Errorf("AltitudeKM = %v, want low Earth orbit range", pos.AltitudeKM)
	}
	// Geodetic latitude cannot exceed the orbital inclination by more
	// than the flattening correction.
	if pos.LatitudeDeg < -52.5 || pos.LatitudeDeg > 52.5 {
		t.Errorf("LatitudeDeg = %v, exceeds inclination bound", pos.LatitudeDeg)
	}
	if pos.LongitudeDeg < -180 || pos.LongitudeDeg >= 180 {
		t.Errorf("LongitudeDeg = %v, not normalized", pos.LongitudeDeg)
	}
	if !pos.At.Equal(epoch) {
		t.Errorf("At = %v, want %v", pos.At, epoch)
	}
}

// TestPositionAtStableAcrossOrbit samples several times across one
// revolution; every sample must stay in orbit.
func TestPositionAtStableAcrossOrbit(t *testing.T) {
	prop, err := NewPropagator(issLine1, issLine2, 25544)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Date(2008, time.September, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		at := start.Add(time.Duration(i) * 15 * time.Minute)
		pos, err := prop.PositionAt(at)
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if pos.AltitudeKM < 300 || pos.AltitudeKM > 420 {
			t.Errorf("sample %d: AltitudeKM = %v", i, pos.AltitudeKM)
		}
	}
}

// TestNormalizeLongitude wraps out-of-range longitudes into [-180, 180).
func TestNormalizeLongitude(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{179.5, 179.5},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{550, -170},
		{-550, 170},
	}

	for _, tt := range tests {
		if got := normalizeLongitude(tt.in); got != tt.want {
			t.Errorf("normalizeLongitude(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestValidateLinesTrimsWhitespace accepts lines padded by transport
// whitespace.
func TestValidateLinesTrimsWhitespace(t *testing.T) {
	if err := validateLines(issLine1+"\r", "  "+issLine2); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(issLine1, "1 ") {
		t.Fatal("fixture corrupted")
	}
}
