package decay

import "math/rand"

// Parameter ranges for synthetic sample generation.
const (
	minAltitudeKM, maxAltitudeKM     = 200.0, 2000.0
	minInclination, maxInclination   = 0.0, 180.0
	minEccentricity, maxEccentricity = 0.0, 0.7
	minMassKG, maxMassKG             = 100.0, 10000.0
	minAreaM2, maxAreaM2             = 1.0, 100.0
	minSolarFlux, maxSolarFlux       = 80.0, 250.0
)

// Sample pairs one object's parameters with its modeled decay rate.
type Sample struct {
	Params
	DecayRate float64 // km/day
}

// Generate produces n labeled samples drawn uniformly from the modeled
// parameter ranges. Deterministic for a given seed.
func Generate(n int, seed int64) []Sample {
	rng := rand.New(rand.NewSource(seed))

	samples := make([]Sample, n)
	for i := range samples {
		p := Params{
			AltitudeKM:     uniform(rng, minAltitudeKM, maxAltitudeKM),
			InclinationDeg: uniform(rng, minInclination, maxInclination),
			Eccentricity:   uniform(rng, minEccentricity, maxEccentricity),
			MassKG:         uniform(rng, minMassKG, maxMassKG),
			AreaM2:         uniform(rng, minAreaM2, maxAreaM2),
			SolarFlux:      uniform(rng, minSolarFlux, maxSolarFlux),
		}
		samples[i] = Sample{Params: p, DecayRate: Rate(p)}
	}
	return samples
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
