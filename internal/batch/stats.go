package batch

import "math"

// Accumulator computes streaming count, mean, standard deviation, and
// extrema with Welford's method, so group statistics never need to
// hold the sample slice.
type Accumulator struct {
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Add folds one observation into the accumulator.
func (a *Accumulator) Add(v float64) {
	a.n++
	if a.n == 1 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	delta := v - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (v - a.mean)
}

// Count returns the number of observations.
func (a *Accumulator) Count() int { return a.n }

// Mean returns the running mean, or 0 with no observations.
func (a *Accumulator) Mean() float64 { return a.mean }

// Std returns the population standard deviation.
func (a *Accumulator) Std() float64 {
	if a.n == 0 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.n))
}

// Min returns the smallest observation, or 0 with none.
func (a *Accumulator) Min() float64 { return a.min }

// Max returns the largest observation, or 0 with none.
func (a *Accumulator) Max() float64 { return a.max }
