package tle

import "time"

// OrbitalElements holds one fully decoded two-line element set along
// with the parameters derived from it.
type OrbitalElements struct {
	Name           string `json:"name,omitempty"`
	CatalogNumber  int    `json:"catalog_number"`
	Classification string `json:"classification"`
	IntlDesignator string `json:"international_designator"`
	EphemerisType  int    `json:"ephemeris_type"`
	ElementSet     int    `json:"element_set_number"`

	Epoch     time.Time `json:"epoch"`
	EpochYear int       `json:"epoch_year"`
	EpochDay  float64   `json:"epoch_day_of_year"`
	AgeDays   float64   `json:"age_days"`

	InclinationDeg   float64 `json:"inclination_deg"`
	RAANDeg          float64 `json:"raan_deg"`
	Eccentricity     float64 `json:"eccentricity"`
	ArgPerigeeDeg    float64 `json:"arg_perigee_deg"`
	MeanAnomalyDeg   float64 `json:"mean_anomaly_deg"`
	MeanMotion       float64 `json:"mean_motion_rev_per_day"`
	RevolutionNumber int     `json:"revolution_number"`

	MeanMotionDot  float64 `json:"mean_motion_derivative"`
	MeanMotionDDot float64 `json:"mean_motion_second_derivative"`
	BStar          float64 `json:"drag_term"`

	Derived  DerivedParameters `json:"derived"`
	Warnings []string          `json:"warnings,omitempty"`

	// Raw lines are kept for downstream propagation, which re-reads the
	// record through its own parser.
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// DerivedParameters are the orbital quantities computed from the mean
// motion and eccentricity rather than read off the record.
type DerivedParameters struct {
	SemiMajorAxisKM   float64 `json:"semi_major_axis_km"`
	ApogeeAltitudeKM  float64 `json:"apogee_altitude_km"`
	PerigeeAltitudeKM float64 `json:"perigee_altitude_km"`
	AvgAltitudeKM     float64 `json:"average_altitude_km"`
	PeriodMinutes     float64 `json:"orbital_period_minutes"`
}
