package batch

import (
	"time"

	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/reentry"
)

// Identifier designates one object in a batch request. Exactly one
// field is set: TLE carries a raw element set pasted by the caller,
// Catalog a NORAD number to fetch, and Group a CelesTrak group whose
// every member is assessed.
type Identifier struct {
	TLE     string
	Catalog int
	Group   string
}

// SatelliteInfo identifies the assessed object.
type SatelliteInfo struct {
	Name           string `json:"name"`
	CatalogNumber  int    `json:"catalog_number"`
	Classification string `json:"classification"`
	ElementSet     int    `json:"element_number"`
	EphemerisType  int    `json:"ephemeris_type"`
	ObjectType     string `json:"object_type"`
}

// RiskReport extends the analyzer risk scores with the category label
// and the human-readable contributing factors.
type RiskReport struct {
	reentry.Risk
	Category string   `json:"risk_category"`
	Factors  []string `json:"risk_factors"`
}

// DataQuality describes how much the input element set can be trusted.
type DataQuality struct {
	TLEAgeDays           float64 `json:"tle_age_days"`
	AgeWarning           string  `json:"age_warning,omitempty"`
	PredictionConfidence float64 `json:"prediction_confidence"`
}

// ResultMeta records when and how one assessment was produced.
type ResultMeta struct {
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	ForecastDays      int       `json:"forecast_days"`
	ModelVersion      ml.Info   `json:"model_version"`
}

// DebrisInfo is attached to results produced by whole-group analysis.
type DebrisInfo struct {
	CatalogNumber   int     `json:"catalog_number"`
	Name            string  `json:"name"`
	AltitudeKM      float64 `json:"altitude_km"`
	ProcessingIndex int     `json:"processing_index"`
}

// ObjectResult is the complete assessment for one object.
type ObjectResult struct {
	Satellite SatelliteInfo      `json:"satellite_info"`
	Orbit     reentry.OrbitState `json:"orbital_parameters"`
	Reentry   reentry.Window     `json:"reentry_prediction"`
	Risk      RiskReport         `json:"risk_assessment"`
	Quality   DataQuality        `json:"data_quality"`
	Meta      ResultMeta         `json:"metadata"`
	Debris    *DebrisInfo        `json:"debris_info,omitempty"`
}

// RankedResult is an ObjectResult annotated with its monitoring
// priority, produced by the high-risk filter.
type RankedResult struct {
	ObjectResult
	PriorityScore float64 `json:"priority_score"`
}

// ObjectError reports one failed identifier in a batch.
type ObjectError struct {
	Index   int    `json:"satellite_index"`
	Message string `json:"error"`
}

// RiskDistribution counts results per risk category.
type RiskDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// AltitudeStats summarizes the altitude spread across a batch.
type AltitudeStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary aggregates the successful results of one batch.
type Summary struct {
	TotalSatellites       int              `json:"total_satellites"`
	HighRiskSatellites    int              `json:"high_risk_satellites"`
	ReentriesWithin30Days int              `json:"reentries_within_30_days"`
	RiskDistribution      RiskDistribution `json:"risk_distribution"`
	AltitudeStatistics    AltitudeStats    `json:"altitude_statistics"`
	AverageConfidence     float64          `json:"average_confidence"`
}

// BatchMeta carries batch-level bookkeeping.
type BatchMeta struct {
	TotalSatellites    int       `json:"total_satellites"`
	SuccessfulAnalyses int       `json:"successful_analyses"`
	FailedAnalyses     int       `json:"failed_analyses"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
}

// Response is the result of ProcessBatch. Results are sorted by
// descending overall risk; identifier failures are itemized rather
// than failing the batch.
type Response struct {
	Summary       Summary              `json:"summary"`
	Results       []ObjectResult       `json:"individual_results"`
	Errors        []ObjectError        `json:"processing_errors"`
	Meta          BatchMeta            `json:"metadata"`
	GroupMetadata map[int]GroupSummary `json:"group_metadata,omitempty"`
}

// GroupAnalysis is the headline numbers for a whole-group run.
type GroupAnalysis struct {
	TotalPieces           int     `json:"total_pieces"`
	SuccessfullyProcessed int     `json:"successfully_processed"`
	ProcessingErrors      int     `json:"processing_errors"`
	HighRiskPieces        int     `json:"high_risk_pieces"`
	HighestRiskScore      float64 `json:"highest_risk_score"`
	AverageRiskScore      float64 `json:"average_risk_score"`
}

// RiskStats summarizes the risk-score distribution of a group.
type RiskStats struct {
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// GroupRiskStats buckets group members per risk category alongside the
// score statistics.
type GroupRiskStats struct {
	High   int       `json:"high"`
	Medium int       `json:"medium"`
	Low    int       `json:"low"`
	Stats  RiskStats `json:"risk_stats"`
}

// GroupError reports one group member that could not be assessed.
type GroupError struct {
	Index         int    `json:"index"`
	CatalogNumber int    `json:"catalog_number,omitempty"`
	Message       string `json:"error"`
}

// GroupMeta carries group-level bookkeeping.
type GroupMeta struct {
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	ForecastDays      int       `json:"forecast_days"`
	ProcessingMethod  string    `json:"processing_method"`
}

// GroupResponse is the result of ProcessGroup: every member assessed,
// sorted by descending risk, with the ten highest-risk pieces broken
// out.
type GroupResponse struct {
	Group        GroupAnalysis  `json:"group_analysis"`
	Distribution GroupRiskStats `json:"risk_distribution"`
	HighestRisk  []ObjectResult `json:"highest_risk_debris"`
	Results      []ObjectResult `json:"all_results"`
	Errors       []GroupError   `json:"processing_errors"`
	Meta         GroupMeta      `json:"metadata"`
}

// GroupSummary is the group-level digest attached to a batch response
// when an identifier expanded to a whole group.
type GroupSummary struct {
	Group        GroupAnalysis  `json:"group_analysis"`
	Distribution GroupRiskStats `json:"risk_distribution"`
	HighestRisk  []ObjectResult `json:"highest_risk_debris"`
}

// ExecutiveSummary opens a risk report.
type ExecutiveSummary struct {
	TotalSatellitesAnalyzed int    `json:"total_satellites_analyzed"`
	HighRiskCount           int    `json:"high_risk_count"`
	ImminentReentries       int    `json:"imminent_reentries"`
	OverallThreatLevel      string `json:"overall_threat_level"`
}

// TimelineEntry is one expected reentry in a report timeline bucket.
type TimelineEntry struct {
	Name          string  `json:"name"`
	DaysToReentry float64 `json:"days_to_reentry"`
	RiskScore     float64 `json:"risk_score"`
}

// Timeline buckets expected reentries by horizon. Objects beyond one
// year are omitted.
type Timeline struct {
	Next7Days  []TimelineEntry `json:"next_7_days"`
	Next30Days []TimelineEntry `json:"next_30_days"`
	NextYear   []TimelineEntry `json:"next_year"`
}

// ReportStats is the statistics section of a risk report.
type ReportStats struct {
	RiskDistribution     RiskDistribution `json:"risk_distribution"`
	AltitudeDistribution AltitudeStats    `json:"altitude_distribution"`
	PredictionConfidence float64          `json:"prediction_confidence"`
}

// ReportMeta carries report provenance.
type ReportMeta struct {
	GeneratedAt   time.Time `json:"generated_at"`
	DataFreshness string    `json:"data_freshness"`
	ReportVersion string    `json:"report_version"`
}

// Report is the operator-facing digest built from a batch response.
type Report struct {
	Executive       ExecutiveSummary `json:"executive_summary"`
	Critical        []ObjectResult   `json:"critical_satellites"`
	Timeline        Timeline         `json:"risk_timeline"`
	Recommendations []string         `json:"recommendations"`
	Statistics      ReportStats      `json:"statistics"`
	Meta            ReportMeta       `json:"report_metadata"`
}
