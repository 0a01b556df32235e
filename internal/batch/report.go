package batch

import (
	"fmt"
	"math"
	"sort"
)

const reportVersion = "1.0"

// PriorityScore ranks an object for monitoring attention. Overall risk
// and time urgency dominate; spatial exposure breaks ties.
func PriorityScore(r *ObjectResult) float64 {
	timeFactor := math.Max(0, 1-r.Reentry.DaysFromNow/365)
	return 0.4*r.Risk.OverallReentryRisk + 0.4*timeFactor + 0.2*r.Risk.PeakSpatialRisk
}

// HighRisk filters results at or above threshold and ranks them by
// priority score, highest first. A non-positive threshold falls back
// to the configured medium threshold.
func (s *Service) HighRisk(results []ObjectResult, threshold float64) []RankedResult {
	if threshold <= 0 {
		threshold = s.cfg.MediumRiskThreshold
	}
	ranked := make([]RankedResult, 0)
	for i := range results {
		if results[i].Risk.OverallReentryRisk < threshold {
			continue
		}
		ranked = append(ranked, RankedResult{
			ObjectResult:  results[i],
			PriorityScore: PriorityScore(&results[i]),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore > ranked[j].PriorityScore
	})
	return ranked
}

// GenerateReport builds the operator-facing digest from a completed
// batch response.
func (s *Service) GenerateReport(resp *Response) *Report {
	critical := make([]ObjectResult, 0)
	for _, r := range resp.Results {
		if r.Risk.OverallReentryRisk >= s.cfg.HighRiskThreshold {
			critical = append(critical, r)
		}
	}

	summary := resp.Summary
	return &Report{
		Executive: ExecutiveSummary{
			TotalSatellitesAnalyzed: summary.TotalSatellites,
			HighRiskCount:           summary.HighRiskSatellites,
			ImminentReentries:       summary.ReentriesWithin30Days,
			OverallThreatLevel:      ThreatLevel(summary),
		},
		Critical:        critical,
		Timeline:        buildTimeline(resp.Results),
		Recommendations: recommendations(summary, critical),
		Statistics: ReportStats{
			RiskDistribution:     summary.RiskDistribution,
			AltitudeDistribution: summary.AltitudeStatistics,
			PredictionConfidence: summary.AverageConfidence,
		},
		Meta: ReportMeta{
			GeneratedAt:   s.now().UTC(),
			DataFreshness: freshness(resp.Results),
			ReportVersion: reportVersion,
		},
	}
}

// ThreatLevel grades a batch summary into the operator escalation
// ladder. The archive and the alert notifier key off the same grading
// the report headline uses.
func ThreatLevel(sum Summary) string {
	switch {
	case sum.ReentriesWithin30Days > 3:
		return "CRITICAL"
	case sum.HighRiskSatellites > 10:
		return "HIGH"
	case sum.HighRiskSatellites > 3:
		return "ELEVATED"
	default:
		return "NORMAL"
	}
}

// freshness grades the mean element-set age across the results.
func freshness(results []ObjectResult) string {
	var age Accumulator
	for i := range results {
		age.Add(results[i].Quality.TLEAgeDays)
	}
	switch mean := age.Mean(); {
	case mean > 30:
		return "STALE"
	case mean > 14:
		return "AGING"
	case mean > 7:
		return "MODERATE"
	default:
		return "FRESH"
	}
}

// buildTimeline buckets expected reentries by horizon, each bucket
// sorted soonest first.
func buildTimeline(results []ObjectResult) Timeline {
	tl := Timeline{
		Next7Days:  make([]TimelineEntry, 0),
		Next30Days: make([]TimelineEntry, 0),
		NextYear:   make([]TimelineEntry, 0),
	}
	for i := range results {
		days := results[i].Reentry.DaysFromNow
		entry := TimelineEntry{
			Name:          results[i].Satellite.Name,
			DaysToReentry: days,
			RiskScore:     results[i].Risk.OverallReentryRisk,
		}
		switch {
		case days <= 7:
			tl.Next7Days = append(tl.Next7Days, entry)
		case days <= 30:
			tl.Next30Days = append(tl.Next30Days, entry)
		case days <= 365:
			tl.NextYear = append(tl.NextYear, entry)
		}
	}
	byDays := func(entries []TimelineEntry) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].DaysToReentry < entries[j].DaysToReentry
		})
	}
	byDays(tl.Next7Days)
	byDays(tl.Next30Days)
	byDays(tl.NextYear)
	return tl
}

// recommendations derives the action items for the report.
func recommendations(sum Summary, critical []ObjectResult) []string {
	recs := make([]string, 0, 4)
	if sum.ReentriesWithin30Days > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d satellites expected to reenter within 30 days - immediate monitoring and public notification required",
			sum.ReentriesWithin30Days))
	}
	if sum.HighRiskSatellites > 5 {
		recs = append(recs, fmt.Sprintf(
			"%d high-risk satellites identified - prioritize tracking and collision avoidance measures",
			sum.HighRiskSatellites))
	}
	if sum.TotalSatellites > 0 && sum.AverageConfidence < 0.7 {
		recs = append(recs,
			"Low prediction confidence due to outdated TLE data - request fresh orbital elements from tracking networks")
	}
	var lowAltitude int
	for i := range critical {
		if critical[i].Orbit.AltitudeKM < 400 {
			lowAltitude++
		}
	}
	if lowAltitude > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d satellites in very low orbits - expect rapid orbital decay and frequent updates needed",
			lowAltitude))
	}
	return recs
}
