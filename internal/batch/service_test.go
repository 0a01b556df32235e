package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/reentry"
	"github.com/debrisk/debrisk/internal/tle"
)

// Element set for ISS from the SGP4 verification data; both line
// checksums are valid.
const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

var fixedNow = time.Date(2008, time.September, 25, 0, 0, 0, 0, time.UTC)

func issTLE() string {
	return "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2
}

func fixChecksum(line string) string {
	return line[:68] + strconv.Itoa(tle.Checksum(line))
}

func within(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

// stubModel returns a fixed decay rate so scenario outcomes are
// deterministic.
type stubModel struct {
	rate float64
	err  error
}

func (m stubModel) Predict(ctx context.Context, altitudeKM, inclinationDeg, eccentricity float64) (float64, error) {
	return m.rate, m.err
}

func (m stubModel) Info() ml.Info {
	return ml.Info{Trained: true}
}

// newStubService builds a service with no TLE client for tests that
// never fetch.
func newStubService(t *testing.T, rate float64) *Service {
	t.Helper()
	pool := NewPool(4, 8, testLogger)
	t.Cleanup(pool.Close)
	svc := NewService(nil, stubModel{rate: rate}, pool, Config{}, testLogger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// newTestService builds a service whose TLE client talks to handler.
func newTestService(t *testing.T, handler http.Handler, rate float64) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	fetcher := tle.NewFetcher(server.URL, 0, 1, testLogger)
	client := tle.NewClient(fetcher, tle.NewCache(time.Hour, nil, testLogger), testLogger)
	pool := NewPool(4, 8, testLogger)
	t.Cleanup(pool.Close)
	svc := NewService(client, stubModel{rate: rate}, pool, Config{}, testLogger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// record builds a circular-orbit element record without going through
// the parser.
func record(name string, catnr int, altKM, incDeg, ecc, ageDays float64) tle.OrbitalElements {
	return tle.OrbitalElements{
		Name:           name,
		CatalogNumber:  catnr,
		Classification: "U",
		InclinationDeg: incDeg,
		Eccentricity:   ecc,
		AgeDays:        ageDays,
		Derived: tle.DerivedParameters{
			SemiMajorAxisKM:   altKM + 6371,
			PerigeeAltitudeKM: altKM,
			ApogeeAltitudeKM:  altKM,
			AvgAltitudeKM:     altKM,
		},
	}
}

// mkResult builds a minimal ObjectResult for aggregation tests.
func mkResult(name string, risk, spatial, days, alt, conf, age float64) ObjectResult {
	return ObjectResult{
		Satellite: SatelliteInfo{Name: name, CatalogNumber: 90000, ObjectType: ObjectType(name)},
		Orbit:     reentry.OrbitState{AltitudeKM: alt},
		Reentry:   reentry.Window{DaysFromNow: days},
		Risk:      RiskReport{Risk: reentry.Risk{OverallReentryRisk: risk, PeakSpatialRisk: spatial}},
		Quality:   DataQuality{TLEAgeDays: age, PredictionConfidence: conf},
	}
}

// TestValidateForecastDays checks the accepted horizon bounds.
func TestValidateForecastDays(t *testing.T) {
	cases := []struct {
		days    int
		wantErr bool
	}{
		{-10, true},
		{0, true},
		{1, false},
		{30, false},
		{365, false},
		{366, true},
	}
	for _, tc := range cases {
		err := ValidateForecastDays(tc.days)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateForecastDays(%d) err = %v, wantErr %v", tc.days, err, tc.wantErr)
		}
	}
}

// TestParseIdentifiers covers the three identifier kinds and the
// rejection cases.
func TestParseIdentifiers(t *testing.T) {
	ids, err := ParseIdentifiers([]any{
		float64(25544),
		issTLE(),
		"cosmos-2251-debris",
		json.Number("20580"),
		int(7),
	})
	if err != nil {
		t.Fatalf("ParseIdentifiers: %v", err)
	}
	want := []Identifier{
		{Catalog: 25544},
		{TLE: issTLE()},
		{Group: "cosmos-2251-debris"},
		{Catalog: 20580},
		{Catalog: 7},
	}
	if len(ids) != len(want) {
		t.Fatalf("got %d identifiers, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("identifier %d = %+v, want %+v", i, ids[i], want[i])
		}
	}

	bad := []struct {
		name string
		raw  []any
	}{
		{"bool", []any{true}},
		{"negative", []any{float64(-1)}},
		{"zero", []any{float64(0)}},
		{"fractional", []any{float64(2.5)}},
		{"empty string", []any{"  "}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseIdentifiers(tc.raw); err == nil {
				t.Fatalf("ParseIdentifiers(%v) succeeded, want error", tc.raw)
			}
		})
	}
}

// TestObjectType checks the catalog naming conventions.
func TestObjectType(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"COSMOS 2251 DEB", "DEBRIS"},
		{"SL-16 R/B", "ROCKET BODY"},
		{"ISS (ZARYA)", "PAYLOAD"},
		{"", "PAYLOAD"},
	}
	for _, tc := range cases {
		if got := ObjectType(tc.name); got != tc.want {
			t.Errorf("ObjectType(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// TestCategorize checks the category thresholds, boundaries included.
func TestCategorize(t *testing.T) {
	svc := newStubService(t, 1)
	cases := []struct {
		risk float64
		want string
	}{
		{0.9, "HIGH"},
		{0.7, "HIGH"},
		{0.699, "MEDIUM"},
		{0.4, "MEDIUM"},
		{0.399, "LOW"},
		{0, "LOW"},
	}
	for _, tc := range cases {
		if got := svc.Categorize(tc.risk); got != tc.want {
			t.Errorf("Categorize(%v) = %q, want %q", tc.risk, got, tc.want)
		}
	}
}

// TestConfidence checks the data-quality score against hand-computed
// cases.
func TestConfidence(t *testing.T) {
	cases := []struct {
		age  float64
		alt  float64
		want float64
	}{
		{2, 400, 0.8},
		{8, 400, 0.75},
		{15, 400, 0.65},
		{31, 400, 0.5},
		{2, 250, 0.7},
		{31, 2500, 0.4},
	}
	for _, tc := range cases {
		rec := record("X", 1, tc.alt, 50, 0, tc.age)
		if got := confidence(rec); !within(got, tc.want, 1e-9) {
			t.Errorf("confidence(age=%v, alt=%v) = %v, want %v", tc.age, tc.alt, got, tc.want)
		}
	}
}

// TestAssessComposesResult verifies that one assessment carries the
// right identity, category, factors, and quality block.
func TestAssessComposesResult(t *testing.T) {
	svc := newStubService(t, 6.0)
	rec := record("TEST DEB", 90001, 250, 96.5, 0.001, 2)

	res, err := svc.Assess(context.Background(), rec, 30)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	if res.Satellite.Name != "TEST DEB" || res.Satellite.CatalogNumber != 90001 {
		t.Errorf("satellite info = %+v", res.Satellite)
	}
	if res.Satellite.ObjectType != "DEBRIS" {
		t.Errorf("ObjectType = %q, want DEBRIS", res.Satellite.ObjectType)
	}
	// 0.5*0.9 + 0.3*((1000-250)/800) + 0.2*min(1, 2*0.001)
	if !within(res.Risk.OverallReentryRisk, 0.73165, 1e-9) {
		t.Errorf("OverallReentryRisk = %v, want 0.73165", res.Risk.OverallReentryRisk)
	}
	if res.Risk.Category != "HIGH" {
		t.Errorf("Category = %q, want HIGH", res.Risk.Category)
	}
	wantFactors := []string{
		"Very low altitude - high atmospheric drag",
		"High inclination - extensive populated area coverage",
		"Imminent reentry expected",
	}
	if len(res.Risk.Factors) != len(wantFactors) {
		t.Fatalf("factors = %v, want %v", res.Risk.Factors, wantFactors)
	}
	for i := range wantFactors {
		if res.Risk.Factors[i] != wantFactors[i] {
			t.Errorf("factor %d = %q, want %q", i, res.Risk.Factors[i], wantFactors[i])
		}
	}
	if !within(res.Quality.PredictionConfidence, 0.7, 1e-9) {
		t.Errorf("PredictionConfidence = %v, want 0.7", res.Quality.PredictionConfidence)
	}
	if res.Quality.TLEAgeDays != 2 {
		t.Errorf("TLEAgeDays = %v, want 2", res.Quality.TLEAgeDays)
	}
	if !res.Meta.AnalysisTimestamp.Equal(fixedNow) {
		t.Errorf("AnalysisTimestamp = %v, want %v", res.Meta.AnalysisTimestamp, fixedNow)
	}
	if res.Meta.ForecastDays != 30 {
		t.Errorf("ForecastDays = %d, want 30", res.Meta.ForecastDays)
	}
	if !res.Meta.ModelVersion.Trained {
		t.Error("ModelVersion.Trained = false, want true")
	}
}

// TestAssessTLE covers the raw-text entry point, including its
// validation failures.
func TestAssessTLE(t *testing.T) {
	svc := newStubService(t, 6.0)
	ctx := context.Background()

	res, err := svc.AssessTLE(ctx, issTLE(), 30)
	if err != nil {
		t.Fatalf("AssessTLE: %v", err)
	}
	if res.Satellite.CatalogNumber != 25544 {
		t.Errorf("CatalogNumber = %d, want 25544", res.Satellite.CatalogNumber)
	}
	if alt := res.Orbit.AltitudeKM; alt < 350 || alt > 370 {
		t.Errorf("AltitudeKM = %v, want near 360", alt)
	}
	if res.Quality.PredictionConfidence != 0.8 {
		t.Errorf("PredictionConfidence = %v, want 0.8", res.Quality.PredictionConfidence)
	}

	// Name line is optional.
	res, err = svc.AssessTLE(ctx, issLine1+"\n"+issLine2, 30)
	if err != nil {
		t.Fatalf("AssessTLE without name: %v", err)
	}
	if res.Satellite.Name != "" {
		t.Errorf("Name = %q, want empty", res.Satellite.Name)
	}

	if _, err := svc.AssessTLE(ctx, issTLE(), 0); err == nil {
		t.Error("AssessTLE with forecast 0 succeeded, want error")
	}
	if _, err := svc.AssessTLE(ctx, "one line only", 30); err == nil {
		t.Error("AssessTLE with one line succeeded, want error")
	}
}

// TestProcessBatchMixedIdentifiers runs pasted text and a catalog
// lookup through one batch and checks the response bookkeeping.
func TestProcessBatchMixedIdentifiers(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("CATNR") == "25544" {
			fmt.Fprintf(w, "ISS (ZARYA)\n%s\n%s\n", issLine1, issLine2)
			return
		}
		http.NotFound(w, r)
	}), 6.0)

	ids := []Identifier{
		{TLE: issTLE()},
		{Catalog: 25544},
		{TLE: "NOT A TLE\ngarbage"},
	}
	resp, err := svc.ProcessBatch(context.Background(), ids, 30)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 2 {
		t.Fatalf("errors = %+v, want one entry for index 2", resp.Errors)
	}
	meta := resp.Meta
	if meta.TotalSatellites != 3 || meta.SuccessfulAnalyses != 2 || meta.FailedAnalyses != 1 {
		t.Errorf("meta = %+v", meta)
	}
	if resp.Summary.TotalSatellites != 2 {
		t.Errorf("summary total = %d, want 2", resp.Summary.TotalSatellites)
	}
	for i, r := range resp.Results {
		if r.Satellite.CatalogNumber != 25544 {
			t.Errorf("result %d catalog = %d, want 25544", i, r.Satellite.CatalogNumber)
		}
		if r.Risk.Category != "MEDIUM" {
			t.Errorf("result %d category = %q, want MEDIUM", i, r.Risk.Category)
		}
	}
	if resp.GroupMetadata != nil {
		t.Errorf("GroupMetadata = %+v, want none", resp.GroupMetadata)
	}
}

// TestProcessBatchErrorIsolation verifies that one malformed element
// set fails alone while the rest of the batch completes.
func TestProcessBatchErrorIsolation(t *testing.T) {
	svc := newStubService(t, 2.0)
	ids := []Identifier{
		{TLE: issTLE()},
		{TLE: issTLE()},
		{TLE: issTLE()},
		{TLE: "1 garbage\n2 garbage"},
	}
	resp, err := svc.ProcessBatch(context.Background(), ids, 30)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 3 {
		t.Fatalf("errors = %+v, want one entry for index 3", resp.Errors)
	}
	if resp.Errors[0].Message == "" {
		t.Error("error message is empty")
	}
}

// TestProcessBatchCatalogNotFound maps a missing catalog number to an
// itemized error naming the object.
func TestProcessBatchCatalogNotFound(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), 2.0)

	resp, err := svc.ProcessBatch(context.Background(), []Identifier{{Catalog: 99999}}, 30)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("errors = %+v, want 1 entry", resp.Errors)
	}
	if !strings.Contains(resp.Errors[0].Message, "99999") {
		t.Errorf("error message %q does not name the catalog number", resp.Errors[0].Message)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0", len(resp.Results))
	}
}

// TestProcessBatchGroupIdentifier expands a group inside a batch: its
// members join the flat result list and the group digest is attached
// under the identifier index.
func TestProcessBatchGroupIdentifier(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("GROUP") == "test-debris" {
			fmt.Fprint(w, groupBodyWithBadLine2())
			return
		}
		http.NotFound(w, r)
	}), 6.0)

	resp, err := svc.ProcessBatch(context.Background(), []Identifier{{Group: "test-debris"}}, 30)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("batch errors = %+v, want none (inner failures stay in the digest)", resp.Errors)
	}
	digest, ok := resp.GroupMetadata[0]
	if !ok {
		t.Fatalf("GroupMetadata missing index 0: %+v", resp.GroupMetadata)
	}
	if digest.Group.TotalPieces != 3 || digest.Group.SuccessfullyProcessed != 2 || digest.Group.ProcessingErrors != 1 {
		t.Errorf("group digest = %+v", digest.Group)
	}
	if meta := resp.Meta; meta.TotalSatellites != 1 || meta.SuccessfulAnalyses != 2 {
		t.Errorf("meta = %+v", meta)
	}
}

// TestProcessBatchRejectsInvalidInput covers the request-level
// validation failures.
func TestProcessBatchRejectsInvalidInput(t *testing.T) {
	svc := newStubService(t, 1.0)
	ctx := context.Background()
	ids := []Identifier{{TLE: issTLE()}}

	if _, err := svc.ProcessBatch(ctx, ids, 0); err == nil {
		t.Error("forecast 0 accepted, want error")
	}
	if _, err := svc.ProcessBatch(ctx, ids, 366); err == nil {
		t.Error("forecast 366 accepted, want error")
	}
	if _, err := svc.ProcessBatch(ctx, nil, 30); err == nil {
		t.Error("empty identifier list accepted, want error")
	}
}

// TestProcessGroupWithBadRecord verifies per-piece isolation inside a
// group: the corrupt record becomes one processing error and the rest
// are assessed.
func TestProcessGroupWithBadRecord(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, groupBodyWithBadLine2())
	}), 6.0)

	resp, err := svc.ProcessGroup(context.Background(), "test-debris", 30)
	if err != nil {
		t.Fatalf("ProcessGroup: %v", err)
	}

	g := resp.Group
	if g.TotalPieces != 3 || g.SuccessfullyProcessed != 2 || g.ProcessingErrors != 1 {
		t.Fatalf("group analysis = %+v", g)
	}
	if len(resp.Results) != 2 || len(resp.Errors) != 1 {
		t.Fatalf("results/errors = %d/%d, want 2/1", len(resp.Results), len(resp.Errors))
	}
	if resp.Errors[0].Message == "" {
		t.Error("processing error message is empty")
	}
	if resp.Meta.ProcessingMethod != "comprehensive_debris_analysis" {
		t.Errorf("ProcessingMethod = %q", resp.Meta.ProcessingMethod)
	}
	sum := resp.Distribution.High + resp.Distribution.Medium + resp.Distribution.Low
	if sum != 2 {
		t.Errorf("distribution sums to %d, want 2", sum)
	}
	for i, r := range resp.Results {
		if r.Debris == nil {
			t.Fatalf("result %d missing debris info", i)
		}
	}
	if g.HighestRiskScore != resp.Results[0].Risk.OverallReentryRisk {
		t.Errorf("HighestRiskScore = %v, first result risk = %v",
			g.HighestRiskScore, resp.Results[0].Risk.OverallReentryRisk)
	}
}

// TestProcessGroupTopTen verifies risk-descending order and the ten
// element cap on the highest-risk slice.
func TestProcessGroupTopTen(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, groupBody(12))
	}), 6.0)

	resp, err := svc.ProcessGroup(context.Background(), "big-debris", 30)
	if err != nil {
		t.Fatalf("ProcessGroup: %v", err)
	}

	if len(resp.Results) != 12 {
		t.Fatalf("got %d results, want 12", len(resp.Results))
	}
	if len(resp.HighestRisk) != 10 {
		t.Fatalf("highest-risk slice has %d entries, want 10", len(resp.HighestRisk))
	}
	for i := 1; i < len(resp.Results); i++ {
		prev := resp.Results[i-1].Risk.OverallReentryRisk
		cur := resp.Results[i].Risk.OverallReentryRisk
		if cur > prev {
			t.Fatalf("results not sorted by risk: [%d]=%v > [%d]=%v", i, cur, i-1, prev)
		}
	}
	// The fastest mean motion sits lowest, so it must lead.
	if alt := resp.HighestRisk[0].Orbit.AltitudeKM; alt > 210 {
		t.Errorf("leading result altitude = %v, want the lowest piece (< 210 km)", alt)
	}
	if resp.Group.AverageRiskScore <= 0 {
		t.Errorf("AverageRiskScore = %v, want > 0", resp.Group.AverageRiskScore)
	}
}

// TestSummarize checks the batch aggregates over hand-built results.
func TestSummarize(t *testing.T) {
	svc := newStubService(t, 1.0)
	results := []ObjectResult{
		mkResult("A", 0.8, 0.9, 10, 250, 0.7, 2),
		mkResult("B", 0.5, 0.5, 200, 500, 0.8, 3),
		mkResult("C", 0.1, 0.3, 36500, 900, 0.65, 4),
	}

	sum := svc.Summarize(results)
	if sum.TotalSatellites != 3 {
		t.Errorf("TotalSatellites = %d, want 3", sum.TotalSatellites)
	}
	if sum.HighRiskSatellites != 2 {
		t.Errorf("HighRiskSatellites = %d, want 2", sum.HighRiskSatellites)
	}
	if sum.ReentriesWithin30Days != 1 {
		t.Errorf("ReentriesWithin30Days = %d, want 1", sum.ReentriesWithin30Days)
	}
	if d := sum.RiskDistribution; d.High != 1 || d.Medium != 1 || d.Low != 1 {
		t.Errorf("RiskDistribution = %+v, want 1/1/1", d)
	}
	if a := sum.AltitudeStatistics; !within(a.Average, 550, 1e-9) || a.Min != 250 || a.Max != 900 {
		t.Errorf("AltitudeStatistics = %+v", a)
	}
	if !within(sum.AverageConfidence, (0.7+0.8+0.65)/3, 1e-9) {
		t.Errorf("AverageConfidence = %v", sum.AverageConfidence)
	}

	if got := svc.Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", got)
	}
}

// groupBody builds n element records at descending mean motion, so
// each piece sits at a different altitude.
func groupBody(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		mm := 16.4 - 0.1*float64(i)
		l2 := fixChecksum(issLine2[:52] + fmt.Sprintf("%11.8f", mm) + issLine2[63:68])
		fmt.Fprintf(&b, "PIECE %02d DEB\n%s\n%s\n", i, issLine1, l2)
	}
	return b.String()
}

// groupBodyWithBadLine2 serves three records where the middle one
// carries a corrupted checksum.
func groupBodyWithBadLine2() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PIECE A\n%s\n%s\n", issLine1, issLine2)
	fmt.Fprintf(&b, "PIECE B\n%s\n%s\n", issLine1, issLine2[:68]+"9")
	l2 := fixChecksum(issLine2[:52] + "16.00000000" + issLine2[63:68])
	fmt.Fprintf(&b, "PIECE C\n%s\n%s\n", issLine1, l2)
	return b.String()
}
