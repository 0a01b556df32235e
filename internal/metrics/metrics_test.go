package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/api/v1/analyze", "/api/v1/analyze"},
		{"/api/v1/analyze/batch", "/api/v1/analyze/batch"},
		{"/api/v1/report/risk", "/api/v1/report/risk"},
		{"/api/v1/satellites/high-risk", "/api/v1/satellites/high-risk"},
		{"/api/v1/decay/predict", "/api/v1/decay/predict"},
		{"/api/v1/model/info", "/api/v1/model/info"},
		{"/api/v1/model/train", "/api/v1/model/train"},
		{"/api/v1/cache/stats", "/api/v1/cache/stats"},
		{"/api/v1/cache/clear", "/api/v1/cache/clear"},
		{"/api/v1/history", "/api/v1/history"},

		// Parameterized routes collapse to one label each.
		{"/api/v1/analyze/group/stations", "/api/v1/analyze/group/{group}"},
		{"/api/v1/analyze/group/cosmos-2251-debris", "/api/v1/analyze/group/{group}"},
		{"/api/v1/tle/25544", "/api/v1/tle/{catnr}"},
		{"/api/v1/tle/99999", "/api/v1/tle/{catnr}"},
		{"/api/v1/stream/group/debris", "/api/v1/stream/group/{group}"},

		// Unknown/bot paths collapse to "other".
		{"/", "other"},
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 unique catalog numbers
// produce exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[normalizeRoute(fmt.Sprintf("/api/v1/tle/%05d", 25000+i))] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

// TestMiddlewareRecords serves one request through the middleware and
// checks that the series shows up on the scrape page.
func TestMiddlewareRecords(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	page := scrape(t)
	want := `debrisk_http_requests_total{code="418",method="GET",path="/healthz"} 1`
	if !strings.Contains(page, want) {
		t.Errorf("scrape page missing %q", want)
	}
}

// TestHelpersExposeSeries exercises each instrumentation helper and
// checks the corresponding series appear.
func TestHelpersExposeSeries(t *testing.T) {
	ObserveParse(true)
	ObserveParse(false)
	ObserveFetch("catalog", 0.1)
	FetchRetried()
	CacheHit()
	CacheMiss()
	ObserveAnalysis("HIGH", 0.01)
	ObserveBatch(3, 0.5)
	ObserveTraining(1.2)
	PredictionMade()
	WorkerStarted()
	ArchiveWrite()
	AlertSent(false)

	page := scrape(t)
	for _, series := range []string{
		`debrisk_tle_parsed_total{result="ok"} 1`,
		`debrisk_tle_parsed_total{result="error"} 1`,
		`debrisk_fetch_total{kind="catalog"} 1`,
		`debrisk_fetch_retries_total 1`,
		`debrisk_cache_hits_total 1`,
		`debrisk_cache_misses_total 1`,
		`debrisk_analyses_total{risk_level="HIGH"} 1`,
		`debrisk_batches_total 1`,
		`debrisk_ensemble_trainings_total 1`,
		`debrisk_predictions_total 1`,
		`debrisk_workers_active 1`,
		`debrisk_archive_writes_total 1`,
		`debrisk_alerts_sent_total{result="error"} 1`,
	} {
		if !strings.Contains(page, series) {
			t.Errorf("scrape page missing %q", series)
		}
	}

	WorkerStopped()
	if !strings.Contains(scrape(t), "debrisk_workers_active 0") {
		t.Error("workers_active gauge did not return to 0")
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}
