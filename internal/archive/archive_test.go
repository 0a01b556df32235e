package archive

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/debrisk/debrisk/internal/batch"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "history.db"), testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// TestRecordAndRecent round-trips three summaries and checks ordering,
// threat grading, and payload fidelity.
func TestRecordAndRecent(t *testing.T) {
	a := newTestArchive(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writes := []struct {
		source string
		sum    batch.Summary
	}{
		{"batch", batch.Summary{TotalSatellites: 5}},
		{"stations", batch.Summary{TotalSatellites: 12, HighRiskSatellites: 11}},
		{"cosmos-2251-debris", batch.Summary{
			TotalSatellites:       8,
			HighRiskSatellites:    4,
			ReentriesWithin30Days: 4,
		}},
	}
	for i, w := range writes {
		at := base.Add(time.Duration(i) * time.Second)
		a.now = func() time.Time { return at }
		if err := a.Record(w.source, w.sum); err != nil {
			t.Fatalf("Record(%q): %v", w.source, err)
		}
	}

	entries, err := a.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(entries))
	}
	newest := entries[0]
	if newest.Source != "cosmos-2251-debris" {
		t.Errorf("newest source = %q, want cosmos-2251-debris", newest.Source)
	}
	if newest.ThreatLevel != "CRITICAL" {
		t.Errorf("newest threat level = %q, want CRITICAL", newest.ThreatLevel)
	}
	if newest.Summary.ReentriesWithin30Days != 4 {
		t.Errorf("round-tripped summary = %+v", newest.Summary)
	}
	if !newest.RecordedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("RecordedAt = %v", newest.RecordedAt)
	}
	if entries[1].Source != "stations" || entries[1].ThreatLevel != "HIGH" {
		t.Errorf("second entry = %q/%q", entries[1].Source, entries[1].ThreatLevel)
	}
	if newest.ID == "" || newest.ID == entries[1].ID {
		t.Errorf("row ids not distinct: %q vs %q", newest.ID, entries[1].ID)
	}

	all, err := a.Recent(0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(0) returned %d entries, want all 3", len(all))
	}
	if all[2].ThreatLevel != "NORMAL" {
		t.Errorf("oldest threat level = %q, want NORMAL", all[2].ThreatLevel)
	}

	capped, err := a.Recent(maxRecentLimit + 5)
	if err != nil {
		t.Fatalf("Recent(oversized): %v", err)
	}
	if len(capped) != 3 {
		t.Errorf("oversized limit returned %d entries", len(capped))
	}
}

// TestRecentEmpty returns an empty slice, not nil, for a fresh archive.
func TestRecentEmpty(t *testing.T) {
	a := newTestArchive(t)
	entries, err := a.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("Recent on empty archive = %v", entries)
	}
}

// TestReopenPersists closes and reopens the same database file.
func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	a, err := New(path, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Record("debris", batch.Summary{TotalSatellites: 2}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path, testLogger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Recent(10)
	if err != nil {
		t.Fatalf("Recent after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Source != "debris" {
		t.Errorf("persisted entries = %+v", entries)
	}
}
