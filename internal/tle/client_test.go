package tle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	f := noBackoff(NewFetcher(serverURL, 0, 1, testLogger))
	c := NewClient(f, NewCache(time.Hour, nil, testLogger), testLogger)
	c.now = func() time.Time { return testNow }
	return c
}

// TestClientCatalogCachesParsedRecords verifies the cache-through path:
// the second lookup must not touch the network.
func TestClientCatalogCachesParsedRecords(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte("ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	rec, err := client.Catalog(ctx, 25544)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.CatalogNumber != 25544 || rec.Name != "ISS (ZARYA)" {
		t.Errorf("record = %q/%d", rec.Name, rec.CatalogNumber)
	}

	again, err := client.Catalog(ctx, 25544)
	if err != nil {
		t.Fatalf("unexpected error on cached lookup: %v", err)
	}
	if again.CatalogNumber != rec.CatalogNumber {
		t.Errorf("cached record differs: %d", again.CatalogNumber)
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}

	stats := client.Cache().Stats()
	if stats.TotalEntries != 1 || stats.ActiveEntries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// TestClientCatalogNoData maps CelesTrak's empty placeholder response
// to ErrNotFound.
func TestClientCatalogNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("No GP data found\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Catalog(context.Background(), 99999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestClientGroupPartialFailures returns parseable records alongside
// per-record failures, and serves repeat lookups from cache.
func TestClientGroupPartialFailures(t *testing.T) {
	corrupt := issLine2[:68] + "0"
	body := strings.Join([]string{
		"ISS (ZARYA)", issLine1, issLine2,
		"BROKEN SAT", issLine1, corrupt,
	}, "\n") + "\n"

	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	records, failed, err := client.Group(ctx, "stations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].CatalogNumber != 25544 {
		t.Fatalf("records = %+v", records)
	}
	if len(failed) != 1 || failed[0].Name != "BROKEN SAT" {
		t.Fatalf("failed = %+v", failed)
	}

	records, failed, err = client.Group(ctx, "stations")
	if err != nil {
		t.Fatalf("unexpected error on cached lookup: %v", err)
	}
	if len(records) != 1 || len(failed) != 0 {
		t.Errorf("cached lookup: %d records, %d failures", len(records), len(failed))
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}
}

// TestClientMany fetches a mixed batch and isolates the failing
// catalog number.
func TestClientMany(t *testing.T) {
	second1 := fixChecksum(strings.Replace(issLine1, "25544", "25545", 1))
	second2 := fixChecksum(strings.Replace(issLine2, "25544", "25545", 1))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("CATNR") {
		case "25544":
			w.Write([]byte(issLine1 + "\n" + issLine2 + "\n"))
		case "25545":
			w.Write([]byte(second1 + "\n" + second2 + "\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	records, errs := client.Many(context.Background(), []int{25544, 99999, 25545})

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].CatalogNumber != 25544 || records[1].CatalogNumber != 25545 {
		t.Errorf("order not preserved: %d, %d", records[0].CatalogNumber, records[1].CatalogNumber)
	}
	if len(errs) != 1 || !errors.Is(errs[99999], ErrNotFound) {
		t.Errorf("errs = %v", errs)
	}
}

// TestCacheExpiry verifies TTL handling without real sleeps by moving
// the cache clock.
func TestCacheExpiry(t *testing.T) {
	cache := NewCache(time.Hour, nil, testLogger)
	base := time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	ctx := context.Background()
	cache.Put(ctx, "25544", []OrbitalElements{{CatalogNumber: 25544}})

	if _, ok := cache.Get(ctx, "25544"); !ok {
		t.Fatal("expected cache hit")
	}

	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok := cache.Get(ctx, "25544"); ok {
		t.Fatal("expected expired entry to miss")
	}

	stats := cache.Stats()
	if stats.TotalEntries != 1 || stats.ActiveEntries != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TTLHours != 1 {
		t.Errorf("TTLHours = %v, want 1", stats.TTLHours)
	}
	if stats.RedisEnabled {
		t.Error("RedisEnabled = true for nil client")
	}
}

// TestCacheClear drops every entry and reports the count.
func TestCacheClear(t *testing.T) {
	cache := NewCache(time.Hour, nil, testLogger)
	ctx := context.Background()

	cache.Put(ctx, "a", []OrbitalElements{{CatalogNumber: 1}})
	cache.Put(ctx, "b", []OrbitalElements{{CatalogNumber: 2}})

	if n := cache.Clear(ctx); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if stats := cache.Stats(); stats.TotalEntries != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
	if _, ok := cache.Get(ctx, "a"); ok {
		t.Error("entry survived clear")
	}
}
