package tle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/debrisk/debrisk/internal/metrics"
)

const (
	defaultBaseURL   = "https://celestrak.org/NORAD/elements/"
	maxResponseBytes = 50 * 1024 * 1024
)

// txtGroups are legacy catalog names served as flat files rather than
// through the GP API.
var txtGroups = map[string]bool{
	"active":  true,
	"analyst": true,
	"debris":  true,
}

// Fetcher retrieves raw TLE data from CelesTrak, retrying transient
// failures with exponential backoff.
type Fetcher struct {
	baseURL string
	client  *http.Client
	retries int
	logger  *slog.Logger

	// backoff is replaced in tests to avoid real sleeps.
	backoff func(attempt int) time.Duration
}

// NewFetcher creates a Fetcher against baseURL (the production
// CelesTrak endpoint when empty). timeout bounds each individual
// attempt and retries caps the number of attempts per fetch.
func NewFetcher(baseURL string, timeout time.Duration, retries int, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	return &Fetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		logger:  logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// CatalogURL returns the GP API URL for a single catalog number.
func (f *Fetcher) CatalogURL(catnr int) string {
	return fmt.Sprintf("%sgp.php?CATNR=%d&FORMAT=tle", f.baseURL, catnr)
}

// GroupURL returns the URL for a named catalog group. The legacy groups
// are flat .txt files; everything else goes through the GP API.
func (f *Fetcher) GroupURL(group string) string {
	if txtGroups[group] {
		return f.baseURL + group + ".txt"
	}
	return fmt.Sprintf("%sgp.php?GROUP=%s&FORMAT=tle", f.baseURL, url.QueryEscape(group))
}

// FetchCatalog retrieves the raw element set for one catalog number.
func (f *Fetcher) FetchCatalog(ctx context.Context, catnr int) ([]byte, error) {
	return f.fetch(ctx, "catalog", f.CatalogURL(catnr))
}

// FetchGroup retrieves the raw element sets for a catalog group.
func (f *Fetcher) FetchGroup(ctx context.Context, group string) ([]byte, error) {
	return f.fetch(ctx, "group", f.GroupURL(group))
}

func (f *Fetcher) fetch(ctx context.Context, kind, fetchURL string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveFetch(kind, time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetried()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff(attempt - 1)):
			}
		}
		data, retryable, err := f.fetchOnce(ctx, fetchURL)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		f.logger.Warn("TLE fetch failed", "url", fetchURL, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("fetching %s: %w", fetchURL, lastErr)
}

// fetchOnce performs a single attempt. A 404 means the object does not
// exist upstream and is not worth retrying.
func (f *Fetcher) fetchOnce(ctx context.Context, fetchURL string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, true, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, false, fmt.Errorf("response exceeded %d byte limit", maxResponseBytes)
	}
	return body, false, nil
}
