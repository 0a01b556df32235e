package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// batchConcurrency caps how many catalog fetches run at once in Many.
const batchConcurrency = 5

// Client ties together fetching, parsing, and caching of element sets.
// All lookups are cache-through: a fresh cache entry short-circuits the
// network entirely.
type Client struct {
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger

	now func() time.Time
}

// NewClient creates a Client over the given fetcher and cache.
func NewClient(fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// Cache exposes the underlying cache for the diagnostics endpoints.
func (c *Client) Cache() *Cache { return c.cache }

// Catalog returns the parsed element set for a single catalog number.
// CelesTrak answers unknown numbers with an empty body, which is
// reported as ErrNotFound.
func (c *Client) Catalog(ctx context.Context, catnr int) (OrbitalElements, error) {
	key := strconv.Itoa(catnr)
	if records, ok := c.cache.Get(ctx, key); ok && len(records) > 0 {
		return records[0], nil
	}

	raw, err := c.fetcher.FetchCatalog(ctx, catnr)
	if err != nil {
		return OrbitalElements{}, err
	}
	records, failed, err := ParseSet(bytes.NewReader(raw), c.now(), c.logger)
	if err != nil {
		return OrbitalElements{}, err
	}
	if len(records) == 0 {
		if len(failed) > 0 {
			return OrbitalElements{}, fmt.Errorf("catalog %d: %w", catnr, failed[0].Err)
		}
		return OrbitalElements{}, fmt.Errorf("catalog %d: %w", catnr, ErrNotFound)
	}

	c.cache.Put(ctx, key, records)
	return records[0], nil
}

// Group returns every parseable element set in a catalog group along
// with the records that failed to parse. Cache hits lose the failure
// list, since only successfully parsed records are cached.
func (c *Client) Group(ctx context.Context, group string) ([]OrbitalElements, []RecordError, error) {
	if records, ok := c.cache.Get(ctx, group); ok {
		return records, nil, nil
	}

	raw, err := c.fetcher.FetchGroup(ctx, group)
	if err != nil {
		return nil, nil, err
	}
	records, failed, err := ParseSet(bytes.NewReader(raw), c.now(), c.logger)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 && len(failed) == 0 {
		return nil, nil, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}

	c.cache.Put(ctx, group, records)
	return records, failed, nil
}

// Many fetches several catalog numbers concurrently, preserving input
// order in the result slice. Failures are returned per catalog number
// instead of aborting the batch.
func (c *Client) Many(ctx context.Context, catnrs []int) ([]OrbitalElements, map[int]error) {
	type slot struct {
		rec OrbitalElements
		err error
	}
	slots := make([]slot, len(catnrs))

	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup
	for i, catnr := range catnrs {
		wg.Add(1)
		go func(i, catnr int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := c.Catalog(ctx, catnr)
			slots[i] = slot{rec: rec, err: err}
		}(i, catnr)
	}
	wg.Wait()

	var records []OrbitalElements
	errs := make(map[int]error)
	for i, s := range slots {
		if s.err != nil {
			errs[catnrs[i]] = s.err
			continue
		}
		records = append(records, s.rec)
	}
	return records, errs
}
