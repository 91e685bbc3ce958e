package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/hydromet-edr/internal/store"
)

// DefaultTTL is how long fetched upstream documents stay cached.
const DefaultTTL = 24 * time.Hour

// Fetcher retrieves a JSON document by URL.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string) (json.RawMessage, error)
}

// Cache maps upstream URLs to previously fetched JSON payloads.
// Concurrent fetches of the same uncached URL are not coalesced; each caller
// receives a complete value because stores write atomically per key.
type Cache struct {
	store   store.Store
	fetcher Fetcher
	ttl     time.Duration

	mu     sync.Mutex
	hits   int
	misses int
}

// New creates a Cache. A non-positive ttl falls back to DefaultTTL.
func New(st store.Store, fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: st, fetcher: fetcher, ttl: ttl}
}

// GroupError collects the URLs that failed within a group fetch.
type GroupError struct {
	Failed map[string]error
}

func (e *GroupError) Error() string {
	urls := make([]string, 0, len(e.Failed))
	for u := range e.Failed {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	fmt.Fprintf(&b, "%d of the requested urls failed:", len(urls))
	for _, u := range urls {
		fmt.Fprintf(&b, " %s (%v);", u, e.Failed[u])
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *GroupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// Get returns the cached payload or store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, url string) (json.RawMessage, error) {
	data, err := c.store.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Set stores a payload with the default TTL.
func (c *Cache) Set(ctx context.Context, url string, data json.RawMessage) error {
	return c.store.Set(ctx, url, data, c.ttl)
}

// SetWithTTL stores a payload; the effective TTL never exceeds the default.
func (c *Cache) SetWithTTL(ctx context.Context, url string, data json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	return c.store.Set(ctx, url, data, ttl)
}

// Clear deletes a single URL from the cache.
func (c *Cache) Clear(ctx context.Context, url string) error {
	return c.store.Delete(ctx, url)
}

// Contains reports whether url has a live cache entry.
func (c *Cache) Contains(ctx context.Context, url string) (bool, error) {
	return c.store.Contains(ctx, url)
}

// Reset drops every cached entry.
func (c *Cache) Reset(ctx context.Context) error {
	return c.store.Reset(ctx)
}

// Stats returns cache hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// GetOrFetch returns the cached payload for url, fetching and storing it on a
// miss or when force is set.
func (c *Cache) GetOrFetch(ctx context.Context, url string, force bool) (json.RawMessage, error) {
	if !force {
		data, err := c.store.Get(ctx, url)
		if err == nil {
			c.count(true)
			log.Printf("DEBUG: cache: got %s from cache", url)
			return json.RawMessage(data), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ERROR: cache: read %s failed, refetching: %v", url, err)
		}
	}

	c.count(false)
	data, err := c.fetcher.FetchJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, url, data); err != nil {
		// The fetched value is still valid for this caller.
		log.Printf("ERROR: cache: store %s failed: %v", url, err)
	}
	return data, nil
}

// GetOrFetchGroup resolves many URLs at once. Misses are fetched concurrently.
// The returned map holds every URL that succeeded; if any URL failed, a
// *GroupError listing them is returned alongside the partial map. Duplicate
// URLs are resolved once and share the same payload.
func (c *Cache) GetOrFetchGroup(ctx context.Context, urls []string, force bool) (map[string]json.RawMessage, error) {
	unique := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]json.RawMessage, len(unique))
		failed  = make(map[string]error)
	)

	for _, u := range unique {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()

			data, err := c.GetOrFetch(ctx, u, force)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Log and continue; siblings in the batch still complete.
				log.Printf("ERROR: cache: fetch failed for %s: %v", u, err)
				failed[u] = err
				return
			}
			results[u] = data
		}()
	}

	wg.Wait()

	if len(failed) > 0 {
		return results, &GroupError{Failed: failed}
	}
	return results, nil
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}
