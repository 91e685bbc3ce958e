package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultPageSize is the largest itemsPerPage RISE accepts.
const DefaultPageSize = 100

var (
	// ErrIncompletePages means the merged pages disagree with the declared totalItems.
	ErrIncompletePages = errors.New("merged pages do not match declared total")
)

type pageEnvelope struct {
	Meta *struct {
		TotalItems   *int `json:"totalItems"`
		ItemsPerPage int  `json:"itemsPerPage"`
		CurrentPage  int  `json:"currentPage"`
	} `json:"meta"`
	Data     json.RawMessage   `json:"data"`
	Included []json.RawMessage `json:"included"`
}

// Merged is the logical collection assembled from one or more pages.
type Merged struct {
	Data     []json.RawMessage
	Included []json.RawMessage
}

// PageURL returns base with page and itemsPerPage query values set,
// preserving any existing query.
func PageURL(base string, page, pageSize int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse page url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("itemsPerPage", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetOrFetchAllPages fetches every page of a paginated resource and returns the
// raw pages in page order. A first response without a pagination envelope is
// the whole resource.
func (c *Cache) GetOrFetchAllPages(ctx context.Context, base string, pageSize int, force bool) ([]json.RawMessage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	first, err := c.GetOrFetch(ctx, base, force)
	if err != nil {
		return nil, err
	}

	total, paginated := totalItems(first)
	if !paginated {
		return []json.RawMessage{first}, nil
	}

	pages := (total + pageSize - 1) / pageSize
	urls := make([]string, 0, pages)
	for p := 1; p <= pages; p++ {
		u, err := PageURL(base, p, pageSize)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}

	fetched, err := c.GetOrFetchGroup(ctx, urls, force)
	if err != nil {
		return nil, fmt.Errorf("fetch pages of %s: %w", base, err)
	}

	out := make([]json.RawMessage, 0, len(urls))
	for _, u := range urls {
		page, ok := fetched[u]
		if !ok {
			return nil, fmt.Errorf("%w: page %s missing from batch", ErrIncompletePages, u)
		}
		out = append(out, page)
	}

	merged, err := MergePages(out)
	if err != nil {
		return nil, err
	}
	if len(merged.Data) != total {
		return nil, fmt.Errorf("%w: %s declared %d items but pages held %d",
			ErrIncompletePages, base, total, len(merged.Data))
	}

	return out, nil
}

// MergePages concatenates the data and included arrays of pages in order.
// A page may be an envelope whose data is an object or an array, or a bare array.
func MergePages(pages []json.RawMessage) (Merged, error) {
	var merged Merged
	for i, page := range pages {
		trimmed := bytes.TrimSpace(page)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return Merged{}, fmt.Errorf("decode page %d: %w", i, err)
			}
			merged.Data = append(merged.Data, items...)
			continue
		}

		var env pageEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Merged{}, fmt.Errorf("decode page %d: %w", i, err)
		}
		items, err := oneOrMany(env.Data)
		if err != nil {
			return Merged{}, fmt.Errorf("decode page %d data: %w", i, err)
		}
		merged.Data = append(merged.Data, items...)
		merged.Included = append(merged.Included, env.Included...)
	}
	return merged, nil
}

func totalItems(page json.RawMessage) (int, bool) {
	trimmed := bytes.TrimSpace(page)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return 0, false
	}
	var env pageEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return 0, false
	}
	if env.Meta == nil || env.Meta.TotalItems == nil {
		return 0, false
	}
	return *env.Meta.TotalItems, true
}

func oneOrMany(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	case trimmed[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return []json.RawMessage{trimmed}, nil
	}
}
