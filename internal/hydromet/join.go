package hydromet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/i474232898/hydromet-edr/internal/filters"
)

// GroupFetcher resolves a batch of URLs at once. Partial results come back
// alongside a non-nil error.
type GroupFetcher interface {
	GetOrFetchGroup(ctx context.Context, urls []string, force bool) (map[string]json.RawMessage, error)
}

// Joiner attaches time-series results to the locations of a catalog.
type Joiner struct {
	source  Source
	fetcher GroupFetcher
}

// NewJoiner creates a Joiner.
func NewJoiner(source Source, fetcher GroupFetcher) *Joiner {
	return &Joiner{source: source, fetcher: fetcher}
}

// Join produces one JoinedRecord per location that has at least one non-empty
// stream. Results for every catalog item are fetched in a single batch. When
// parameterIDs is non-empty, streams for other parameters are dropped.
func (j *Joiner) Join(ctx context.Context, catalog Catalog, dates *filters.DateRange, parameterIDs []string) ([]JoinedRecord, error) {
	locations := catalog.Locations()

	resultURLs := make([]string, 0)
	owner := make(map[string]string)
	for _, loc := range locations {
		for _, ref := range loc.CatalogItems {
			u := j.source.ResultURL(ref, dates)
			if prev, dup := owner[u]; dup {
				return nil, fmt.Errorf("%w: result url %s requested by both location %s and %s",
					ErrConsistency, u, prev, loc.ID)
			}
			owner[u] = loc.ID
			resultURLs = append(resultURLs, u)
		}
	}

	log.Printf("DEBUG: join: fetching %d result urls for %d locations", len(resultURLs), len(locations))

	results, err := j.fetcher.GetOrFetchGroup(ctx, resultURLs, false)
	if err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}

	selected := make(map[string]struct{}, len(parameterIDs))
	for _, id := range parameterIDs {
		selected[id] = struct{}{}
	}

	records := make([]JoinedRecord, 0, len(locations))
	for _, loc := range locations {
		var streams []ParameterStream
		for _, ref := range loc.CatalogItems {
			u := j.source.ResultURL(ref, dates)
			body, ok := results[u]
			if !ok {
				return nil, fmt.Errorf("%w: result url %s missing from fetched batch", ErrConsistency, u)
			}

			paramID, rows, err := j.source.DecodeResult(ref, body)
			if err != nil {
				return nil, fmt.Errorf("%w: result %s: %v", ErrDecode, u, err)
			}
			if paramID == "" {
				paramID = ref.ParameterID
			}
			if len(selected) > 0 {
				if _, keep := selected[paramID]; !keep {
					continue
				}
			}

			samples := usableSamples(rows)
			if len(samples) == 0 {
				continue
			}
			streams = append(streams, ParameterStream{
				ParameterID: paramID,
				CatalogItem: ref.URL,
				Samples:     samples,
			})
		}

		if len(streams) == 0 {
			continue
		}
		records = append(records, JoinedRecord{
			LocationID: loc.ID,
			Geometry:   loc.Geometry,
			Streams:    streams,
		})
	}

	return records, nil
}

// usableSamples drops rows missing either the timestamp or the value.
func usableSamples(rows []RawSample) []Sample {
	out := make([]Sample, 0, len(rows))
	for _, r := range rows {
		if r.Time == "" || r.Value == nil {
			continue
		}
		out = append(out, Sample{Time: r.Time, Value: *r.Value})
	}
	return out
}
