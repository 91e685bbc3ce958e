package hydromet

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/filters"
)

// Catalog is an immutable collection of locations. Every filter returns a new
// Catalog and leaves the receiver untouched.
type Catalog struct {
	locations []Location
}

// NewCatalog copies locs into a Catalog.
func NewCatalog(locs []Location) Catalog {
	out := make([]Location, len(locs))
	copy(out, locs)
	return Catalog{locations: out}
}

// Len returns the number of locations.
func (c Catalog) Len() int { return len(c.locations) }

// Locations returns a copy of the locations in order.
func (c Catalog) Locations() []Location {
	out := make([]Location, len(c.locations))
	copy(out, c.locations)
	return out
}

// IDs returns the location ids in order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c.locations))
	for i, loc := range c.locations {
		ids[i] = loc.ID
	}
	return ids
}

// DropIndices returns a Catalog without the locations at the given indices.
// The full drop-set is collected first and removed in descending order on a
// copy, so earlier removals never shift later ones.
func (c Catalog) DropIndices(indices []int) Catalog {
	if len(indices) == 0 {
		return NewCatalog(c.locations)
	}

	unique := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(c.locations) {
			unique[i] = struct{}{}
		}
	}
	ordered := make([]int, 0, len(unique))
	for i := range unique {
		ordered = append(ordered, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))

	out := make([]Location, len(c.locations))
	copy(out, c.locations)
	for _, i := range ordered {
		out = append(out[:i], out[i+1:]...)
	}
	return Catalog{locations: out}
}

func (c Catalog) dropWhere(drop func(Location) bool) Catalog {
	var indices []int
	for i, loc := range c.locations {
		if drop(loc) {
			indices = append(indices, i)
		}
	}
	return c.DropIndices(indices)
}

// FilterByID keeps only the location with the given id.
func (c Catalog) FilterByID(id string) Catalog {
	return c.dropWhere(func(loc Location) bool { return loc.ID != id })
}

// FilterByBBoxOrWKT drops locations outside geom or failing the z filter.
// Either may be nil.
func (c Catalog) FilterByBBoxOrWKT(geom orb.Geometry, z *filters.ZFilter) Catalog {
	if geom == nil && z == nil {
		return NewCatalog(c.locations)
	}
	return c.dropWhere(func(loc Location) bool {
		return !filters.Contains(geom, loc.Geometry) || !z.Matches(loc.Elevation)
	})
}

// FilterByDate applies the date predicate. A single instant is matched as a
// prefix of the last update timestamp; a range is compared against the
// service dates.
func (c Catalog) FilterByDate(dates *filters.DateRange) Catalog {
	if dates == nil {
		return NewCatalog(c.locations)
	}
	return c.dropWhere(func(loc Location) bool {
		if dates.Single {
			return !dates.MatchesLastUpdate(loc.LastUpdate)
		}
		return !dates.MatchesService(loc.Begin, loc.End, loc.EndSentinel)
	})
}

// FilterByLimitOffset skips offset locations and keeps at most limit of the
// rest. A non-positive limit keeps everything after the offset.
func (c Catalog) FilterByLimitOffset(offset, limit int) Catalog {
	var indices []int
	for i := range c.locations {
		if i < offset || (limit > 0 && i >= offset+limit) {
			indices = append(indices, i)
		}
	}
	return c.DropIndices(indices)
}

// FilterByProperties keeps locations whose properties equal every given value
// when formatted as text.
func (c Catalog) FilterByProperties(props map[string]string) Catalog {
	if len(props) == 0 {
		return NewCatalog(c.locations)
	}
	return c.dropWhere(func(loc Location) bool {
		for k, want := range props {
			got, ok := loc.Properties[k]
			if !ok || fmt.Sprint(got) != want {
				return true
			}
		}
		return false
	})
}

// DropWithoutCatalogItems removes locations that have no parameter streams.
func (c Catalog) DropWithoutCatalogItems() Catalog {
	return c.dropWhere(func(loc Location) bool { return len(loc.CatalogItems) == 0 })
}

// ParameterResolver returns the parameter ids a location measures.
type ParameterResolver interface {
	ResolveParameterIDs(ctx context.Context, loc Location) ([]string, error)
}

// FilterBySelectedProperties keeps locations whose parameter ids include every
// requested id. Locations are resolved concurrently; any resolution failure
// fails the filter.
func (c Catalog) FilterBySelectedProperties(ctx context.Context, resolver ParameterResolver, ids []string) (Catalog, error) {
	if len(ids) == 0 {
		return NewCatalog(c.locations), nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		drop     []int
		firstErr error
	)

	for i, loc := range c.locations {
		i, loc := i, loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			have, err := resolver.ResolveParameterIDs(ctx, loc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("ERROR: catalog: resolve parameters for location %s: %v", loc.ID, err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if !containsAll(have, ids) {
				drop = append(drop, i)
			}
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return Catalog{}, firstErr
	}
	return c.DropIndices(drop), nil
}

// ExtractCatalogItemURLs maps each location id to its catalog item URLs.
func (c Catalog) ExtractCatalogItemURLs() map[string][]string {
	out := make(map[string][]string, len(c.locations))
	for _, loc := range c.locations {
		urls := make([]string, 0, len(loc.CatalogItems))
		for _, ref := range loc.CatalogItems {
			urls = append(urls, ref.URL)
		}
		out[loc.ID] = urls
	}
	return out
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
