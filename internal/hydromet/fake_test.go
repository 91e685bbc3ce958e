package hydromet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/upstream"
)

// testSource is a minimal Source over a flat JSON format.
type testSource struct {
	relevant func(Location) bool
}

type testLocation struct {
	ID        string   `json:"id"`
	Lon       *float64 `json:"lon"`
	Lat       *float64 `json:"lat"`
	Elevation *float64 `json:"elevation"`
	Updated   string   `json:"updated"`
	Items     []string `json:"items"`
	Network   string   `json:"network"`
}

type testRow struct {
	T string   `json:"t"`
	V *float64 `json:"v"`
}

func (s *testSource) Name() string  { return "test" }
func (s *testSource) Title() string { return "Test" }

func (s *testSource) LocationsURL(ids []string) string {
	if len(ids) == 0 {
		return "http://up/locations"
	}
	return "http://up/locations?param=" + strings.Join(ids, ",")
}

func (s *testSource) LocationURL(id string) string { return "http://up/locations/" + id }
func (s *testSource) ParametersURL() string        { return "http://up/parameters" }

func (s *testSource) DecodeLocations(pages []json.RawMessage) ([]Location, error) {
	var out []Location
	for _, p := range pages {
		var locs []testLocation
		if err := json.Unmarshal(p, &locs); err != nil {
			return nil, err
		}
		for _, tl := range locs {
			loc := Location{
				ID:         tl.ID,
				Elevation:  tl.Elevation,
				LastUpdate: tl.Updated,
				Properties: map[string]any{"network": tl.Network},
			}
			if tl.Lon != nil && tl.Lat != nil {
				loc.Geometry = orb.Point{*tl.Lon, *tl.Lat}
			}
			for _, item := range tl.Items {
				loc.CatalogItems = append(loc.CatalogItems, CatalogItemRef{URL: item})
			}
			out = append(out, loc)
		}
	}
	return out, nil
}

func (s *testSource) DecodeParameters(pages []json.RawMessage) ([]ParameterMeta, error) {
	var out []ParameterMeta
	for _, p := range pages {
		var metas []ParameterMeta
		if err := json.Unmarshal(p, &metas); err != nil {
			return nil, err
		}
		out = append(out, metas...)
	}
	return out, nil
}

func (s *testSource) DecodeCatalogItem(body json.RawMessage) (string, error) {
	var item struct {
		Param string `json:"param"`
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return "", err
	}
	return item.Param, nil
}

func (s *testSource) ResultURL(ref CatalogItemRef, dates *filters.DateRange) string {
	u := ref.URL + "/result"
	if after, before := dates.ResultBounds(); after != "" || before != "" {
		u += "?after=" + after + "&before=" + before
	}
	return u
}

func (s *testSource) DecodeResult(_ CatalogItemRef, body json.RawMessage) (string, []RawSample, error) {
	var res struct {
		Param string    `json:"param"`
		Rows  []testRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", nil, err
	}
	rows := make([]RawSample, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = RawSample{Time: r.T, Value: r.V}
	}
	return res.Param, rows, nil
}

func (s *testSource) Relevant(loc Location) bool {
	if s.relevant == nil {
		return true
	}
	return s.relevant(loc)
}

// mapFetcher serves canned bodies by URL.
type mapFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	// drop lists URLs silently left out of group results.
	drop    map[string]bool
	fetched []string
	resets  int
}

func newMapFetcher(bodies map[string]string) *mapFetcher {
	return &mapFetcher{bodies: bodies, errs: map[string]error{}, drop: map[string]bool{}}
}

func (f *mapFetcher) GetOrFetch(_ context.Context, url string, _ bool) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", url, upstream.ErrNotFound)
	}
	return json.RawMessage(body), nil
}

func (f *mapFetcher) GetOrFetchGroup(ctx context.Context, urls []string, force bool) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	var failed []string
	for _, u := range urls {
		if f.drop[u] {
			continue
		}
		body, err := f.GetOrFetch(ctx, u, force)
		if err != nil {
			failed = append(failed, u)
			continue
		}
		out[u] = body
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return out, fmt.Errorf("failed: %s", strings.Join(failed, ","))
	}
	return out, nil
}

func (f *mapFetcher) GetOrFetchAllPages(ctx context.Context, base string, _ int, force bool) ([]json.RawMessage, error) {
	body, err := f.GetOrFetch(ctx, base, force)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{body}, nil
}

func (f *mapFetcher) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *mapFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == url {
			n++
		}
	}
	return n
}
