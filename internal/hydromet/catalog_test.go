package hydromet

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/filters"
)

func numbered(n int) Catalog {
	locs := make([]Location, n)
	for i := range locs {
		locs[i] = Location{ID: strconv.Itoa(i), Geometry: orb.Point{float64(i), float64(i)}}
	}
	return NewCatalog(locs)
}

func TestDropIndicesDescendingOrder(t *testing.T) {
	c := numbered(10)
	drop := map[int]bool{2: true, 5: true, 9: true}

	got := c.DropIndices([]int{2, 5, 9})

	var want []string
	for i, id := range c.IDs() {
		if !drop[i] {
			want = append(want, id)
		}
	}
	if !reflect.DeepEqual(got.IDs(), want) {
		t.Fatalf("got %v, want %v", got.IDs(), want)
	}
	if got.Len() != 7 {
		t.Fatalf("expected 7 locations, got %d", got.Len())
	}
	if c.Len() != 10 {
		t.Fatalf("receiver must not be modified, has %d locations", c.Len())
	}

	// Unordered, duplicate and out of range indices are tolerated.
	again := c.DropIndices([]int{9, 2, 5, 2, 42, -1})
	if !reflect.DeepEqual(again.IDs(), want) {
		t.Fatalf("got %v, want %v", again.IDs(), want)
	}
}

func TestFilterByBBoxIsIdempotent(t *testing.T) {
	c := numbered(10)
	bbox, _, err := filters.ParseBBox([]string{"1.5", "1.5", "6.5", "6.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	once := c.FilterByBBoxOrWKT(bbox, nil)
	twice := once.FilterByBBoxOrWKT(bbox, nil)
	if want := []string{"2", "3", "4", "5", "6"}; !reflect.DeepEqual(once.IDs(), want) {
		t.Fatalf("got %v, want %v", once.IDs(), want)
	}
	if !reflect.DeepEqual(once.IDs(), twice.IDs()) {
		t.Fatalf("filtering twice changed the result: %v vs %v", once.IDs(), twice.IDs())
	}
}

func TestFilterByBBoxAndZ(t *testing.T) {
	elev := func(f float64) *float64 { return &f }
	c := NewCatalog([]Location{
		{ID: "low", Geometry: orb.Point{-5, 51}, Elevation: elev(100)},
		{ID: "high", Geometry: orb.Point{-5, 51}, Elevation: elev(900)},
		{ID: "unknown", Geometry: orb.Point{-5, 51}},
		{ID: "nowhere", Elevation: elev(100)},
	})
	bbox, zs, _ := filters.ParseBBox([]string{"-6", "50", "0", "-4.35", "52", "500"})
	z, err := filters.ParseZ(zs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.FilterByBBoxOrWKT(bbox, z)
	if want := []string{"low"}; !reflect.DeepEqual(got.IDs(), want) {
		t.Fatalf("got %v, want %v", got.IDs(), want)
	}
	if all := c.FilterByBBoxOrWKT(nil, nil); all.Len() != 4 {
		t.Fatalf("no filter must keep every location, kept %d", all.Len())
	}
}

func TestFilterByDateSentinelEndDate(t *testing.T) {
	day := func(y int) *time.Time {
		t := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}
	c := NewCatalog([]Location{
		{ID: "active", Begin: day(1980), End: day(2100), EndSentinel: true},
		{ID: "retired", Begin: day(1980), End: day(2060)},
		{ID: "inside", Begin: day(1990), End: day(2000)},
		{ID: "undated"},
	})
	dates, _ := filters.ParseDate("1970-01-01/2050-01-01")
	got := c.FilterByDate(dates)
	if want := []string{"active", "inside"}; !reflect.DeepEqual(got.IDs(), want) {
		t.Fatalf("got %v, want %v", got.IDs(), want)
	}
}

func TestFilterByDateSingleInstantPrefix(t *testing.T) {
	c := NewCatalog([]Location{
		{ID: "a", LastUpdate: "2017-01-01 00:00:00+00:00"},
		{ID: "b", LastUpdate: "2017-01-02 00:00:00+00:00"},
		{ID: "c"},
	})
	dates, _ := filters.ParseDate("2017-01-01")
	if got := c.FilterByDate(dates).IDs(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("got %v", got)
	}
}

func TestFilterByIDLimitOffsetAndProperties(t *testing.T) {
	c := numbered(10)
	if got := c.FilterByID("4").IDs(); !reflect.DeepEqual(got, []string{"4"}) {
		t.Fatalf("got %v", got)
	}
	if got := c.FilterByID("missing"); got.Len() != 0 {
		t.Fatalf("expected empty catalog, got %v", got.IDs())
	}
	if got := c.FilterByLimitOffset(3, 2).IDs(); !reflect.DeepEqual(got, []string{"3", "4"}) {
		t.Fatalf("got %v", got)
	}
	if got := c.FilterByLimitOffset(8, 0).IDs(); !reflect.DeepEqual(got, []string{"8", "9"}) {
		t.Fatalf("got %v", got)
	}

	withProps := NewCatalog([]Location{
		{ID: "a", Properties: map[string]any{"stateCode": "OR", "elevation": 6010.0}},
		{ID: "b", Properties: map[string]any{"stateCode": "WA"}},
	})
	got := withProps.FilterByProperties(map[string]string{"stateCode": "OR", "elevation": "6010"})
	if !reflect.DeepEqual(got.IDs(), []string{"a"}) {
		t.Fatalf("got %v", got.IDs())
	}
}

type stubResolver map[string][]string

func (r stubResolver) ResolveParameterIDs(_ context.Context, loc Location) ([]string, error) {
	ids, ok := r[loc.ID]
	if !ok {
		return nil, errors.New("unresolvable")
	}
	return ids, nil
}

func TestFilterBySelectedPropertiesSuperset(t *testing.T) {
	c := NewCatalog([]Location{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	resolver := stubResolver{"a": {"1", "2", "3"}, "b": {"1"}, "c": {"2", "1"}}

	got, err := c.FilterBySelectedProperties(context.Background(), resolver, []string{"1", "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.IDs(), []string{"a", "c"}) {
		t.Fatalf("got %v", got.IDs())
	}

	delete(resolver, "b")
	if _, err := c.FilterBySelectedProperties(context.Background(), resolver, []string{"1"}); err == nil {
		t.Fatal("expected resolution failure to fail the filter")
	}
}

func TestExtractCatalogItemURLs(t *testing.T) {
	c := NewCatalog([]Location{
		{ID: "a", CatalogItems: []CatalogItemRef{{URL: "u1"}, {URL: "u2"}}},
		{ID: "b"},
	})
	got := c.ExtractCatalogItemURLs()
	want := map[string][]string{"a": {"u1", "u2"}, "b": {}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if c.DropWithoutCatalogItems().Len() != 1 {
		t.Fatal("expected location without catalog items to be dropped")
	}
}
