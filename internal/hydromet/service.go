package hydromet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/upstream"
)

// Fetcher is the cache contract the service depends on.
type Fetcher interface {
	GroupFetcher
	GetOrFetch(ctx context.Context, url string, force bool) (json.RawMessage, error)
	GetOrFetchAllPages(ctx context.Context, base string, pageSize int, force bool) ([]json.RawMessage, error)
	Reset(ctx context.Context) error
}

// Service answers OAF and EDR queries for one source.
type Service struct {
	source   Source
	cache    Fetcher
	joiner   *Joiner
	pageSize int

	mu       sync.Mutex
	registry map[string]ParameterMeta
}

// NewService creates a new Service.
func NewService(source Source, cache Fetcher, pageSize int) *Service {
	return &Service{
		source:   source,
		cache:    cache,
		joiner:   NewJoiner(source, cache),
		pageSize: pageSize,
	}
}

// Name returns the collection id of the underlying source.
func (s *Service) Name() string { return s.source.Name() }

// Title returns the human readable collection title.
func (s *Service) Title() string { return s.source.Title() }

// ItemsQuery holds the filters of an OAF items request.
type ItemsQuery struct {
	ItemID           string
	BBox             orb.Geometry
	Z                *filters.ZFilter // vertical range of a 6-value bbox
	Dates            *filters.DateRange
	SelectProperties []string
	Properties       map[string]string
	Offset           int
	Limit            int
}

// Items returns the filtered locations for an OAF items request.
func (s *Service) Items(ctx context.Context, q ItemsQuery) (Catalog, error) {
	catalog, err := s.loadCatalog(ctx, q.SelectProperties, false)
	if err != nil {
		return Catalog{}, err
	}

	if q.ItemID != "" {
		catalog = catalog.FilterByID(q.ItemID)
		if catalog.Len() == 0 {
			return Catalog{}, fmt.Errorf("%w: location %s in %s", ErrNotFound, q.ItemID, s.Name())
		}
	}

	catalog = catalog.FilterByDate(q.Dates)
	catalog = catalog.FilterByBBoxOrWKT(q.BBox, q.Z)
	catalog = catalog.FilterByProperties(q.Properties)

	catalog, err = catalog.FilterBySelectedProperties(ctx, s, q.SelectProperties)
	if err != nil {
		return Catalog{}, err
	}

	return catalog.FilterByLimitOffset(q.Offset, q.Limit), nil
}

// EDRQuery holds the filters shared by EDR locations, cube and area requests.
type EDRQuery struct {
	LocationID   string
	Geometry     orb.Geometry
	Z            *filters.ZFilter
	Dates        *filters.DateRange
	ParameterIDs []string
	CRS          string
	Format       string
}

// EDRResult is either a location listing (GeoJSON) or joined coverage data.
type EDRResult struct {
	GeoJSON    bool
	Catalog    Catalog
	Records    []JoinedRecord
	Parameters map[string]ParameterMeta
}

// Locations answers an EDR locations request. Without a location id, crs or
// datetime, or when GeoJSON is requested, it lists the locations that have
// parameter streams.
func (s *Service) Locations(ctx context.Context, q EDRQuery) (EDRResult, error) {
	if q.LocationID == "" && q.Dates != nil {
		return EDRResult{}, fmt.Errorf("%w: can't filter by date on every location", ErrInvalidQuery)
	}
	if err := validateCRS(q.CRS); err != nil {
		return EDRResult{}, err
	}

	var (
		catalog Catalog
		err     error
	)
	if q.LocationID != "" {
		catalog, err = s.loadLocation(ctx, q.LocationID)
	} else {
		catalog, err = s.loadCatalog(ctx, q.ParameterIDs, false)
	}
	if err != nil {
		return EDRResult{}, err
	}

	catalog, err = catalog.FilterBySelectedProperties(ctx, s, q.ParameterIDs)
	if err != nil {
		return EDRResult{}, err
	}
	catalog = catalog.DropWithoutCatalogItems()

	if (q.CRS == "" && q.Dates == nil && q.LocationID == "") || isGeoJSON(q.Format) {
		return EDRResult{GeoJSON: true, Catalog: catalog}, nil
	}
	return s.coverage(ctx, catalog, q)
}

// Cube answers an EDR cube request over a bounding box.
func (s *Service) Cube(ctx context.Context, q EDRQuery) (EDRResult, error) {
	if q.Geometry == nil {
		return EDRResult{}, fmt.Errorf("%w: cube requires a bbox", ErrInvalidQuery)
	}
	return s.spatial(ctx, q)
}

// Area answers an EDR area request over a WKT polygon.
func (s *Service) Area(ctx context.Context, q EDRQuery) (EDRResult, error) {
	return s.spatial(ctx, q)
}

func (s *Service) spatial(ctx context.Context, q EDRQuery) (EDRResult, error) {
	if err := validateCRS(q.CRS); err != nil {
		return EDRResult{}, err
	}

	catalog, err := s.loadCatalog(ctx, q.ParameterIDs, false)
	if err != nil {
		return EDRResult{}, err
	}

	catalog = catalog.FilterByDate(q.Dates)
	catalog = catalog.FilterByBBoxOrWKT(q.Geometry, q.Z)

	catalog, err = catalog.FilterBySelectedProperties(ctx, s, q.ParameterIDs)
	if err != nil {
		return EDRResult{}, err
	}

	if isGeoJSON(q.Format) {
		return EDRResult{GeoJSON: true, Catalog: catalog}, nil
	}
	return s.coverage(ctx, catalog, q)
}

func (s *Service) coverage(ctx context.Context, catalog Catalog, q EDRQuery) (EDRResult, error) {
	records, err := s.joiner.Join(ctx, catalog, q.Dates, q.ParameterIDs)
	if err != nil {
		return EDRResult{}, err
	}
	params, err := s.Parameters(ctx)
	if err != nil {
		return EDRResult{}, err
	}
	return EDRResult{Records: records, Parameters: params}, nil
}

// Parameters returns the parameter metadata registry, fetching it on first use.
// The returned map must not be modified.
func (s *Service) Parameters(ctx context.Context) (map[string]ParameterMeta, error) {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()
	if registry != nil {
		return registry, nil
	}
	return s.loadParameters(ctx, false)
}

func (s *Service) loadParameters(ctx context.Context, force bool) (map[string]ParameterMeta, error) {
	pages, err := s.cache.GetOrFetchAllPages(ctx, s.source.ParametersURL(), s.pageSize, force)
	if err != nil {
		return nil, fmt.Errorf("fetch %s parameters: %w", s.Name(), err)
	}
	metas, err := s.source.DecodeParameters(pages)
	if err != nil {
		return nil, fmt.Errorf("%w: %s parameters: %v", ErrDecode, s.Name(), err)
	}

	registry := make(map[string]ParameterMeta, len(metas))
	for _, m := range metas {
		registry[m.ID] = m
	}

	s.mu.Lock()
	s.registry = registry
	s.mu.Unlock()

	log.Printf("INFO: %s: loaded %d parameters", s.Name(), len(registry))
	return registry, nil
}

// ResolveParameterIDs returns the parameter ids measured at loc, fetching the
// catalog items whose parameter is not known inline.
func (s *Service) ResolveParameterIDs(ctx context.Context, loc Location) ([]string, error) {
	ids := make([]string, 0, len(loc.CatalogItems))
	var pending []string
	for _, ref := range loc.CatalogItems {
		if ref.ParameterID != "" {
			ids = append(ids, ref.ParameterID)
			continue
		}
		pending = append(pending, ref.URL)
	}
	if len(pending) == 0 {
		return ids, nil
	}

	bodies, err := s.cache.GetOrFetchGroup(ctx, pending, false)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog items of %s: %w", loc.ID, err)
	}
	for _, u := range pending {
		id, err := s.source.DecodeCatalogItem(bodies[u])
		if err != nil {
			return nil, fmt.Errorf("%w: catalog item %s: %v", ErrDecode, u, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Warm refetches the location listing and parameter registry, replacing the
// cached copies.
func (s *Service) Warm(ctx context.Context) error {
	if _, err := s.loadCatalog(ctx, nil, true); err != nil {
		return err
	}
	if _, err := s.loadParameters(ctx, true); err != nil {
		return err
	}
	return nil
}

// ResetCache drops every cached upstream document and the parameter registry.
func (s *Service) ResetCache(ctx context.Context) error {
	s.mu.Lock()
	s.registry = nil
	s.mu.Unlock()
	return s.cache.Reset(ctx)
}

func (s *Service) loadCatalog(ctx context.Context, parameterIDs []string, force bool) (Catalog, error) {
	pages, err := s.cache.GetOrFetchAllPages(ctx, s.source.LocationsURL(parameterIDs), s.pageSize, force)
	if err != nil {
		return Catalog{}, fmt.Errorf("fetch %s locations: %w", s.Name(), err)
	}
	return s.decodeCatalog(pages)
}

func (s *Service) loadLocation(ctx context.Context, id string) (Catalog, error) {
	body, err := s.cache.GetOrFetch(ctx, s.source.LocationURL(id), false)
	if errors.Is(err, upstream.ErrNotFound) {
		return Catalog{}, fmt.Errorf("%w: location %s in %s", ErrNotFound, id, s.Name())
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("fetch %s location %s: %w", s.Name(), id, err)
	}

	catalog, err := s.decodeCatalog([]json.RawMessage{body})
	if err != nil {
		return Catalog{}, err
	}
	catalog = catalog.FilterByID(id)
	if catalog.Len() == 0 {
		return Catalog{}, fmt.Errorf("%w: location %s in %s", ErrNotFound, id, s.Name())
	}
	return catalog, nil
}

func (s *Service) decodeCatalog(pages []json.RawMessage) (Catalog, error) {
	locs, err := s.source.DecodeLocations(pages)
	if err != nil {
		return Catalog{}, fmt.Errorf("%w: %s locations: %v", ErrDecode, s.Name(), err)
	}

	seen := make(map[string]struct{}, len(locs))
	kept := make([]Location, 0, len(locs))
	for _, loc := range locs {
		if _, dup := seen[loc.ID]; dup {
			return Catalog{}, fmt.Errorf("%w: location %s appears more than once in %s", ErrConsistency, loc.ID, s.Name())
		}
		seen[loc.ID] = struct{}{}
		if s.source.Relevant(loc) {
			kept = append(kept, loc)
		}
	}
	return NewCatalog(kept), nil
}

var supportedCRS = []string{
	"CRS84",
	"EPSG:4326",
	"http://www.opengis.net/def/crs/OGC/1.3/CRS84",
	"http://www.opengis.net/def/crs/EPSG/0/4326",
}

func validateCRS(crs string) error {
	if crs == "" {
		return nil
	}
	for _, c := range supportedCRS {
		if strings.EqualFold(crs, c) {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported crs %q", ErrInvalidQuery, crs)
}

func isGeoJSON(format string) bool {
	return strings.EqualFold(format, "geojson")
}
