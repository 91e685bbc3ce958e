package hydromet

import (
	"encoding/json"

	"github.com/i474232898/hydromet-edr/internal/filters"
)

// Source adapts one upstream station network to the shared pipeline.
// Implementations only map fields and build URLs; fetching and caching
// happen in Service.
type Source interface {
	Name() string
	Title() string

	// LocationsURL returns the paginated locations resource, narrowed upstream
	// to the given parameter ids when the API supports it.
	LocationsURL(parameterIDs []string) string
	// LocationURL returns the resource for a single location id.
	LocationURL(id string) string
	DecodeLocations(pages []json.RawMessage) ([]Location, error)

	ParametersURL() string
	DecodeParameters(pages []json.RawMessage) ([]ParameterMeta, error)

	// DecodeCatalogItem returns the parameter id a catalog item describes.
	DecodeCatalogItem(body json.RawMessage) (string, error)

	ResultURL(ref CatalogItemRef, dates *filters.DateRange) string
	// DecodeResult returns the parameter id of the stream and its rows.
	DecodeResult(ref CatalogItemRef, body json.RawMessage) (string, []RawSample, error)

	// Relevant reports whether a location belongs to this collection.
	Relevant(loc Location) bool
}
