package hydromet

import (
	"time"

	"github.com/paulmach/orb"
)

// CatalogItemRef points at one parameter stream of a location.
type CatalogItemRef struct {
	URL string
	// ParameterID is set when the upstream carries it inline; otherwise it is
	// resolved by fetching URL.
	ParameterID string
}

// Location is one monitoring site as decoded from an upstream source.
type Location struct {
	ID        string
	Name      string
	Geometry  orb.Geometry
	Elevation *float64

	Begin *time.Time
	End   *time.Time
	// EndSentinel is set when End is the "still in service" marker.
	EndSentinel bool
	// LastUpdate is the upstream update timestamp exactly as received.
	LastUpdate string

	CatalogItems []CatalogItemRef
	Properties   map[string]any
}

// GeometryType returns the GeoJSON type of the location geometry, or "" when
// the location has none.
func (l Location) GeometryType() string {
	if l.Geometry == nil {
		return ""
	}
	return l.Geometry.GeoJSONType()
}

// ParameterMeta is one entry of the parameter metadata registry.
type ParameterMeta struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

// RawSample is a result row before the missing-field check.
type RawSample struct {
	Time  string
	Value *float64
}

// Sample is a usable (timestamp, value) pair.
type Sample struct {
	Time  string
	Value float64
}

// ParameterStream is the time series of one catalog item.
type ParameterStream struct {
	ParameterID string
	CatalogItem string
	Samples     []Sample
}

// JoinedRecord is one location with all of its non-empty parameter streams.
type JoinedRecord struct {
	LocationID string
	Geometry   orb.Geometry
	Streams    []ParameterStream
}

// GeometryType returns the GeoJSON type of the record geometry.
func (r JoinedRecord) GeometryType() string {
	if r.Geometry == nil {
		return ""
	}
	return r.Geometry.GeoJSONType()
}
