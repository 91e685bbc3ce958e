package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/i474232898/hydromet-edr/internal/hydromet"
)

// SortKey orders features by one property.
type SortKey struct {
	Property   string
	Descending bool
}

// ParseSortBy parses an OAF sortby value such as "+name,-elevation".
// Keys without a sign sort ascending.
func ParseSortBy(s string) []SortKey {
	var keys []SortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Property: part}
		switch part[0] {
		case '-':
			key = SortKey{Property: part[1:], Descending: true}
		case '+':
			key = SortKey{Property: part[1:]}
		}
		if key.Property != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// GeoJSONOptions controls how locations are rendered as features.
type GeoJSONOptions struct {
	SkipGeometry     bool
	SelectProperties []string
	SortBy           []SortKey
	// Hits returns no features, only the match count.
	Hits bool
}

// Feature is a GeoJSON feature for one location.
type Feature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

// FeatureCollection is the items response body.
type FeatureCollection struct {
	Type           string    `json:"type"`
	Features       []Feature `json:"features"`
	NumberMatched  *int      `json:"numberMatched,omitempty"`
	NumberReturned int       `json:"numberReturned"`
}

// ToFeatureCollection renders one feature per location.
func ToFeatureCollection(locs []hydromet.Location, opts GeoJSONOptions) FeatureCollection {
	if opts.Hits {
		n := len(locs)
		return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}, NumberMatched: &n}
	}

	sorted := make([]hydromet.Location, len(locs))
	copy(sorted, locs)
	sortLocations(sorted, opts.SortBy)

	features := make([]Feature, 0, len(sorted))
	for _, loc := range sorted {
		features = append(features, ToFeature(loc, opts))
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features, NumberReturned: len(features)}
}

// ToFeature renders a single location.
func ToFeature(loc hydromet.Location, opts GeoJSONOptions) Feature {
	f := Feature{Type: "Feature", ID: loc.ID, Properties: selectProperties(loc.Properties, opts.SelectProperties)}
	if !opts.SkipGeometry && loc.Geometry != nil {
		f.Geometry = geojson.NewGeometry(loc.Geometry)
	}
	return f
}

func selectProperties(props map[string]any, keep []string) map[string]any {
	out := make(map[string]any, len(props))
	if len(keep) == 0 {
		for k, v := range props {
			out[k] = v
		}
		return out
	}
	for _, k := range keep {
		if v, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out
}

func sortLocations(locs []hydromet.Location, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(locs, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(locs[i].Properties[k.Property], locs[j].Properties[k.Property])
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders missing values first, numbers numerically and
// everything else by its text form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
