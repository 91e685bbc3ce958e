package filters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

// ParseBBox parses 4 (minx,miny,maxx,maxy) or 6 (minx,miny,minz,maxx,maxy,maxz)
// numbers. The 6-value form also returns the vertical range as "minz/maxz".
// An empty input yields a nil geometry.
func ParseBBox(values []string) (orb.Geometry, string, error) {
	if len(values) == 0 {
		return nil, "", nil
	}

	nums := make([]float64, len(values))
	for i, v := range values {
		f, err := parseFinite(strings.TrimSpace(v))
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid bbox value %q", ErrInvalidInput, v)
		}
		nums[i] = f
	}

	switch len(nums) {
	case 4:
		return bound(nums[0], nums[1], nums[2], nums[3]), "", nil
	case 6:
		z := formatFloat(nums[2]) + "/" + formatFloat(nums[5])
		return bound(nums[0], nums[1], nums[3], nums[4]), z, nil
	default:
		return nil, "", fmt.Errorf("%w: invalid bbox; expected 4 or 6 values but got %d", ErrInvalidInput, len(nums))
	}
}

// ParseWKT parses a query area. Only POLYGON and MULTIPOLYGON are accepted.
func ParseWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid wkt %q: %v", ErrInvalidInput, s, err)
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("%w: wkt must be a POLYGON or MULTIPOLYGON, got %s", ErrInvalidInput, g.GeoJSONType())
	}
}

// Contains reports whether geom lies fully inside query using planar semantics.
// A nil geom never matches; a nil query matches everything.
func Contains(query, geom orb.Geometry) bool {
	if query == nil {
		return true
	}
	if geom == nil {
		return false
	}

	points := vertices(geom)
	if len(points) == 0 {
		return false
	}
	for _, p := range points {
		if !pointIn(query, p) {
			return false
		}
	}

	// Every vertex is inside; a concave query can still be crossed by an edge.
	if _, isBound := query.(orb.Bound); isBound {
		return true
	}
	for _, edge := range edges(geom) {
		for _, qEdge := range edges(query) {
			if segmentsCross(edge[0], edge[1], qEdge[0], qEdge[1]) {
				return false
			}
		}
	}
	return true
}

func pointIn(query orb.Geometry, p orb.Point) bool {
	switch q := query.(type) {
	case orb.Bound:
		return q.Contains(p)
	case orb.Polygon:
		return planar.PolygonContains(q, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(q, p)
	case orb.Ring:
		return planar.RingContains(q, p)
	default:
		return false
	}
}

func vertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return []orb.Point(v)
	case orb.LineString:
		return []orb.Point(v)
	case orb.Ring:
		return []orb.Point(v)
	case orb.Polygon:
		var out []orb.Point
		for _, r := range v {
			out = append(out, r...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, p := range v {
			out = append(out, vertices(p)...)
		}
		return out
	default:
		return nil
	}
}

func edges(g orb.Geometry) [][2]orb.Point {
	var out [][2]orb.Point
	addRing := func(pts []orb.Point) {
		for i := 1; i < len(pts); i++ {
			out = append(out, [2]orb.Point{pts[i-1], pts[i]})
		}
	}
	switch v := g.(type) {
	case orb.LineString:
		addRing(v)
	case orb.Ring:
		addRing(v)
	case orb.Polygon:
		for _, r := range v {
			addRing(r)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				addRing(r)
			}
		}
	case orb.Bound:
		addRing(v.ToRing())
	}
	return out
}

// segmentsCross reports a proper crossing; touching endpoints do not count.
func segmentsCross(a1, a2, b1, b2 orb.Point) bool {
	d1 := orientation(b1, b2, a1)
	d2 := orientation(b1, b2, a2)
	d3 := orientation(a1, a2, b1)
	d4 := orientation(a1, a2, b2)
	return d1*d2 < 0 && d3*d4 < 0
}

func orientation(a, b, c orb.Point) float64 {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func bound(minx, miny, maxx, maxy float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minx, miny}, Max: orb.Point{maxx, maxy}}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
