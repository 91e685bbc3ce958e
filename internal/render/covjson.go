package render

import (
	"fmt"
	"log"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/hydromet"
)

const (
	crs84URI = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"

	domainPointSeries        = "PointSeries"
	domainPolygonSeries      = "PolygonSeries"
	domainMultiPolygonSeries = "MultiPolygonSeries"
)

// CoverageCollection is the CoverageJSON body of an EDR response.
type CoverageCollection struct {
	Type        string                      `json:"type"`
	DomainType  string                      `json:"domainType,omitempty"`
	Parameters  map[string]Parameter        `json:"parameters"`
	Referencing []ReferenceSystemConnection `json:"referencing"`
	Coverages   []Coverage                  `json:"coverages"`
}

// Coverage holds the time series of one location and parameter.
type Coverage struct {
	Type   string             `json:"type"`
	Domain Domain             `json:"domain"`
	Ranges map[string]NdArray `json:"ranges"`
}

// Domain describes where and when the range values apply.
type Domain struct {
	Type       string          `json:"type"`
	DomainType string          `json:"domainType"`
	Axes       map[string]Axis `json:"axes"`
}

// Axis lists the values along one domain dimension.
type Axis struct {
	DataType    string   `json:"dataType,omitempty"`
	Coordinates []string `json:"coordinates,omitempty"`
	Values      []any    `json:"values"`
}

// NdArray carries the range values of one parameter.
type NdArray struct {
	Type      string    `json:"type"`
	DataType  string    `json:"dataType"`
	AxisNames []string  `json:"axisNames"`
	Shape     []int     `json:"shape"`
	Values    []float64 `json:"values"`
}

// Parameter describes a measured quantity.
type Parameter struct {
	Type             string            `json:"type"`
	ID               string            `json:"id,omitempty"`
	Description      map[string]string `json:"description,omitempty"`
	Unit             Unit              `json:"unit"`
	ObservedProperty ObservedProperty  `json:"observedProperty"`
}

// Unit of a parameter.
type Unit struct {
	Symbol string `json:"symbol"`
}

// ObservedProperty names what a parameter measures.
type ObservedProperty struct {
	ID          string            `json:"id"`
	Label       map[string]string `json:"label"`
	Description map[string]string `json:"description,omitempty"`
}

// ReferenceSystemConnection binds domain axes to a reference system.
type ReferenceSystemConnection struct {
	Coordinates []string        `json:"coordinates"`
	System      ReferenceSystem `json:"system"`
}

// ReferenceSystem is a geographic or temporal reference system.
type ReferenceSystem struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Calendar string `json:"calendar,omitempty"`
}

func referencing() []ReferenceSystemConnection {
	return []ReferenceSystemConnection{
		{Coordinates: []string{"x", "y"}, System: ReferenceSystem{Type: "GeographicCRS", ID: crs84URI}},
		{Coordinates: []string{"t"}, System: ReferenceSystem{Type: "TemporalRS", Calendar: "Gregorian"}},
	}
}

// ToCoverageCollection renders one coverage per (location, parameter) pair.
// Streams whose parameter id is missing from registry are logged and skipped,
// so every range key has an entry in parameters.
func ToCoverageCollection(records []hydromet.JoinedRecord, registry map[string]hydromet.ParameterMeta) CoverageCollection {
	cc := CoverageCollection{
		Type:        "CoverageCollection",
		Parameters:  make(map[string]Parameter),
		Referencing: referencing(),
		Coverages:   []Coverage{},
	}

	keys := parameterKeys(registry)
	domainTypes := make(map[string]struct{})
	for _, rec := range records {
		for _, stream := range rec.Streams {
			if len(stream.Samples) == 0 {
				continue
			}

			meta, ok := registry[stream.ParameterID]
			if !ok {
				log.Printf("ERROR: covjson: no metadata for parameter %s of location %s; skipping", stream.ParameterID, rec.LocationID)
				continue
			}
			key := keys[stream.ParameterID]

			domain, ok := domainFor(rec.Geometry, stream.Samples)
			if !ok {
				log.Printf("ERROR: covjson: location %s has no renderable geometry (%s); skipping", rec.LocationID, rec.GeometryType())
				continue
			}
			domainTypes[domain.DomainType] = struct{}{}
			cc.Parameters[key] = parameter(meta)

			values := make([]float64, len(stream.Samples))
			for i, s := range stream.Samples {
				values[i] = s.Value
			}
			cc.Coverages = append(cc.Coverages, Coverage{
				Type:   "Coverage",
				Domain: domain,
				Ranges: map[string]NdArray{
					key: {
						Type:      "NdArray",
						DataType:  "float",
						AxisNames: []string{"t"},
						Shape:     []int{len(values)},
						Values:    values,
					},
				},
			})
		}
	}

	if len(domainTypes) == 1 {
		for dt := range domainTypes {
			cc.DomainType = dt
		}
	}
	return cc
}

// parameterKeys maps parameter ids to their range key: the display title, or
// "title (id)" when several parameters share a title.
func parameterKeys(registry map[string]hydromet.ParameterMeta) map[string]string {
	byTitle := make(map[string][]string)
	for id, meta := range registry {
		title := meta.Title
		if title == "" {
			title = id
		}
		byTitle[title] = append(byTitle[title], id)
	}

	keys := make(map[string]string, len(registry))
	for title, ids := range byTitle {
		if len(ids) == 1 {
			keys[ids[0]] = title
			continue
		}
		log.Printf("DEBUG: covjson: parameters %v share the title %q; keying them by id", ids, title)
		for _, id := range ids {
			keys[id] = fmt.Sprintf("%s (%s)", title, id)
		}
	}
	return keys
}

func parameter(meta hydromet.ParameterMeta) Parameter {
	p := Parameter{
		Type: "Parameter",
		ID:   meta.ID,
		Unit: Unit{Symbol: meta.Unit},
		ObservedProperty: ObservedProperty{
			ID:    meta.ID,
			Label: map[string]string{"en": meta.Title},
		},
	}
	if meta.Description != "" {
		p.Description = map[string]string{"en": meta.Description}
		p.ObservedProperty.Description = map[string]string{"en": meta.Description}
	}
	return p
}

func domainFor(g orb.Geometry, samples []hydromet.Sample) (Domain, bool) {
	times := make([]any, len(samples))
	for i, s := range samples {
		times[i] = s.Time
	}
	t := Axis{Values: times}

	switch geom := g.(type) {
	case orb.Point:
		return Domain{
			Type:       "Domain",
			DomainType: domainPointSeries,
			Axes: map[string]Axis{
				"x": {Values: []any{geom[0]}},
				"y": {Values: []any{geom[1]}},
				"t": t,
			},
		}, true
	case orb.Polygon:
		return Domain{
			Type:       "Domain",
			DomainType: domainPolygonSeries,
			Axes: map[string]Axis{
				"composite": {DataType: "polygon", Coordinates: []string{"x", "y"}, Values: []any{geom}},
				"t":         t,
			},
		}, true
	case orb.MultiPolygon:
		return Domain{
			Type:       "Domain",
			DomainType: domainMultiPolygonSeries,
			Axes: map[string]Axis{
				"composite": {DataType: "polygon", Coordinates: []string{"x", "y"}, Values: []any{geom}},
				"t":         t,
			},
		}, true
	default:
		return Domain{}, false
	}
}
