package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/i474232898/hydromet-edr/internal/cache"
	"github.com/i474232898/hydromet-edr/internal/common"
	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
)

// RISE adapts the USBR Reclamation Information Sharing Environment JSON:API.
type RISE struct {
	baseURL string
}

// NewRISE creates a RISE adapter rooted at baseURL, e.g. https://data.usbr.gov.
func NewRISE(baseURL string) *RISE {
	return &RISE{baseURL: strings.TrimRight(baseURL, "/")}
}

// Name is the collection id.
func (r *RISE) Name() string { return "rise" }

// Title is the human readable collection name.
func (r *RISE) Title() string { return "USBR Reclamation Information Sharing Environment" }

const riseInclude = "catalogRecords.catalogItems"

// LocationsURL lists locations with their catalog items, narrowed to the
// given parameter ids when any are set.
func (r *RISE) LocationsURL(parameterIDs []string) string {
	q := url.Values{}
	q.Set("include", riseInclude)
	for _, id := range parameterIDs {
		q.Add("parameterId[]", id)
	}
	return r.baseURL + "/rise/api/location?" + q.Encode()
}

// LocationURL addresses a single location by id.
func (r *RISE) LocationURL(id string) string {
	return r.baseURL + "/rise/api/location/" + url.PathEscape(id) + "?include=" + riseInclude
}

// ParametersURL lists the parameter registry.
func (r *RISE) ParametersURL() string {
	return r.baseURL + "/rise/api/parameter"
}

type riseLocation struct {
	ID         string `json:"id"`
	Attributes struct {
		ID                  flexID          `json:"_id"`
		LocationName        string          `json:"locationName"`
		LocationDescription *string         `json:"locationDescription"`
		LocationCoordinates json.RawMessage `json:"locationCoordinates"`
		Elevation           flexFloat       `json:"elevation"`
		CreateDate          string          `json:"createDate"`
		UpdateDate          string          `json:"updateDate"`
		LocationTypeName    string          `json:"locationTypeName"`
		ProjectNames        []string        `json:"projectNames"`
		LocationRegionNames []string        `json:"locationRegionNames"`
	} `json:"attributes"`
	Relationships struct {
		CatalogRecords *relationship `json:"catalogRecords"`
	} `json:"relationships"`
}

type riseIncluded struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		ParameterID flexID `json:"parameterId"`
	} `json:"attributes"`
	Relationships struct {
		Location      *relationship `json:"location"`
		CatalogRecord *relationship `json:"catalogRecord"`
	} `json:"relationships"`
}

// DecodeLocations merges the pages and joins every location to its catalog
// items through the included catalog records.
func (r *RISE) DecodeLocations(pages []json.RawMessage) ([]hydromet.Location, error) {
	merged, err := cache.MergePages(pages)
	if err != nil {
		return nil, err
	}

	recordsByLocation := make(map[string][]string)
	itemsByRecord := make(map[string][]riseIncluded)
	for _, raw := range merged.Included {
		var inc riseIncluded
		if err := json.Unmarshal(raw, &inc); err != nil {
			log.Printf("ERROR: rise: skipping malformed included resource: %v", err)
			continue
		}
		switch inc.Type {
		case "CatalogRecord":
			locID, ok := inc.Relationships.Location.first()
			if !ok {
				log.Printf("ERROR: rise: catalog record %s has no location relationship", inc.ID)
				continue
			}
			recordsByLocation[locID] = append(recordsByLocation[locID], inc.ID)
		case "CatalogItem":
			recID, ok := inc.Relationships.CatalogRecord.first()
			if !ok {
				log.Printf("ERROR: rise: catalog item %s has no catalog record relationship", inc.ID)
				continue
			}
			itemsByRecord[recID] = append(itemsByRecord[recID], inc)
		}
	}

	locs := make([]hydromet.Location, 0, len(merged.Data))
	for i, raw := range merged.Data {
		var rl riseLocation
		if err := json.Unmarshal(raw, &rl); err != nil {
			return nil, fmt.Errorf("location %d: %w", i, err)
		}
		loc := r.location(rl)

		records := recordsByLocation[rl.ID]
		if rl.Relationships.CatalogRecords != nil {
			for _, ref := range rl.Relationships.CatalogRecords.Data {
				records = append(records, ref.ID)
			}
		}
		seen := make(map[string]struct{})
		for _, rec := range records {
			for _, item := range itemsByRecord[rec] {
				u := r.catalogItemURL(item.ID)
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				loc.CatalogItems = append(loc.CatalogItems, hydromet.CatalogItemRef{
					URL:         u,
					ParameterID: string(item.Attributes.ParameterID),
				})
			}
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func (r *RISE) location(rl riseLocation) hydromet.Location {
	a := rl.Attributes
	id := string(a.ID)
	if id == "" {
		id = common.TrailingID(rl.ID)
	}

	loc := hydromet.Location{
		ID:         id,
		Name:       a.LocationName,
		Geometry:   decodeGeometry(id, a.LocationCoordinates),
		Elevation:  a.Elevation.v,
		LastUpdate: a.UpdateDate,
	}
	if t, ok := parseStamp(a.UpdateDate); ok {
		loc.Begin, loc.End = &t, &t
	}

	props := map[string]any{
		"id":               id,
		"name":             a.LocationName,
		"locationTypeName": a.LocationTypeName,
		"createDate":       a.CreateDate,
		"updateDate":       a.UpdateDate,
		"projectNames":     a.ProjectNames,
		"regionNames":      a.LocationRegionNames,
	}
	if a.LocationDescription != nil {
		props["locationDescription"] = *a.LocationDescription
	}
	if a.Elevation.v != nil {
		props["elevation"] = *a.Elevation.v
	}
	loc.Properties = props
	return loc
}

func (r *RISE) catalogItemURL(id string) string {
	if strings.HasPrefix(id, "/") {
		return r.baseURL + id
	}
	return r.baseURL + "/rise/api/catalog-item/" + id
}

// DecodeParameters merges the parameter pages into registry entries.
func (r *RISE) DecodeParameters(pages []json.RawMessage) ([]hydromet.ParameterMeta, error) {
	merged, err := cache.MergePages(pages)
	if err != nil {
		return nil, err
	}
	out := make([]hydromet.ParameterMeta, 0, len(merged.Data))
	for i, raw := range merged.Data {
		var p struct {
			Attributes struct {
				ID          flexID `json:"_id"`
				Name        string `json:"parameterName"`
				Description string `json:"parameterDescription"`
				Unit        string `json:"parameterUnit"`
			} `json:"attributes"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		if p.Attributes.ID == "" {
			return nil, fmt.Errorf("parameter %d has no id", i)
		}
		out = append(out, hydromet.ParameterMeta{
			ID:          string(p.Attributes.ID),
			Title:       p.Attributes.Name,
			Description: p.Attributes.Description,
			Unit:        p.Attributes.Unit,
		})
	}
	return out, nil
}

// DecodeCatalogItem returns the parameter id a catalog item measures.
func (r *RISE) DecodeCatalogItem(body json.RawMessage) (string, error) {
	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}
	data := bytes.TrimSpace(doc.Data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "", fmt.Errorf("catalog item response has no data")
		}
		data = items[0]
	}

	var item struct {
		Attributes struct {
			ParameterID flexID `json:"parameterId"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return "", err
	}
	if item.Attributes.ParameterID == "" {
		return "", fmt.Errorf("catalog item has no parameterId")
	}
	return string(item.Attributes.ParameterID), nil
}

// ResultURL addresses the results of one catalog item. A single instant is
// sent as both bounds so RISE matches the whole day.
func (r *RISE) ResultURL(ref hydromet.CatalogItemRef, dates *filters.DateRange) string {
	q := url.Values{}
	q.Set("itemId", common.TrailingID(ref.URL))
	after, before := dates.ResultBounds()
	if before != "" {
		q.Set("dateTime[before]", before)
	}
	if after != "" {
		q.Set("dateTime[after]", after)
	}
	return r.baseURL + "/rise/api/result?" + q.Encode()
}

// DecodeResult extracts the parameter id and samples of one result page.
func (r *RISE) DecodeResult(_ hydromet.CatalogItemRef, body json.RawMessage) (string, []hydromet.RawSample, error) {
	merged, err := cache.MergePages([]json.RawMessage{body})
	if err != nil {
		return "", nil, err
	}

	var paramID string
	rows := make([]hydromet.RawSample, 0, len(merged.Data))
	for i, raw := range merged.Data {
		var row struct {
			Attributes struct {
				DateTime    string    `json:"dateTime"`
				Result      flexFloat `json:"result"`
				ParameterID flexID    `json:"parameterId"`
			} `json:"attributes"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return "", nil, fmt.Errorf("result row %d: %w", i, err)
		}
		if paramID == "" {
			paramID = string(row.Attributes.ParameterID)
		}
		rows = append(rows, hydromet.RawSample{Time: row.Attributes.DateTime, Value: row.Attributes.Result.v})
	}
	return paramID, rows, nil
}

// Relevant keeps every RISE location.
func (r *RISE) Relevant(hydromet.Location) bool { return true }

// decodeGeometry decodes a GeoJSON geometry object. Missing or malformed
// geometry yields nil, which fails every spatial filter.
func decodeGeometry(id string, raw json.RawMessage) orb.Geometry {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		log.Printf("ERROR: location %s has malformed geometry: %v", id, err)
		return nil
	}
	return g.Geometry()
}
