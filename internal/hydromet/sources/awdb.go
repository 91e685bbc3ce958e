package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/cache"
	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
)

// AWDBKind selects which AWDB stations and results an adapter serves.
type AWDBKind int

const (
	// SNOTEL serves daily element data of SNTL network stations.
	SNOTEL AWDBKind = iota + 1
	// Forecasts serves streamflow forecasts published for forecast points.
	Forecasts
)

const (
	awdbAPIPath = "/awdbRestApi/services/v1"
	// awdbActiveEnd is the end date AWDB reports for stations still in service.
	awdbActiveEnd = "2100-01-01"
	// forecastProbability is the exceedance probability reported as the value.
	forecastProbability = "50"
)

// AWDB adapts the NRCS Air and Water Database REST API.
type AWDB struct {
	baseURL string
	kind    AWDBKind
}

// NewAWDB creates an AWDB adapter rooted at baseURL, e.g. https://wcc.sc.egov.usda.gov.
func NewAWDB(baseURL string, kind AWDBKind) *AWDB {
	return &AWDB{baseURL: strings.TrimRight(baseURL, "/") + awdbAPIPath, kind: kind}
}

// Name is the collection id, which depends on the adapter kind.
func (a *AWDB) Name() string {
	if a.kind == Forecasts {
		return "awdb-forecasts"
	}
	return "snotel"
}

// Title is the human readable collection name.
func (a *AWDB) Title() string {
	if a.kind == Forecasts {
		return "NRCS AWDB Forecast Points"
	}
	return "NRCS SNOTEL Stations"
}

func (a *AWDB) stationsQuery() url.Values {
	q := url.Values{}
	q.Set("activeOnly", "true")
	q.Set("returnStationElements", "true")
	if a.kind == Forecasts {
		q.Set("returnForecastPointMetadata", "true")
		q.Set("stationTriplets", "*")
	} else {
		q.Set("stationTriplets", "*:*:SNTL")
	}
	return q
}

// LocationsURL lists active stations, narrowed to the given element codes
// when any are set.
func (a *AWDB) LocationsURL(parameterIDs []string) string {
	q := a.stationsQuery()
	if len(parameterIDs) > 0 {
		q.Set("elements", strings.Join(parameterIDs, ","))
	}
	return a.baseURL + "/stations?" + q.Encode()
}

// LocationURL addresses a single station by triplet.
func (a *AWDB) LocationURL(id string) string {
	q := a.stationsQuery()
	q.Set("stationTriplets", id)
	return a.baseURL + "/stations?" + q.Encode()
}

// ParametersURL lists the element reference data.
func (a *AWDB) ParametersURL() string {
	return a.baseURL + "/reference-data?referenceLists=elements"
}

type awdbElement struct {
	ElementCode    string `json:"elementCode"`
	StoredUnitCode string `json:"storedUnitCode"`
	BeginDate      string `json:"beginDate"`
	EndDate        string `json:"endDate"`
}

type awdbStation struct {
	StationTriplet  string          `json:"stationTriplet"`
	StationID       string          `json:"stationId"`
	StateCode       string          `json:"stateCode"`
	NetworkCode     string          `json:"networkCode"`
	Name            string          `json:"name"`
	CountyName      string          `json:"countyName"`
	HUC             string          `json:"huc"`
	Elevation       flexFloat       `json:"elevation"`
	Latitude        flexFloat       `json:"latitude"`
	Longitude       flexFloat       `json:"longitude"`
	BeginDate       string          `json:"beginDate"`
	EndDate         string          `json:"endDate"`
	ForecastPoint   json.RawMessage `json:"forecastPoint"`
	StationElements []awdbElement   `json:"stationElements"`
}

// DecodeLocations converts station pages into locations, one catalog item
// per station element.
func (a *AWDB) DecodeLocations(pages []json.RawMessage) ([]hydromet.Location, error) {
	merged, err := cache.MergePages(pages)
	if err != nil {
		return nil, err
	}

	locs := make([]hydromet.Location, 0, len(merged.Data))
	for i, raw := range merged.Data {
		var st awdbStation
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("station %d: %w", i, err)
		}
		if st.StationTriplet == "" {
			return nil, fmt.Errorf("station %d has no stationTriplet", i)
		}
		locs = append(locs, a.location(st))
	}
	return locs, nil
}

func (a *AWDB) location(st awdbStation) hydromet.Location {
	loc := hydromet.Location{
		ID:        st.StationTriplet,
		Name:      st.Name,
		Elevation: st.Elevation.v,
	}
	if st.Longitude.v != nil && st.Latitude.v != nil {
		loc.Geometry = orb.Point{*st.Longitude.v, *st.Latitude.v}
	}
	if t, ok := parseStamp(st.BeginDate); ok {
		loc.Begin = &t
	}
	if t, ok := parseStamp(st.EndDate); ok {
		loc.End = &t
	}
	loc.EndSentinel = strings.HasPrefix(st.EndDate, awdbActiveEnd)
	if !loc.EndSentinel {
		loc.LastUpdate = st.EndDate
	}

	seen := make(map[string]struct{})
	for _, el := range st.StationElements {
		if el.ElementCode == "" {
			continue
		}
		if _, dup := seen[el.ElementCode]; dup {
			continue
		}
		seen[el.ElementCode] = struct{}{}
		loc.CatalogItems = append(loc.CatalogItems, hydromet.CatalogItemRef{
			URL:         a.elementURL(st.StationTriplet, el),
			ParameterID: el.ElementCode,
		})
	}

	props := map[string]any{
		"stationTriplet": st.StationTriplet,
		"name":           st.Name,
		"stateCode":      st.StateCode,
		"networkCode":    st.NetworkCode,
		"countyName":     st.CountyName,
		"huc":            st.HUC,
		"beginDate":      st.BeginDate,
		"endDate":        st.EndDate,
		"forecastPoint":  hasValue(st.ForecastPoint),
	}
	if st.Elevation.v != nil {
		props["elevation"] = *st.Elevation.v
	}
	loc.Properties = props
	return loc
}

// elementURL addresses the full history of one station element.
func (a *AWDB) elementURL(triplet string, el awdbElement) string {
	q := url.Values{}
	q.Set("stationTriplets", triplet)
	q.Set("elements", el.ElementCode)
	if d := dateOnly(el.BeginDate); d != "" {
		q.Set("beginDate", d)
	}
	if d := dateOnly(el.EndDate); d != "" {
		q.Set("endDate", d)
	}
	path := "/data"
	if a.kind == Forecasts {
		path = "/forecasts"
		q.Del("beginDate")
		q.Del("endDate")
	}
	return a.baseURL + path + "?" + q.Encode()
}

// DecodeParameters converts the element reference list into registry entries.
func (a *AWDB) DecodeParameters(pages []json.RawMessage) ([]hydromet.ParameterMeta, error) {
	var out []hydromet.ParameterMeta
	for i, page := range pages {
		var ref struct {
			Elements []struct {
				Code                string `json:"code"`
				Name                string `json:"name"`
				Description         string `json:"description"`
				PhysicalElementName string `json:"physicalElementName"`
				StoredUnitCode      string `json:"storedUnitCode"`
			} `json:"elements"`
		}
		if err := json.Unmarshal(page, &ref); err != nil {
			return nil, fmt.Errorf("reference data page %d: %w", i, err)
		}
		for _, el := range ref.Elements {
			if el.Code == "" {
				continue
			}
			desc := el.Description
			if desc == "" {
				desc = el.PhysicalElementName
			}
			out = append(out, hydromet.ParameterMeta{
				ID:          el.Code,
				Title:       el.Name,
				Description: desc,
				Unit:        el.StoredUnitCode,
			})
		}
	}
	return out, nil
}

type awdbStationData struct {
	StationTriplet string `json:"stationTriplet"`
	Data           []struct {
		StationElement *awdbElement `json:"stationElement"`
		Values         []struct {
			Date  string    `json:"date"`
			Value flexFloat `json:"value"`
		} `json:"values"`

		ElementCode     string               `json:"elementCode"`
		PublicationDate string               `json:"publicationDate"`
		ForecastValues  map[string]flexFloat `json:"forecastValues"`
	} `json:"data"`
}

// DecodeCatalogItem returns the element code of a station data response.
func (a *AWDB) DecodeCatalogItem(body json.RawMessage) (string, error) {
	var stations []awdbStationData
	if err := json.Unmarshal(body, &stations); err != nil {
		return "", err
	}
	for _, st := range stations {
		for _, d := range st.Data {
			if d.StationElement != nil && d.StationElement.ElementCode != "" {
				return d.StationElement.ElementCode, nil
			}
			if d.ElementCode != "" {
				return d.ElementCode, nil
			}
		}
	}
	return "", fmt.Errorf("station data has no element code")
}

// ResultURL narrows the element URL to the requested dates. Forecasts are
// filtered by publication date.
func (a *AWDB) ResultURL(ref hydromet.CatalogItemRef, dates *filters.DateRange) string {
	if dates == nil {
		return ref.URL
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return ref.URL
	}
	beginKey, endKey := "beginDate", "endDate"
	if a.kind == Forecasts {
		beginKey, endKey = "beginPublicationDate", "endPublicationDate"
	}

	q := u.Query()
	if !dates.Start.IsZero() {
		q.Set(beginKey, dates.Start.Format("2006-01-02"))
	}
	if !dates.End.Equal(filters.OpenEnd) {
		q.Set(endKey, dates.End.Format("2006-01-02"))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DecodeResult extracts the samples of the element named by ref.
func (a *AWDB) DecodeResult(ref hydromet.CatalogItemRef, body json.RawMessage) (string, []hydromet.RawSample, error) {
	var stations []awdbStationData
	if err := json.Unmarshal(body, &stations); err != nil {
		return "", nil, err
	}

	var rows []hydromet.RawSample
	for _, st := range stations {
		for _, d := range st.Data {
			if a.kind == Forecasts {
				if d.ElementCode != "" && d.ElementCode != ref.ParameterID {
					continue
				}
				v := d.ForecastValues[forecastProbability]
				rows = append(rows, hydromet.RawSample{Time: d.PublicationDate, Value: v.v})
				continue
			}
			if d.StationElement != nil && d.StationElement.ElementCode != ref.ParameterID {
				continue
			}
			for _, val := range d.Values {
				rows = append(rows, hydromet.RawSample{Time: val.Date, Value: val.Value.v})
			}
		}
	}
	return ref.ParameterID, rows, nil
}

// Relevant keeps SNTL stations for SNOTEL and stations with forecast point
// metadata for Forecasts.
func (a *AWDB) Relevant(loc hydromet.Location) bool {
	if a.kind == Forecasts {
		fp, _ := loc.Properties["forecastPoint"].(bool)
		return fp
	}
	return loc.Properties["networkCode"] == "SNTL"
}

func hasValue(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func dateOnly(s string) string {
	t, ok := parseStamp(s)
	if !ok {
		return ""
	}
	if t.After(time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)) {
		return ""
	}
	return t.Format("2006-01-02")
}
