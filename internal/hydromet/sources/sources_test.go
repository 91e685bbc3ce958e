package sources

import (
	"encoding/json"
	"net/url"
	"reflect"
	"testing"

	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
)

const riseLocationsPage = `{
  "meta": {"totalItems": 3, "itemsPerPage": 100, "currentPage": 1},
  "data": [
    {
      "id": "/rise/api/location/1",
      "type": "Location",
      "attributes": {
        "_id": 1,
        "locationName": "Lake Mead",
        "locationDescription": null,
        "locationCoordinates": {"type": "Point", "coordinates": [-114.7, 36.0]},
        "elevation": "1229.5",
        "updateDate": "2017-01-01 00:00:00+00:00",
        "locationTypeName": "Lake/Reservoir"
      },
      "relationships": {"catalogRecords": {"data": [{"id": "/rise/api/catalog-record/10", "type": "CatalogRecord"}]}}
    },
    {
      "id": "/rise/api/location/2",
      "type": "Location",
      "attributes": {
        "_id": 2,
        "locationName": "Basin",
        "locationCoordinates": {"type": "Polygon", "coordinates": [[[-110, 40], [-109, 40], [-109, 41], [-110, 40]]]},
        "elevation": null,
        "updateDate": "2020-05-05 00:00:00+00:00"
      }
    },
    {
      "id": "/rise/api/location/3",
      "type": "Location",
      "attributes": {"_id": 3, "locationName": "No geometry", "locationCoordinates": null, "updateDate": ""}
    }
  ],
  "included": [
    {"id": "/rise/api/catalog-record/10", "type": "CatalogRecord",
     "relationships": {"location": {"data": [{"id": "/rise/api/location/1", "type": "Location"}]}}},
    {"id": "/rise/api/catalog-record/20", "type": "CatalogRecord",
     "relationships": {"location": {"data": {"id": "/rise/api/location/2", "type": "Location"}}}},
    {"id": "/rise/api/catalog-item/100", "type": "CatalogItem",
     "relationships": {"catalogRecord": {"data": [{"id": "/rise/api/catalog-record/10", "type": "CatalogRecord"}]}}},
    {"id": "/rise/api/catalog-item/101", "type": "CatalogItem", "attributes": {"parameterId": "3"},
     "relationships": {"catalogRecord": {"data": {"id": "/rise/api/catalog-record/10", "type": "CatalogRecord"}}}},
    {"id": "/rise/api/catalog-item/200", "type": "CatalogItem",
     "relationships": {"catalogRecord": {"data": [{"id": "/rise/api/catalog-record/20", "type": "CatalogRecord"}]}}},
    {"id": "/rise/api/catalog-item/999", "type": "CatalogItem", "relationships": {}}
  ]
}`

func TestRISEDecodeLocations(t *testing.T) {
	r := NewRISE("https://data.usbr.gov/")
	locs, err := r.DecodeLocations([]json.RawMessage{json.RawMessage(riseLocationsPage)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(locs))
	}

	mead := locs[0]
	if mead.ID != "1" || mead.Name != "Lake Mead" {
		t.Fatalf("unexpected location %+v", mead)
	}
	if p, ok := mead.Geometry.(orb.Point); !ok || p != (orb.Point{-114.7, 36.0}) {
		t.Fatalf("unexpected geometry %#v", mead.Geometry)
	}
	if mead.Elevation == nil || *mead.Elevation != 1229.5 {
		t.Fatalf("expected elevation decoded from string, got %v", mead.Elevation)
	}
	if mead.Begin == nil || mead.Begin.Year() != 2017 {
		t.Fatalf("expected service date from updateDate, got %v", mead.Begin)
	}

	wantItems := []hydromet.CatalogItemRef{
		{URL: "https://data.usbr.gov/rise/api/catalog-item/100"},
		{URL: "https://data.usbr.gov/rise/api/catalog-item/101", ParameterID: "3"},
	}
	if !reflect.DeepEqual(mead.CatalogItems, wantItems) {
		t.Fatalf("unexpected catalog items %+v", mead.CatalogItems)
	}

	basin := locs[1]
	if basin.GeometryType() != "Polygon" || basin.Elevation != nil {
		t.Fatalf("unexpected basin %+v", basin)
	}
	if len(basin.CatalogItems) != 1 {
		t.Fatalf("expected object-form relationship to be joined, got %+v", basin.CatalogItems)
	}

	if locs[2].Geometry != nil || len(locs[2].CatalogItems) != 0 {
		t.Fatalf("expected location without geometry or items, got %+v", locs[2])
	}
}

func TestRISEResultURL(t *testing.T) {
	r := NewRISE("https://data.usbr.gov")
	ref := hydromet.CatalogItemRef{URL: "https://data.usbr.gov/rise/api/catalog-item/128562"}

	dates, _ := filters.ParseDate("2017-01-01")
	u, err := url.Parse(r.ResultURL(ref, dates))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := u.Query()
	if u.Path != "/rise/api/result" || q.Get("itemId") != "128562" {
		t.Fatalf("unexpected result url %s", u)
	}
	if q.Get("dateTime[after]") != "2017-01-01" || q.Get("dateTime[before]") != "2017-01-01" {
		t.Fatalf("single date must be sent as both bounds, got %s", u.RawQuery)
	}

	plain := r.ResultURL(ref, nil)
	if plain != "https://data.usbr.gov/rise/api/result?itemId=128562" {
		t.Fatalf("unexpected undated result url %s", plain)
	}
}

func TestRISEDecodeResultAndParameters(t *testing.T) {
	r := NewRISE("https://data.usbr.gov")
	body := json.RawMessage(`{"data":[
		{"attributes":{"dateTime":"2017-01-01 00:00:00+00:00","result":1.5,"parameterId":3}},
		{"attributes":{"dateTime":"2017-01-02 00:00:00+00:00","result":null,"parameterId":3}}
	]}`)
	paramID, rows, err := r.DecodeResult(hydromet.CatalogItemRef{}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paramID != "3" || len(rows) != 2 || rows[1].Value != nil {
		t.Fatalf("unexpected result %s %+v", paramID, rows)
	}

	params, err := r.DecodeParameters([]json.RawMessage{json.RawMessage(`{"data":[
		{"attributes":{"_id":3,"parameterName":"Lake/Reservoir Storage","parameterDescription":"Storage","parameterUnit":"af"}}
	]}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := hydromet.ParameterMeta{ID: "3", Title: "Lake/Reservoir Storage", Description: "Storage", Unit: "af"}
	if len(params) != 1 || params[0] != want {
		t.Fatalf("unexpected parameters %+v", params)
	}

	id, err := r.DecodeCatalogItem(json.RawMessage(`{"data":{"attributes":{"parameterId":"17"}}}`))
	if err != nil || id != "17" {
		t.Fatalf("unexpected catalog item decode %q %v", id, err)
	}
}

const awdbStations = `[
  {
    "stationTriplet": "1000:OR:SNTL", "name": "Annie Springs", "networkCode": "SNTL", "stateCode": "OR",
    "elevation": 6010, "latitude": 42.87, "longitude": -122.17,
    "beginDate": "1979-10-01 00:00", "endDate": "2100-01-01 00:00",
    "stationElements": [
      {"elementCode": "WTEQ", "storedUnitCode": "in", "beginDate": "1979-10-01 00:00", "endDate": "2100-01-01 00:00"},
      {"elementCode": "WTEQ", "storedUnitCode": "in", "beginDate": "1979-10-01 00:00", "endDate": "2100-01-01 00:00"},
      {"elementCode": "SNWD", "storedUnitCode": "in", "beginDate": "1990-10-01 00:00", "endDate": "2020-01-01 00:00"}
    ]
  },
  {
    "stationTriplet": "13010:WY:USGS", "name": "Forecast point", "networkCode": "USGS",
    "latitude": 43.0, "longitude": -110.0, "beginDate": "1950-01-01 00:00", "endDate": "2020-01-01 00:00",
    "forecastPoint": {"forecaster": "x"},
    "stationElements": [{"elementCode": "SRVO", "storedUnitCode": "kac_ft"}]
  }
]`

func TestAWDBDecodeLocations(t *testing.T) {
	snotel := NewAWDB("https://wcc.sc.egov.usda.gov", SNOTEL)
	locs, err := snotel.DecodeLocations([]json.RawMessage{json.RawMessage(awdbStations)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(locs))
	}

	annie := locs[0]
	if annie.ID != "1000:OR:SNTL" || !annie.EndSentinel || annie.LastUpdate != "" {
		t.Fatalf("unexpected station %+v", annie)
	}
	if len(annie.CatalogItems) != 2 || annie.CatalogItems[0].ParameterID != "WTEQ" {
		t.Fatalf("expected duplicate elements to collapse, got %+v", annie.CatalogItems)
	}
	u, _ := url.Parse(annie.CatalogItems[0].URL)
	if u.Path != "/awdbRestApi/services/v1/data" || u.Query().Get("beginDate") != "1979-10-01" || u.Query().Has("endDate") {
		t.Fatalf("unexpected element url %s", u)
	}

	if !snotel.Relevant(annie) || snotel.Relevant(locs[1]) {
		t.Fatal("snotel must keep only SNTL stations")
	}
	forecasts := NewAWDB("https://wcc.sc.egov.usda.gov", Forecasts)
	flocs, _ := forecasts.DecodeLocations([]json.RawMessage{json.RawMessage(awdbStations)})
	if forecasts.Relevant(flocs[0]) || !forecasts.Relevant(flocs[1]) {
		t.Fatal("forecasts must keep only forecast points")
	}
}

func TestAWDBResultURLAndDecode(t *testing.T) {
	a := NewAWDB("https://wcc.sc.egov.usda.gov", SNOTEL)
	ref := hydromet.CatalogItemRef{
		URL:         "https://wcc.sc.egov.usda.gov/awdbRestApi/services/v1/data?beginDate=1979-10-01&elements=WTEQ&stationTriplets=1000%3AOR%3ASNTL",
		ParameterID: "WTEQ",
	}
	if a.ResultURL(ref, nil) != ref.URL {
		t.Fatal("undated result url must be the element url")
	}
	dates, _ := filters.ParseDate("2020-01-01/..")
	u, _ := url.Parse(a.ResultURL(ref, dates))
	if u.Query().Get("beginDate") != "2020-01-01" || u.Query().Has("endDate") {
		t.Fatalf("unexpected dated url %s", u)
	}

	body := json.RawMessage(`[{"stationTriplet":"1000:OR:SNTL","data":[
		{"stationElement":{"elementCode":"WTEQ"},"values":[{"date":"2020-01-01","value":3.2},{"date":"2020-01-02"}]},
		{"stationElement":{"elementCode":"SNWD"},"values":[{"date":"2020-01-01","value":10}]}
	]}]`)
	paramID, rows, err := a.DecodeResult(ref, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paramID != "WTEQ" || len(rows) != 2 || *rows[0].Value != 3.2 || rows[1].Value != nil {
		t.Fatalf("unexpected rows %s %+v", paramID, rows)
	}

	params, err := a.DecodeParameters([]json.RawMessage{json.RawMessage(`{"elements":[
		{"code":"WTEQ","name":"Snow Water Equivalent","physicalElementName":"snow water equivalent","storedUnitCode":"in"}
	]}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 1 || params[0].Description != "snow water equivalent" || params[0].Unit != "in" {
		t.Fatalf("unexpected parameters %+v", params)
	}
}
