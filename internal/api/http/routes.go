package httpapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"

	"github.com/i474232898/hydromet-edr/internal/common"
	"github.com/i474232898/hydromet-edr/internal/filters"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
	"github.com/i474232898/hydromet-edr/internal/render"
)

var validate = validator.New()

const (
	contentTypeGeoJSON      = "application/geo+json"
	contentTypeCoverageJSON = "application/prs.coverage+json"
)

// Collection is one queryable source as seen by the HTTP layer.
type Collection interface {
	Name() string
	Title() string
	Items(ctx context.Context, q hydromet.ItemsQuery) (hydromet.Catalog, error)
	Locations(ctx context.Context, q hydromet.EDRQuery) (hydromet.EDRResult, error)
	Cube(ctx context.Context, q hydromet.EDRQuery) (hydromet.EDRResult, error)
	Area(ctx context.Context, q hydromet.EDRQuery) (hydromet.EDRResult, error)
	ResetCache(ctx context.Context) error
}

// RegisterRoutes wires the OGC API Features and EDR handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, collections []Collection) {
	byName := make(map[string]Collection, len(collections))
	for _, c := range collections {
		byName[c.Name()] = c
	}
	lookup := func(c *fiber.Ctx) (Collection, error) {
		col, ok := byName[c.Params("source")]
		if !ok {
			return nil, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown collection %q", c.Params("source")))
		}
		return col, nil
	}

	app.Get("/collections", func(c *fiber.Ctx) error {
		list := make([]fiber.Map, 0, len(collections))
		for _, col := range collections {
			list = append(list, describe(col))
		}
		return c.JSON(fiber.Map{"collections": list})
	})

	col := app.Group("/collections/:source")

	col.Get("/", func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		return c.JSON(describe(source))
	})

	items := func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		var req itemsQuery
		if err := req.bind(c); err != nil {
			return err
		}

		catalog, err := source.Items(c.UserContext(), req.toQuery(c.Params("itemId")))
		if err != nil {
			return err
		}

		opts := req.renderOptions()
		if id := c.Params("itemId"); id != "" {
			locs := catalog.Locations()
			if len(locs) == 0 {
				return fmt.Errorf("%w: item %s does not match the query", hydromet.ErrNotFound, id)
			}
			return c.JSON(render.ToFeature(locs[0], opts), contentTypeGeoJSON)
		}
		return c.JSON(render.ToFeatureCollection(catalog.Locations(), opts), contentTypeGeoJSON)
	}
	col.Get("/items", items)
	col.Get("/items/:itemId", items)

	locations := func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		var req edrQuery
		if err := req.bind(c); err != nil {
			return err
		}
		q := req.toQuery()
		q.LocationID = c.Params("locationId")

		res, err := source.Locations(c.UserContext(), q)
		if err != nil {
			return err
		}
		return writeEDR(c, res)
	}
	col.Get("/locations", locations)
	col.Get("/locations/:locationId", locations)

	col.Get("/cube", func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		var req edrQuery
		if err := req.bind(c); err != nil {
			return err
		}
		if c.Query("bbox") == "" {
			return fiber.NewError(fiber.StatusBadRequest, "bbox is required")
		}
		geom, zRange, err := filters.ParseBBox(common.SplitList(c.Query("bbox")))
		if err != nil {
			return err
		}
		q := req.toQuery()
		q.Geometry = geom
		if zRange != "" && q.Z == nil {
			if q.Z, err = filters.ParseZ(zRange); err != nil {
				return err
			}
		}

		res, err := source.Cube(c.UserContext(), q)
		if err != nil {
			return err
		}
		return writeEDR(c, res)
	})

	col.Get("/area", func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		var req edrQuery
		if err := req.bind(c); err != nil {
			return err
		}
		if c.Query("coords") == "" {
			return fiber.NewError(fiber.StatusBadRequest, "coords is required")
		}
		geom, err := filters.ParseWKT(c.Query("coords"))
		if err != nil {
			return err
		}
		q := req.toQuery()
		q.Geometry = geom

		res, err := source.Area(c.UserContext(), q)
		if err != nil {
			return err
		}
		return writeEDR(c, res)
	})

	col.Delete("/cache", func(c *fiber.Ctx) error {
		source, err := lookup(c)
		if err != nil {
			return err
		}
		if err := source.ResetCache(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func describe(col Collection) fiber.Map {
	base := "/collections/" + col.Name()
	return fiber.Map{
		"id":       col.Name(),
		"title":    col.Title(),
		"itemType": "feature",
		"crs":      []string{"http://www.opengis.net/def/crs/OGC/1.3/CRS84"},
		"links": []fiber.Map{
			{"rel": "items", "type": contentTypeGeoJSON, "href": base + "/items"},
		},
		"data_queries": fiber.Map{
			"locations": fiber.Map{"link": fiber.Map{"href": base + "/locations", "rel": "data"}},
			"cube":      fiber.Map{"link": fiber.Map{"href": base + "/cube", "rel": "data"}},
			"area":      fiber.Map{"link": fiber.Map{"href": base + "/area", "rel": "data"}},
		},
	}
}

func writeEDR(c *fiber.Ctx, res hydromet.EDRResult) error {
	if res.GeoJSON {
		return c.JSON(render.ToFeatureCollection(res.Catalog.Locations(), render.GeoJSONOptions{}), contentTypeGeoJSON)
	}
	return c.JSON(render.ToCoverageCollection(res.Records, res.Parameters), contentTypeCoverageJSON)
}

// itemsReserved are the OAF query keys that are not property filters.
var itemsReserved = map[string]bool{
	"f": true, "lang": true, "bbox": true, "bbox-crs": true, "datetime": true,
	"limit": true, "offset": true, "properties": true, "parameter-name": true,
	"sortby": true, "skipGeometry": true, "resulttype": true,
}

// itemsQuery holds the query parameters of an OAF items request.
type itemsQuery struct {
	BBox          orb.Geometry
	Z             *filters.ZFilter
	Dates         *filters.DateRange
	Properties    []string
	ParameterName []string
	SortBy        []render.SortKey
	SkipGeometry  bool
	ResultType    string `validate:"omitempty,oneof=results hits"`
	Limit         int    `validate:"min=0,max=10000"`
	Offset        int    `validate:"min=0"`
	Filters       map[string]string
}

func (q *itemsQuery) bind(c *fiber.Ctx) error {
	var (
		zRange string
		err    error
	)
	if q.BBox, zRange, err = filters.ParseBBox(common.SplitList(c.Query("bbox"))); err != nil {
		return err
	}
	if q.Z, err = filters.ParseZ(zRange); err != nil {
		return err
	}
	if q.Dates, err = filters.ParseDate(c.Query("datetime")); err != nil {
		return err
	}
	if q.Limit, err = queryInt(c, "limit", 10); err != nil {
		return err
	}
	if q.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}

	q.Properties = common.SplitList(c.Query("properties"))
	q.ParameterName = common.SplitList(c.Query("parameter-name"))
	q.SortBy = render.ParseSortBy(c.Query("sortby"))
	q.SkipGeometry = strings.EqualFold(c.Query("skipGeometry"), "true")
	q.ResultType = c.Query("resulttype")

	for k, v := range c.Queries() {
		if !itemsReserved[k] {
			if q.Filters == nil {
				q.Filters = make(map[string]string)
			}
			q.Filters[k] = v
		}
	}

	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (q *itemsQuery) toQuery(itemID string) hydromet.ItemsQuery {
	return hydromet.ItemsQuery{
		ItemID:           itemID,
		BBox:             q.BBox,
		Z:                q.Z,
		Dates:            q.Dates,
		SelectProperties: q.ParameterName,
		Properties:       q.Filters,
		Offset:           q.Offset,
		Limit:            q.Limit,
	}
}

func (q *itemsQuery) renderOptions() render.GeoJSONOptions {
	return render.GeoJSONOptions{
		SkipGeometry:     q.SkipGeometry,
		SelectProperties: q.Properties,
		SortBy:           q.SortBy,
		Hits:             q.ResultType == "hits",
	}
}

// edrQuery holds the query parameters shared by EDR requests.
type edrQuery struct {
	Z             *filters.ZFilter
	Dates         *filters.DateRange
	ParameterName []string
	CRS           string
	Format        string `validate:"omitempty,oneof=json geojson covjson coveragejson"`
}

func (q *edrQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Z, err = filters.ParseZ(c.Query("z")); err != nil {
		return err
	}
	if q.Dates, err = filters.ParseDate(c.Query("datetime")); err != nil {
		return err
	}
	q.ParameterName = common.SplitList(c.Query("parameter-name"))
	q.CRS = c.Query("crs")
	q.Format = strings.ToLower(c.Query("f"))

	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (q *edrQuery) toQuery() hydromet.EDRQuery {
	return hydromet.EDRQuery{
		Z:            q.Z,
		Dates:        q.Dates,
		ParameterIDs: q.ParameterName,
		CRS:          q.CRS,
		Format:       q.Format,
	}
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer but got %q", filters.ErrInvalidInput, key, raw)
	}
	return n, nil
}
