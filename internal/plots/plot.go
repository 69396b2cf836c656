// Package plots models agricultural plot boundaries and validates the
// features handed over by a plot source.
package plots

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/security"
)

// DateLayout is the layout of every date exchanged with collaborators.
const DateLayout = "2006-01-02"

// SRID of plot geometries (WGS84).
const SRID = 4326

// Plot is a validated plot boundary with its agronomic attributes.
type Plot struct {
	ID             string
	Polygon        *geom.Polygon
	CropType       string
	PlantingDate   time.Time
	HarvestDate    *time.Time
	IrrigationType string
	SoilType       string
	Region         string
	Owner          string
	AreaHectares   *float64
	ElevationM     *float64
}

// Bounds is a WGS84 bounding box.
type Bounds struct {
	MinLon float64 `json:"min_longitude"`
	MaxLon float64 `json:"max_longitude"`
	MinLat float64 `json:"min_latitude"`
	MaxLat float64 `json:"max_latitude"`
}

// Intersects reports whether b and o overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon && b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Bounds returns the bounding box of the plot boundary.
func (p Plot) Bounds() Bounds {
	b := p.Polygon.Bounds()
	return Bounds{MinLon: b.Min(0), MaxLon: b.Max(0), MinLat: b.Min(1), MaxLat: b.Max(1)}
}

// Area returns the declared area, or an equirectangular estimate from the
// boundary when none was supplied.
func (p Plot) Area() float64 {
	if p.AreaHectares != nil {
		return *p.AreaHectares
	}
	const metresPerDegree = 111320.0
	b := p.Bounds()
	lat := (b.MinLat + b.MaxLat) / 2 * math.Pi / 180
	return p.Polygon.Area() * metresPerDegree * metresPerDegree * math.Cos(lat) / 10000
}

// VertexCount is the number of distinct vertices in the outer ring.
func (p Plot) VertexCount() int {
	return p.Polygon.LinearRing(0).NumCoords() - 1
}

// WKT returns the boundary as well-known text.
func (p Plot) WKT() (string, error) {
	return wkt.Marshal(p.Polygon)
}

// GeoJSON returns the boundary as a GeoJSON geometry object.
func (p Plot) GeoJSON() ([]byte, error) {
	return geojson.Marshal(p.Polygon)
}

// EnsureClosed appends the first vertex to any ring whose last vertex
// differs from it.
func EnsureClosed(coords [][]geom.Coord) [][]geom.Coord {
	out := make([][]geom.Coord, len(coords))
	for i, ring := range coords {
		r := append([]geom.Coord(nil), ring...)
		if n := len(r); n > 0 && !r[0].Equal(geom.XY, r[n-1]) {
			r = append(r, r[0].Clone())
		}
		out[i] = r
	}
	return out
}

// ErrInvalidPlot is wrapped by every validation failure.
var ErrInvalidPlot = errors.New("invalid plot")

func invalid(id, format string, args ...any) error {
	err := &procerr.Error{
		Kind:   procerr.KindValidation,
		Op:     "validate plot",
		PlotID: id,
		Err:    fmt.Errorf("%w: "+format, append([]any{ErrInvalidPlot}, args...)...),
	}
	return err
}

// FromFeature validates f and converts it to a Plot. The boundary must be
// a polygon whose outer ring has at least three distinct vertices; an
// unclosed ring is closed. plot_id and planting_date are required.
func FromFeature(f *geojson.Feature) (Plot, error) {
	if f == nil {
		return Plot{}, invalid("", "nil feature")
	}
	props := f.Properties
	id := stringProp(props, "plot_id")
	if id == "" {
		id = f.ID
	}
	if id == "" {
		return Plot{}, invalid("", "missing plot_id")
	}
	if err := security.ValidateSegment(id); err != nil {
		return Plot{}, invalid(id, "plot_id: %v", err)
	}

	poly, ok := f.Geometry.(*geom.Polygon)
	if !ok || poly == nil {
		return Plot{}, invalid(id, "geometry is %T, want Polygon", f.Geometry)
	}
	if poly.NumLinearRings() == 0 {
		return Plot{}, invalid(id, "polygon has no rings")
	}
	coords := EnsureClosed(poly.Coords())
	if distinct := len(coords[0]) - 1; distinct < 3 {
		return Plot{}, invalid(id, "outer ring has %d vertices, need at least 3", distinct)
	}
	closed, err := geom.NewPolygon(geom.XY).SetCoords(flatten2D(coords))
	if err != nil {
		return Plot{}, invalid(id, "polygon: %v", err)
	}
	closed.SetSRID(SRID)

	raw := stringProp(props, "planting_date")
	if raw == "" {
		return Plot{}, invalid(id, "missing planting_date")
	}
	planting, err := time.Parse(DateLayout, raw)
	if err != nil {
		return Plot{}, invalid(id, "planting_date %q: %v", raw, err)
	}

	p := Plot{
		ID:             id,
		Polygon:        closed,
		CropType:       stringProp(props, "crop_type"),
		PlantingDate:   planting,
		IrrigationType: stringProp(props, "irrigation_type"),
		SoilType:       stringProp(props, "soil_type"),
		Region:         stringProp(props, "region"),
		Owner:          stringProp(props, "owner"),
		AreaHectares:   floatProp(props, "area_hectares"),
		ElevationM:     floatProp(props, "elevation_m"),
	}
	if raw := stringProp(props, "harvest_date"); raw != "" {
		harvest, err := time.Parse(DateLayout, raw)
		if err != nil {
			return Plot{}, invalid(id, "harvest_date %q: %v", raw, err)
		}
		if harvest.Before(planting) {
			return Plot{}, invalid(id, "harvest_date %s before planting_date %s", raw, planting.Format(DateLayout))
		}
		p.HarvestDate = &harvest
	}
	return p, nil
}

// Validate rechecks the invariants FromFeature establishes, for plots
// built by hand.
func (p Plot) Validate() error {
	if p.ID == "" {
		return invalid("", "missing plot_id")
	}
	if err := security.ValidateSegment(p.ID); err != nil {
		return invalid(p.ID, "plot_id: %v", err)
	}
	if p.Polygon == nil || p.Polygon.NumLinearRings() == 0 {
		return invalid(p.ID, "missing boundary")
	}
	ring := p.Polygon.LinearRing(0)
	n := ring.NumCoords()
	if n < 4 {
		return invalid(p.ID, "outer ring has %d coordinates, need at least 4", n)
	}
	first, last := ring.Coord(0), ring.Coord(n-1)
	if first.X() != last.X() || first.Y() != last.Y() {
		return invalid(p.ID, "outer ring is not closed")
	}
	if p.PlantingDate.IsZero() {
		return invalid(p.ID, "missing planting_date")
	}
	return nil
}

// flatten2D keeps only X and Y of each coordinate.
func flatten2D(rings [][]geom.Coord) [][]geom.Coord {
	out := make([][]geom.Coord, len(rings))
	for i, ring := range rings {
		out[i] = make([]geom.Coord, len(ring))
		for j, c := range ring {
			out[i][j] = geom.Coord{c.X(), c.Y()}
		}
	}
	return out
}

func stringProp(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func floatProp(props map[string]interface{}, key string) *float64 {
	switch v := props[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}
