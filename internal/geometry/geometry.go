// Package geometry provides pure validation, repair, and measurement
// helpers over plot polygons. All functions go through GEOS so the
// results match what PostGIS reports for the same geometry.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geos"

	"github.com/landhub-tz/backend/internal/models"
)

// ErrInvalidGeometry is returned when a polygon cannot be made valid.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Rough WGS84 degrees to meters conversion used for ground-area
// estimates. One degree is approximately 111 km at the equator.
const metersPerDegree = 111000.0

// Validate checks that the polygon parses and is a valid, non-empty
// geometry. On failure it returns ErrInvalidGeometry wrapped with the
// GEOS invalidity reason.
func Validate(p *models.Polygon) error {
	g, err := toGeos(p)
	if err != nil {
		return err
	}
	defer g.Destroy()

	if g.IsEmpty() {
		return fmt.Errorf("%w: empty polygon", ErrInvalidGeometry)
	}
	if !g.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidGeometry, g.IsValidReason())
	}
	if g.Area() <= 0 {
		return fmt.Errorf("%w: zero area", ErrInvalidGeometry)
	}
	return nil
}

// Repair returns a valid version of the polygon. Already-valid input is
// returned unchanged. Self-intersecting input goes through a zero-width
// buffer fix-up, then MakeValid as a fallback. If neither produces a
// valid polygon with positive area, ErrInvalidGeometry is returned.
func Repair(p *models.Polygon) (*models.Polygon, error) {
	g, err := toGeos(p)
	if err != nil {
		return nil, err
	}
	defer g.Destroy()

	if g.IsValid() && !g.IsEmpty() && g.Area() > 0 {
		return p, nil
	}

	fixed := g.Buffer(0, 8)
	if fixed != nil && !repaired(fixed) {
		fixed.Destroy()
		fixed = nil
	}
	if fixed == nil {
		fixed = g.MakeValid()
		if fixed != nil && !repaired(fixed) {
			fixed.Destroy()
			fixed = nil
		}
	}
	if fixed == nil {
		return nil, fmt.Errorf("%w: unrepairable polygon", ErrInvalidGeometry)
	}
	defer fixed.Destroy()

	return fromGeos(fixed)
}

// GroundArea estimates the polygon's area in square meters from its
// geographic coordinates. The degree-to-meter conversion is a flat
// approximation, kept for parity with the stored AREA attribute scale.
func GroundArea(p *models.Polygon) (float64, error) {
	g, err := toGeos(p)
	if err != nil {
		return 0, err
	}
	defer g.Destroy()

	return g.Area() * metersPerDegree * metersPerDegree, nil
}

// repaired reports whether a fix-up produced a usable polygonal geometry.
func repaired(g *geos.Geom) bool {
	if g.IsEmpty() || !g.IsValid() || g.Area() <= 0 {
		return false
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return true
	}
	return false
}

// toGeos parses the polygon's GeoJSON representation into a GEOS geometry.
func toGeos(p *models.Polygon) (*geos.Geom, error) {
	if p == nil || len(p.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: missing coordinates", ErrInvalidGeometry)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon: %w", err)
	}
	g, err := geos.NewGeomFromGeoJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	return g, nil
}

// fromGeos converts a GEOS geometry back into a Polygon. MultiPolygon
// output from a repair collapses to its largest component ring set.
func fromGeos(g *geos.Geom) (*models.Polygon, error) {
	src := g
	if g.TypeID() == geos.TypeIDMultiPolygon {
		largest := g.Geometry(0)
		for i := 1; i < g.NumGeometries(); i++ {
			if part := g.Geometry(i); part.Area() > largest.Area() {
				largest = part
			}
		}
		src = largest
	}

	var out models.Polygon
	if err := json.Unmarshal([]byte(src.ToGeoJSON(-1)), &out); err != nil {
		return nil, fmt.Errorf("failed to decode repaired polygon: %w", err)
	}
	return &out, nil
}
