package geometry

import (
	"context"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/paulmach/orb"
)

// ToMulti promotes a single-part geometry to its multi-part family.
// Multi geometries, collections and nil pass through unchanged.
func ToMulti(g orb.Geometry) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return orb.MultiPoint{t}
	case orb.LineString:
		return orb.MultiLineString{t}
	case orb.Polygon:
		return orb.MultiPolygon{t}
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{t}}
	case orb.Bound:
		return orb.MultiPolygon{t.ToPolygon()}
	default:
		return g
	}
}

// Coerce promotes every non-empty geometry of c in place and returns how many
// were changed.
func Coerce(ctx context.Context, c *feature.Collection) int {
	n := 0
	for _, f := range c.Features {
		if f.Geometry == nil || IsEmpty(f.Geometry) {
			continue
		}
		before := f.Geometry.GeoJSONType()
		f.Geometry = ToMulti(f.Geometry)
		if f.Geometry.GeoJSONType() != before {
			n++
		}
	}
	logging.FromContext(ctx).Debug("geometries coerced to multi", "count", n)
	return n
}

// IsCanonical reports whether g is nil or already in a multi family or a
// collection.
func IsCanonical(g orb.Geometry) bool {
	switch g.(type) {
	case nil, orb.MultiPoint, orb.MultiLineString, orb.MultiPolygon, orb.Collection:
		return true
	default:
		return false
	}
}

// ColumnType returns the PostGIS geometry type name for g after coercion.
// It is "Geometry" for nil and collections.
func ColumnType(g orb.Geometry) string {
	switch ToMulti(g).(type) {
	case orb.MultiPoint:
		return "MultiPoint"
	case orb.MultiLineString:
		return "MultiLineString"
	case orb.MultiPolygon:
		return "MultiPolygon"
	default:
		return "Geometry"
	}
}
