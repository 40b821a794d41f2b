// Package geometry normalizes the geometries of a feature collection: it
// enforces one spatial reference, repairs invalid shapes and coerces every
// geometry to its multi-part family.
//
// The package never implements geometric algorithms itself. Validity tests,
// buffering, repair, simplification and reprojection are delegated to an
// [Engine]: either [NativeEngine] (GEOS and PROJ linked in-process) or the
// PostGIS-backed engine from the store package.
package geometry

import (
	"context"

	"github.com/paulmach/orb"
)

// Engine is the geometry library the pipeline dispatches to.
type Engine interface {
	// IsValid reports whether g is valid per the simple-feature rules.
	IsValid(ctx context.Context, g orb.Geometry) (bool, error)

	// Buffer0 returns the zero-distance buffer of g.
	Buffer0(ctx context.Context, g orb.Geometry) (orb.Geometry, error)

	// MakeValid returns a valid version of g, possibly of another type.
	MakeValid(ctx context.Context, g orb.Geometry) (orb.Geometry, error)

	// Simplify simplifies g without breaking its topology.
	Simplify(ctx context.Context, g orb.Geometry, tolerance float64) (orb.Geometry, error)

	// Reproject transforms g from SRID from to SRID to.
	Reproject(ctx context.Context, g orb.Geometry, from, to int) (orb.Geometry, error)
}

// IsEmpty reports whether g has no coordinates. A nil geometry is not empty;
// callers treat nil separately.
func IsEmpty(g orb.Geometry) bool {
	switch t := g.(type) {
	case nil:
		return false
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.MultiLineString:
		for _, ls := range t {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(t) == 0
	case orb.Polygon:
		for _, r := range t {
			if len(r) > 0 {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		for _, p := range t {
			if !IsEmpty(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, sub := range t {
			if sub != nil && !IsEmpty(sub) {
				return false
			}
		}
		return true
	case orb.Bound:
		return false
	default:
		return false
	}
}

// IsPolygonal reports whether g is a polygon or multipolygon.
func IsPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}
