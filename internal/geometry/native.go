package geometry

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/project"
	"github.com/twpayne/go-geos"
	"github.com/twpayne/go-proj/v10"
)

// bufferQuadSegs is the number of segments per quarter circle used by Buffer0.
const bufferQuadSegs = 8

// NativeEngine runs geometry operations in-process through GEOS, and
// reprojection through PROJ. Transformations are cached per SRID pair.
type NativeEngine struct {
	mu         sync.Mutex
	transforms map[[2]int]*proj.PJ
}

// NewNativeEngine returns an engine with an empty transformation cache.
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{transforms: make(map[[2]int]*proj.PJ)}
}

// Close releases cached PROJ transformations.
func (e *NativeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, pj := range e.transforms {
		pj.Destroy()
		delete(e.transforms, key)
	}
}

func (e *NativeEngine) IsValid(_ context.Context, g orb.Geometry) (bool, error) {
	gg, err := toGEOS(g)
	if err != nil {
		return false, err
	}
	defer gg.Destroy()
	return gg.IsValid(), nil
}

// ValidityReason returns GEOS's explanation of why g is invalid.
func (e *NativeEngine) ValidityReason(_ context.Context, g orb.Geometry) string {
	gg, err := toGEOS(g)
	if err != nil {
		return err.Error()
	}
	defer gg.Destroy()
	return gg.IsValidReason()
}

func (e *NativeEngine) Buffer0(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	return apply(g, func(gg *geos.Geom) *geos.Geom { return gg.Buffer(0, bufferQuadSegs) })
}

func (e *NativeEngine) MakeValid(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	return apply(g, func(gg *geos.Geom) *geos.Geom { return gg.MakeValid() })
}

func (e *NativeEngine) Simplify(_ context.Context, g orb.Geometry, tolerance float64) (orb.Geometry, error) {
	return apply(g, func(gg *geos.Geom) *geos.Geom { return gg.TopologyPreserveSimplify(tolerance) })
}

func (e *NativeEngine) Reproject(_ context.Context, g orb.Geometry, from, to int) (orb.Geometry, error) {
	if from == to {
		return g, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pj, err := e.transform(from, to)
	if err != nil {
		return nil, err
	}

	var ferr error
	out := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		if ferr != nil {
			return p
		}
		c, err := pj.Forward(proj.NewCoord(p[0], p[1], 0, 0))
		if err != nil {
			ferr = err
			return p
		}
		return orb.Point{c.X(), c.Y()}
	})
	if ferr != nil {
		return nil, fmt.Errorf("reproject EPSG:%d -> EPSG:%d: %w", from, to, ferr)
	}
	return out, nil
}

// transform returns the cached PJ for the pair. Caller holds e.mu.
func (e *NativeEngine) transform(from, to int) (*proj.PJ, error) {
	key := [2]int{from, to}
	if pj, ok := e.transforms[key]; ok {
		return pj, nil
	}

	pj, err := proj.NewCRSToCRS(epsg(from), epsg(to), nil)
	if err != nil {
		return nil, fmt.Errorf("create transformation EPSG:%d -> EPSG:%d: %w", from, to, err)
	}

	// Force x=easting/longitude, y=northing/latitude whatever the CRS axis order.
	normalized, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, fmt.Errorf("normalize transformation EPSG:%d -> EPSG:%d: %w", from, to, err)
	}

	e.transforms[key] = normalized
	return normalized, nil
}

func epsg(srid int) string {
	return fmt.Sprintf("EPSG:%d", srid)
}

func toGEOS(g orb.Geometry) (*geos.Geom, error) {
	b, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", g.GeoJSONType(), err)
	}
	gg, err := geos.NewGeomFromWKB(b)
	if err != nil {
		return nil, fmt.Errorf("load %s into geos: %w", g.GeoJSONType(), err)
	}
	return gg, nil
}

func fromGEOS(gg *geos.Geom) (orb.Geometry, error) {
	g, err := wkb.Unmarshal(gg.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decode geos result: %w", err)
	}
	return g, nil
}

func apply(g orb.Geometry, op func(*geos.Geom) *geos.Geom) (orb.Geometry, error) {
	gg, err := toGEOS(g)
	if err != nil {
		return nil, err
	}
	defer gg.Destroy()

	res := op(gg)
	if res == nil {
		return nil, fmt.Errorf("geos returned no geometry for %s", g.GeoJSONType())
	}
	defer res.Destroy()

	return fromGEOS(res)
}
