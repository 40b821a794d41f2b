package geometry

import (
	"math"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Measure summarizes one planar measure over a set of geometries.
type Measure struct {
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

func (m *Measure) add(v float64) {
	if m.Count == 0 || v < m.Min {
		m.Min = v
	}
	if m.Count == 0 || v > m.Max {
		m.Max = v
	}
	m.Total += v
	m.Count++
	m.Mean = m.Total / float64(m.Count)
}

// Stats describes a collection's geometries. Measures are in units of the
// collection's reference and are only meaningful for projected systems.
type Stats struct {
	Features int            `json:"features"`
	SRID     int            `json:"srid"`
	Types    map[string]int `json:"types"`
	Bounds   *orb.Bound     `json:"bounds,omitempty"`
	Area     *Measure       `json:"area,omitempty"`
	Length   *Measure       `json:"length,omitempty"`
}

// ComputeStats counts geometry types and accumulates bounds, areas of
// polygonal features and lengths of lineal features.
func ComputeStats(c *feature.Collection) Stats {
	s := Stats{
		Features: c.Len(),
		SRID:     c.SRID,
		Types:    make(map[string]int),
	}

	var area, length Measure
	for _, f := range c.Features {
		g := f.Geometry
		if g == nil {
			s.Types["Null"]++
			continue
		}
		s.Types[g.GeoJSONType()]++
		if IsEmpty(g) {
			continue
		}

		b := g.Bound()
		if s.Bounds == nil {
			s.Bounds = &b
		} else {
			u := s.Bounds.Union(b)
			s.Bounds = &u
		}

		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			area.add(math.Abs(planar.Area(g)))
		case orb.LineString, orb.MultiLineString:
			length.add(planar.Length(g))
		}
	}

	if area.Count > 0 {
		s.Area = &area
	}
	if length.Count > 0 {
		s.Length = &length
	}
	return s
}
