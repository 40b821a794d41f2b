package geometry

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
)

// fakeEngine lets tests decide which geometries are invalid and what each
// repair step returns. Unset hooks behave as identity.
type fakeEngine struct {
	invalid    func(orb.Geometry) bool
	buffer     func(orb.Geometry) orb.Geometry
	makeValid  func(orb.Geometry) orb.Geometry
	shift      orb.Point
	failOn     int
	reprojects int
	calls      map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{calls: make(map[string]int), failOn: -1}
}

func (e *fakeEngine) IsValid(_ context.Context, g orb.Geometry) (bool, error) {
	e.calls["IsValid"]++
	if e.invalid != nil && e.invalid(g) {
		return false, nil
	}
	return true, nil
}

func (e *fakeEngine) Buffer0(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	e.calls["Buffer0"]++
	if e.buffer != nil {
		return e.buffer(g), nil
	}
	return g, nil
}

func (e *fakeEngine) MakeValid(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	e.calls["MakeValid"]++
	if e.makeValid != nil {
		return e.makeValid(g), nil
	}
	return g, nil
}

func (e *fakeEngine) Simplify(_ context.Context, g orb.Geometry, _ float64) (orb.Geometry, error) {
	e.calls["Simplify"]++
	return g, nil
}

func (e *fakeEngine) Reproject(_ context.Context, g orb.Geometry, _, _ int) (orb.Geometry, error) {
	e.calls["Reproject"]++
	if e.reprojects == e.failOn {
		return nil, errors.New("transform failed")
	}
	e.reprojects++

	out := orb.Clone(g)
	switch t := out.(type) {
	case orb.Polygon:
		for _, r := range t {
			for i := range r {
				r[i] = orb.Point{r[i][0] + e.shift[0], r[i][1] + e.shift[1]}
			}
		}
	case orb.Point:
		out = orb.Point{t[0] + e.shift[0], t[1] + e.shift[1]}
	}
	return out, nil
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// bowtie is self-intersecting; its first vertex marks it for fakeEngine.
func bowtie() orb.Polygon {
	return orb.Polygon{{
		{100, 100}, {110, 110}, {110, 100}, {100, 110}, {100, 100},
	}}
}

func isBowtie(g orb.Geometry) bool {
	p, ok := g.(orb.Polygon)
	return ok && len(p) > 0 && len(p[0]) > 0 && p[0][0] == orb.Point{100, 100}
}
