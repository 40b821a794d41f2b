package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/paulmach/orb"
)

// PostGISEngine implements geometry.Engine by round-tripping each geometry
// through the database. It needs no GEOS or PROJ on the loader host.
type PostGISEngine struct {
	db DBTX
}

var _ geometry.Engine = (*PostGISEngine)(nil)

// NewPostGISEngine returns an engine that runs on db.
func NewPostGISEngine(db DBTX) *PostGISEngine {
	return &PostGISEngine{db: db}
}

// Engine returns a PostGIS engine sharing the store's pool.
func (s *Store) Engine() *PostGISEngine {
	return NewPostGISEngine(s.db)
}

// encode tags g with srid. Only Reproject needs a real SRID; the other
// operations send 0.
func (e *PostGISEngine) encode(g orb.Geometry, srid int) (string, error) {
	return geometry.EncodeHexWKB(g, srid)
}

func (e *PostGISEngine) IsValid(ctx context.Context, g orb.Geometry) (bool, error) {
	in, err := e.encode(g, 0)
	if err != nil {
		return false, err
	}
	var valid bool
	if err := e.db.QueryRow(ctx, `SELECT ST_IsValid($1::text::geometry)`, in).Scan(&valid); err != nil {
		return false, classify(fmt.Errorf("ST_IsValid: %w", err))
	}
	return valid, nil
}

// ValidityReason returns ST_IsValidReason, or "" when it cannot be computed.
func (e *PostGISEngine) ValidityReason(ctx context.Context, g orb.Geometry) string {
	in, err := e.encode(g, 0)
	if err != nil {
		return ""
	}
	var reason string
	if err := e.db.QueryRow(ctx, `SELECT ST_IsValidReason($1::text::geometry)`, in).Scan(&reason); err != nil {
		return ""
	}
	return reason
}

func (e *PostGISEngine) Buffer0(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	return e.transform(ctx, `SELECT ST_AsEWKB(ST_Buffer($1::text::geometry, 0))`, g, 0)
}

func (e *PostGISEngine) MakeValid(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	return e.transform(ctx, `SELECT ST_AsEWKB(ST_MakeValid($1::text::geometry))`, g, 0)
}

func (e *PostGISEngine) Simplify(ctx context.Context, g orb.Geometry, tolerance float64) (orb.Geometry, error) {
	return e.transform(ctx, `SELECT ST_AsEWKB(ST_SimplifyPreserveTopology($1::text::geometry, $2))`, g, 0, tolerance)
}

func (e *PostGISEngine) Reproject(ctx context.Context, g orb.Geometry, from, to int) (orb.Geometry, error) {
	if from == to {
		return g, nil
	}
	return e.transform(ctx, `SELECT ST_AsEWKB(ST_Transform($1::text::geometry, $2::integer))`, g, from, to)
}

func (e *PostGISEngine) transform(ctx context.Context, query string, g orb.Geometry, srid int, args ...any) (orb.Geometry, error) {
	in, err := e.encode(g, srid)
	if err != nil {
		return nil, err
	}

	var out []byte
	if err := e.db.QueryRow(ctx, query, append([]any{in}, args...)...).Scan(&out); err != nil {
		return nil, classify(fmt.Errorf("postgis: %w", err))
	}
	if out == nil {
		return nil, nil
	}

	res, _, err := geometry.DecodeEWKB(out)
	if err != nil {
		return nil, err
	}
	return res, nil
}
