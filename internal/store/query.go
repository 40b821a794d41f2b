package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// ErrNoCommuneField is returned when none of the candidate commune fields
// exists in the table.
var ErrNoCommuneField = errors.New("no commune field in table")

// resolveField returns the first candidate that is a column of the table.
func resolveField(ctx context.Context, db DBTX, ident TableIdentity, candidates []string) (string, error) {
	cols, err := existingColumns(ctx, db, ident)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := cols[c]; ok {
			return c, nil
		}
		if name := columnName(c); name != c {
			if _, ok := cols[name]; ok {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%s (tried %s): %w", ident, strings.Join(candidates, ", "), ErrNoCommuneField)
}

// CommuneResult holds the rows of one commune.
type CommuneResult struct {
	Field    string
	Value    string
	Features *geojson.FeatureCollection
}

// QueryByCommune returns the rows whose commune field equals value. fields
// lists the candidate field names in order of preference; the first that
// exists is used. Geometries are read back through ST_AsGeoJSON.
func (s *Store) QueryByCommune(ctx context.Context, ident TableIdentity, value string, fields []string) (*CommuneResult, error) {
	field, err := resolveField(ctx, s.db, ident, fields)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT *, ST_AsGeoJSON(%s) AS geom_geojson FROM %s WHERE CAST(%s AS TEXT) = $1 ORDER BY id`,
		GeometryColumn, ident.Quoted(), quoteIdentifier(field)), value)
	if err != nil {
		return nil, classify(fmt.Errorf("query %s: %w", ident, err))
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		props := geojson.Properties{}
		var geomJSON string
		for i, fd := range descs {
			switch fd.Name {
			case GeometryColumn:
			case "geom_geojson":
				geomJSON, _ = vals[i].(string)
			default:
				props[fd.Name] = vals[i]
			}
		}

		f := &geojson.Feature{Type: "Feature", Properties: props}
		if geomJSON != "" {
			g, err := geojson.UnmarshalGeometry([]byte(geomJSON))
			if err != nil {
				return nil, fmt.Errorf("decode geometry: %w", err)
			}
			f.Geometry = g.Geometry()
		}
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return &CommuneResult{Field: field, Value: value, Features: fc}, nil
}

// CommuneStat summarizes the geometries of one commune.
type CommuneStat struct {
	Commune        string  `json:"commune"`
	Count          int64   `json:"count"`
	TotalArea      float64 `json:"total_area"`
	AvgArea        float64 `json:"avg_area"`
	MinArea        float64 `json:"min_area"`
	MaxArea        float64 `json:"max_area"`
	TotalPerimeter float64 `json:"total_perimeter"`
	Hectares       float64 `json:"hectares"`
}

// CommuneStatistics aggregates area and perimeter per commune, in the
// table's units. A non-empty commune restricts the result to it.
func (s *Store) CommuneStatistics(ctx context.Context, ident TableIdentity, commune string, fields []string) ([]CommuneStat, error) {
	field, err := resolveField(ctx, s.db, ident, fields)
	if err != nil {
		return nil, err
	}

	col := fmt.Sprintf("CAST(%s AS TEXT)", quoteIdentifier(field))
	var where string
	var args []any
	if commune != "" {
		where = "WHERE " + col + " = $1"
		args = append(args, commune)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %[1]s,
			COUNT(*),
			COALESCE(SUM(ST_Area(%[2]s)), 0),
			COALESCE(AVG(ST_Area(%[2]s)), 0),
			COALESCE(MIN(ST_Area(%[2]s)), 0),
			COALESCE(MAX(ST_Area(%[2]s)), 0),
			COALESCE(SUM(ST_Perimeter(%[2]s)), 0)
		FROM %[3]s %[4]s
		GROUP BY 1 ORDER BY 1`,
		col, GeometryColumn, ident.Quoted(), where), args...)
	if err != nil {
		return nil, classify(fmt.Errorf("commune statistics %s: %w", ident, err))
	}
	defer rows.Close()

	var stats []CommuneStat
	for rows.Next() {
		var st CommuneStat
		var name *string
		if err := rows.Scan(&name, &st.Count, &st.TotalArea, &st.AvgArea,
			&st.MinArea, &st.MaxArea, &st.TotalPerimeter); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		if name != nil {
			st.Commune = *name
		}
		st.Hectares = st.TotalArea / 10000
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
