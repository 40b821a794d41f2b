package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"
)

// ErrLayerNotFound is returned when the requested GeoPackage layer is not
// registered in gpkg_geometry_columns.
var ErrLayerNotFound = errors.New("geopackage layer not found")

type gpkgLayer struct {
	table    string
	geometry string
	srsID    int
}

type gpkgColumn struct {
	name string
	pk   bool
}

func readGeoPackage(ctx context.Context, path string, opts Options) (*feature.Collection, error) {
	h, err := gpkg.Open(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	layer, err := findLayer(ctx, h.DB, opts.Layer)
	if err != nil {
		return nil, err
	}
	srid, err := layerSRID(ctx, h.DB, layer.srsID)
	if err != nil {
		return nil, err
	}
	cols, err := tableColumns(ctx, h.DB, layer.table)
	if err != nil {
		return nil, err
	}

	log := logging.WithFields(ctx, "layer", layer.table)
	log.Debug("reading geopackage layer", "geometry_column", layer.geometry, "srs_id", layer.srsID)

	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quoteSQLite(col.name)
	}
	rows, err := h.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), quoteSQLite(layer.table)))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", layer.table, err)
	}
	defer rows.Close()

	c := &feature.Collection{Name: layer.table, SRID: srid}
	for rows.Next() {
		if c.Len()%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		f := feature.New(nil)
		for i, col := range cols {
			switch {
			case col.name == layer.geometry:
				g, err := gpkgGeometry(vals[i])
				if err != nil {
					log.Warn("undecodable geometry", "row", c.Len(), "error", err)
					continue
				}
				f.Geometry = g
			case col.pk:
				// fid is the row key, not an attribute.
			default:
				f.Set(col.name, gpkgValue(vals[i]))
			}
		}
		c.Features = append(c.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func findLayer(ctx context.Context, db *sql.DB, name string) (gpkgLayer, error) {
	query := `SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns`
	var args []any
	if name != "" {
		query += ` WHERE table_name = ?`
		args = append(args, name)
	}

	var l gpkgLayer
	err := db.QueryRowContext(ctx, query+` LIMIT 1`, args...).Scan(&l.table, &l.geometry, &l.srsID)
	if errors.Is(err, sql.ErrNoRows) {
		if name == "" {
			return l, fmt.Errorf("%w: no feature tables", ErrLayerNotFound)
		}
		return l, fmt.Errorf("%w: %s", ErrLayerNotFound, name)
	}
	return l, err
}

// layerSRID resolves srs_id to an EPSG code. The reserved ids 0 and -1
// mean undefined.
func layerSRID(ctx context.Context, db *sql.DB, srsID int) (int, error) {
	if srsID <= 0 {
		return 0, nil
	}
	var srs gpkg.SpatialReferenceSystem
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID,
	).Scan(&srs.Organization, &srs.OrganizationCoordsysID)
	if errors.Is(err, sql.ErrNoRows) {
		return srsID, nil
	}
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(srs.Organization, "EPSG") && srs.OrganizationCoordsysID > 0 {
		return srs.OrganizationCoordsysID, nil
	}
	return srsID, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]gpkgColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []gpkgColumn
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, gpkgColumn{name: name, pk: pk > 0 && strings.EqualFold(ctype, "INTEGER")})
	}
	return cols, rows.Err()
}

func gpkgGeometry(v any) (orb.Geometry, error) {
	b, ok := v.([]byte)
	if !ok || len(b) == 0 {
		return nil, nil
	}
	sb, err := gpkg.DecodeGeometry(b)
	if err != nil {
		return nil, err
	}
	return fromSpatialGeom(sb.Geometry)
}

// fromSpatialGeom converts a go-spatial geometry to orb via WKB.
func fromSpatialGeom(g geom.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	b, err := wkb.EncodeBytes(g)
	if err != nil {
		return nil, err
	}
	return orbwkb.Unmarshal(b)
}

func gpkgValue(v any) feature.Value {
	switch t := v.(type) {
	case []byte:
		return feature.Text(string(t))
	case time.Time:
		return feature.Text(t.Format(time.RFC3339))
	default:
		return feature.FromAny(t)
	}
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
