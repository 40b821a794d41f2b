package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/lukeroth/gdal"
	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"
)

const shapefileDriver = "ESRI Shapefile"

var errDriverOpen = errors.New("gdal could not open the dataset")

type ogrField struct {
	name string
	typ  gdal.FieldType
}

func readShapefile(ctx context.Context, path string, _ Options) (*feature.Collection, error) {
	report, err := ValidateShapefile(path)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	if len(report.Optional) > 0 {
		log.Warn("shapefile optional components missing", "missing", report.Optional)
	}

	ds, ok := gdal.OGRDriverByName(shapefileDriver).Open(path, 0)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errDriverOpen, path)
	}
	defer ds.Destroy()

	layer := ds.LayerByIndex(0)
	def := layer.Definition()
	fields := make([]ogrField, def.FieldCount())
	for i := range fields {
		fd := def.FieldDefinition(i)
		fields[i] = ogrField{name: fd.Name(), typ: fd.Type()}
	}

	c := &feature.Collection{Name: layer.Name(), SRID: shapefileSRID(ctx, layer.SpatialReference())}
	for i := 0; ; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		of := layer.NextFeature()
		if of == nil {
			break
		}
		f, err := ogrFeature(of, fields)
		of.Destroy()
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		c.Features = append(c.Features, f)
	}
	return c, nil
}

func ogrFeature(of *gdal.Feature, fields []ogrField) (*feature.Feature, error) {
	var g orb.Geometry
	if geo := of.Geometry(); geo != (gdal.Geometry{}) && !geo.IsEmpty() {
		b, err := geo.ToWKB()
		if err != nil {
			return nil, err
		}
		if g, err = orbwkb.Unmarshal(b); err != nil {
			return nil, err
		}
	}

	f := feature.New(g)
	for i, fd := range fields {
		if !of.IsFieldSet(i) {
			f.Set(fd.name, feature.Null())
			continue
		}
		switch fd.typ {
		case gdal.FT_Integer:
			f.Set(fd.name, feature.Int(int64(of.FieldAsInteger(i))))
		case gdal.FT_Integer64:
			f.Set(fd.name, feature.Int(of.FieldAsInteger64(i)))
		case gdal.FT_Real:
			f.Set(fd.name, feature.Float(of.FieldAsFloat64(i)))
		default:
			f.Set(fd.name, feature.Text(of.FieldAsString(i)))
		}
	}
	return f, nil
}

// shapefileSRID reads the EPSG authority code from the .prj definition,
// asking GDAL to identify it when the file carries only WKT.
func shapefileSRID(ctx context.Context, sr gdal.SpatialReference) int {
	if sr == (gdal.SpatialReference{}) {
		return 0
	}
	code, ok := sr.AttrValue("AUTHORITY", 1)
	if !ok {
		if err := sr.AutoIdentifyEPSG(); err != nil {
			logging.FromContext(ctx).Warn("spatial reference has no EPSG code", "error", err)
			return 0
		}
		if code, ok = sr.AttrValue("AUTHORITY", 1); !ok {
			return 0
		}
	}
	srid, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return srid
}
