package source

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

// ErrNoSpatialIndex is returned for FlatGeobuf files written without the
// packed R-tree, which the reader needs to enumerate features.
var ErrNoSpatialIndex = errors.New("flatgeobuf file has no spatial index")

type fgbColumn struct {
	name string
	typ  flattypes.ColumnType
}

// fgbGeometry is a decoded copy of a flattypes.Geometry table.
type fgbGeometry struct {
	typ   flattypes.GeometryType
	xy    []float64
	ends  []uint32
	parts []fgbGeometry
}

func readFlatGeobuf(ctx context.Context, path string, _ Options) (*feature.Collection, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, err
	}
	h := fgb.Header()
	if h == nil {
		return nil, errors.New("flatgeobuf header missing")
	}

	c := &feature.Collection{Name: string(h.Name()), SRID: fgbSRID(ctx, h)}
	if h.FeaturesCount() == 0 {
		return c, nil
	}
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoSpatialIndex
	}

	minX, minY, maxX, maxY := -math.MaxFloat64, -math.MaxFloat64, math.MaxFloat64, math.MaxFloat64
	if h.EnvelopeLength() >= 4 {
		minX, minY, maxX, maxY = h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)
	}
	found, err := fgb.Search(minX, minY, maxX, maxY)
	if err != nil {
		return nil, err
	}

	cols := fgbColumns(h)
	headerType := h.GeometryType()
	c.Features = make([]*feature.Feature, 0, len(found))
	for i, ff := range found {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if ff == nil {
			continue
		}

		var g orb.Geometry
		var raw flattypes.Geometry
		if ff.Geometry(&raw) != nil {
			if g, err = readFGBGeometry(&raw).orb(headerType); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}

		f := feature.New(g)
		props := make([]byte, ff.PropertiesLength())
		for j := range props {
			props[j] = ff.Properties(j)
		}
		if err := decodeFGBProperties(props, cols, f); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		c.Features = append(c.Features, f)
	}
	return c, nil
}

func fgbSRID(ctx context.Context, h *flattypes.Header) int {
	var crs flattypes.Crs
	if h.Crs(&crs) == nil {
		return 0
	}
	org := string(crs.Org())
	if org != "" && !strings.EqualFold(org, "EPSG") {
		logging.FromContext(ctx).Warn("ignoring non-EPSG crs", "org", org, "code", crs.Code())
		return 0
	}
	return int(crs.Code())
}

func fgbColumns(h *flattypes.Header) []fgbColumn {
	cols := make([]fgbColumn, 0, h.ColumnsLength())
	for i := 0; i < h.ColumnsLength(); i++ {
		var col flattypes.Column
		if h.Columns(&col, i) {
			cols = append(cols, fgbColumn{name: string(col.Name()), typ: col.Type()})
		}
	}
	return cols
}

func readFGBGeometry(g *flattypes.Geometry) fgbGeometry {
	out := fgbGeometry{typ: g.Type()}
	if n := g.XyLength(); n > 0 {
		out.xy = make([]float64, n)
		for i := range out.xy {
			out.xy[i] = g.Xy(i)
		}
	}
	if n := g.EndsLength(); n > 0 {
		out.ends = make([]uint32, n)
		for i := range out.ends {
			out.ends[i] = g.Ends(i)
		}
	}
	for i := 0; i < g.PartsLength(); i++ {
		var part flattypes.Geometry
		if g.Parts(&part, i) {
			out.parts = append(out.parts, readFGBGeometry(&part))
		}
	}
	return out
}

// orb converts the geometry. Features only carry their own type when the
// header declares Unknown, so the header type is the fallback.
func (g fgbGeometry) orb(fallback flattypes.GeometryType) (orb.Geometry, error) {
	typ := g.typ
	if typ == flattypes.GeometryTypeUnknown {
		typ = fallback
	}

	switch typ {
	case flattypes.GeometryTypePoint:
		if len(g.xy) < 2 {
			return nil, nil
		}
		return orb.Point{g.xy[0], g.xy[1]}, nil
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(g.points(0, len(g.xy)/2)), nil
	case flattypes.GeometryTypeLineString:
		return orb.LineString(g.points(0, len(g.xy)/2)), nil
	case flattypes.GeometryTypeMultiLineString:
		var mls orb.MultiLineString
		for _, r := range g.rings() {
			mls = append(mls, orb.LineString(r))
		}
		return mls, nil
	case flattypes.GeometryTypePolygon:
		return g.polygon(), nil
	case flattypes.GeometryTypeMultiPolygon:
		if len(g.parts) == 0 {
			return orb.MultiPolygon{g.polygon()}, nil
		}
		mp := make(orb.MultiPolygon, 0, len(g.parts))
		for _, p := range g.parts {
			mp = append(mp, p.polygon())
		}
		return mp, nil
	case flattypes.GeometryTypeGeometryCollection:
		coll := make(orb.Collection, 0, len(g.parts))
		for _, p := range g.parts {
			child, err := p.orb(flattypes.GeometryTypeUnknown)
			if err != nil {
				return nil, err
			}
			if child != nil {
				coll = append(coll, child)
			}
		}
		return coll, nil
	}
	return nil, fmt.Errorf("unsupported flatgeobuf geometry type %s", flattypes.EnumNamesGeometryType[typ])
}

func (g fgbGeometry) points(from, to int) []orb.Point {
	pts := make([]orb.Point, 0, to-from)
	for i := from; i < to && 2*i+1 < len(g.xy); i++ {
		pts = append(pts, orb.Point{g.xy[2*i], g.xy[2*i+1]})
	}
	return pts
}

// rings splits xy at the ends offsets. No ends means one ring.
func (g fgbGeometry) rings() [][]orb.Point {
	n := len(g.xy) / 2
	if len(g.ends) == 0 {
		if n == 0 {
			return nil
		}
		return [][]orb.Point{g.points(0, n)}
	}
	out := make([][]orb.Point, 0, len(g.ends))
	start := 0
	for _, end := range g.ends {
		out = append(out, g.points(start, int(end)))
		start = int(end)
	}
	return out
}

func (g fgbGeometry) polygon() orb.Polygon {
	var poly orb.Polygon
	for _, r := range g.rings() {
		poly = append(poly, orb.Ring(r))
	}
	return poly
}

// decodeFGBProperties reads the property buffer: a little-endian uint16
// column index followed by the value. Strings, JSON, date-times and binary
// values carry a uint32 length prefix. Absent columns are set to null so
// every feature shares the header's attribute set.
func decodeFGBProperties(buf []byte, cols []fgbColumn, f *feature.Feature) error {
	for _, col := range cols {
		f.Set(col.name, feature.Null())
	}

	for off := 0; off < len(buf); {
		if off+2 > len(buf) {
			return errors.New("truncated property index")
		}
		idx := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if idx >= len(cols) {
			return fmt.Errorf("property column %d out of range", idx)
		}
		col := cols[idx]

		v, n, err := decodeFGBValue(buf[off:], col.typ)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.name, err)
		}
		off += n
		f.Set(col.name, v)
	}
	return nil
}

func decodeFGBValue(b []byte, typ flattypes.ColumnType) (feature.Value, int, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("truncated %s value", flattypes.EnumNamesColumnType[typ])
		}
		return nil
	}

	switch typ {
	case flattypes.ColumnTypeBool:
		if err := need(1); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Bool(b[0] != 0), 1, nil
	case flattypes.ColumnTypeByte:
		if err := need(1); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(int8(b[0]))), 1, nil
	case flattypes.ColumnTypeUByte:
		if err := need(1); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(b[0])), 1, nil
	case flattypes.ColumnTypeShort:
		if err := need(2); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(int16(binary.LittleEndian.Uint16(b)))), 2, nil
	case flattypes.ColumnTypeUShort:
		if err := need(2); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(binary.LittleEndian.Uint16(b))), 2, nil
	case flattypes.ColumnTypeInt:
		if err := need(4); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(int32(binary.LittleEndian.Uint32(b)))), 4, nil
	case flattypes.ColumnTypeUInt:
		if err := need(4); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(binary.LittleEndian.Uint32(b))), 4, nil
	case flattypes.ColumnTypeLong:
		if err := need(8); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Int(int64(binary.LittleEndian.Uint64(b))), 8, nil
	case flattypes.ColumnTypeULong:
		if err := need(8); err != nil {
			return feature.Value{}, 0, err
		}
		u := binary.LittleEndian.Uint64(b)
		if u > math.MaxInt64 {
			return feature.Float(float64(u)), 8, nil
		}
		return feature.Int(int64(u)), 8, nil
	case flattypes.ColumnTypeFloat:
		if err := need(4); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Float(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), 4, nil
	case flattypes.ColumnTypeDouble:
		if err := need(8); err != nil {
			return feature.Value{}, 0, err
		}
		return feature.Float(math.Float64frombits(binary.LittleEndian.Uint64(b))), 8, nil
	case flattypes.ColumnTypeString, flattypes.ColumnTypeJson, flattypes.ColumnTypeDateTime, flattypes.ColumnTypeBinary:
		if err := need(4); err != nil {
			return feature.Value{}, 0, err
		}
		n := int(binary.LittleEndian.Uint32(b))
		if err := need(4 + n); err != nil {
			return feature.Value{}, 0, err
		}
		data := b[4 : 4+n]
		if typ == flattypes.ColumnTypeBinary {
			return feature.Text(hex.EncodeToString(data)), 4 + n, nil
		}
		return feature.Text(string(data)), 4 + n, nil
	}
	return feature.Value{}, 0, fmt.Errorf("unsupported column type %d", typ)
}
