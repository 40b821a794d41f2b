package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/perimeterx/marshmallow"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// GeoJSONDefaultSRID applies when a document has no legacy crs member.
const GeoJSONDefaultSRID = 4326

const cancelCheckInterval = 1000

type geojsonDocument struct {
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	CRS      *legacyCRS        `json:"crs"`
	Features []json.RawMessage `json:"features"`
}

// legacyCRS is the pre-RFC 7946 crs member still written by GDAL and QGIS.
type legacyCRS struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type geojsonFeature struct {
	Type       string                                          `json:"type"`
	Geometry   json.RawMessage                                 `json:"geometry"`
	Properties *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties"`
}

func readGeoJSONFile(ctx context.Context, path string, _ Options) (*feature.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGeoJSON(ctx, f)
}

// ReadGeoJSON decodes a GeoJSON FeatureCollection. Attribute order follows
// the first occurrence in the document and integral numbers become Integer
// values. A byte order mark is honoured and stripped; invalid UTF-8 becomes
// U+FFFD.
func ReadGeoJSON(ctx context.Context, r io.Reader) (*feature.Collection, error) {
	data, err := io.ReadAll(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if err != nil {
		return nil, err
	}

	var doc geojsonDocument
	foreign, err := marshmallow.Unmarshal(data, &doc, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	if doc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: geojson type %q, want FeatureCollection", ErrUnsupportedFormat, doc.Type)
	}

	log := logging.FromContext(ctx)
	if len(foreign) > 0 {
		keys := make([]string, 0, len(foreign))
		for k := range foreign {
			keys = append(keys, k)
		}
		log.Debug("ignoring foreign members", "members", keys)
	}

	srid, err := doc.CRS.srid()
	if err != nil {
		return nil, err
	}

	c := &feature.Collection{
		Name:     doc.Name,
		SRID:     srid,
		Features: make([]*feature.Feature, 0, len(doc.Features)),
	}
	for i, raw := range doc.Features {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		f, err := decodeGeoJSONFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		c.Features = append(c.Features, f)
	}
	return c, nil
}

func decodeGeoJSONFeature(raw json.RawMessage) (*feature.Feature, error) {
	var gf geojsonFeature
	if err := json.Unmarshal(raw, &gf); err != nil {
		return nil, err
	}
	if gf.Type != "Feature" {
		return nil, fmt.Errorf("not a feature: type=%s", gf.Type)
	}

	var g orb.Geometry
	if len(gf.Geometry) > 0 && !bytes.Equal(gf.Geometry, []byte("null")) {
		geom, err := geojson.UnmarshalGeometry(gf.Geometry)
		if err != nil {
			return nil, err
		}
		g = geom.Geometry()
	}

	f := feature.New(g)
	if gf.Properties == nil {
		return f, nil
	}
	for pair := gf.Properties.Oldest(); pair != nil; pair = pair.Next() {
		v, err := jsonValue(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", pair.Key, err)
		}
		f.Set(pair.Key, v)
	}
	return f, nil
}

// jsonValue converts a raw JSON scalar. Numbers without a fraction or
// exponent that fit in 64 bits are integers. Objects and arrays are kept as
// their compact JSON text.
func jsonValue(raw json.RawMessage) (feature.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return feature.Null(), nil
	}

	switch raw[0] {
	case 'n':
		return feature.Null(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return feature.Value{}, err
		}
		return feature.Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return feature.Value{}, err
		}
		return feature.Text(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return feature.Value{}, err
		}
		return feature.Text(buf.String()), nil
	}

	s := string(raw)
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return feature.Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return feature.Value{}, fmt.Errorf("invalid number %q", s)
	}
	return feature.Float(f), nil
}

func (c *legacyCRS) srid() (int, error) {
	if c == nil || c.Properties == nil {
		return GeoJSONDefaultSRID, nil
	}

	switch strings.ToLower(c.Type) {
	case "epsg":
		switch code := c.Properties["code"].(type) {
		case float64:
			return int(code), nil
		case string:
			return strconv.Atoi(code)
		}
	case "name":
		if name, ok := c.Properties["name"].(string); ok {
			return sridFromName(name)
		}
	}
	return 0, fmt.Errorf("unrecognized crs member: %v", c.Properties)
}

// sridFromName parses "EPSG:2154", "urn:ogc:def:crs:EPSG::2154" and the
// OGC CRS84 aliases.
func sridFromName(name string) (int, error) {
	upper := strings.ToUpper(name)
	if strings.HasSuffix(upper, "CRS84") {
		return 4326, nil
	}
	if !strings.Contains(upper, "EPSG") {
		return 0, fmt.Errorf("unsupported crs authority: %s", name)
	}
	parts := strings.Split(name, ":")
	code, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("crs %s: %w", name, err)
	}
	return code, nil
}
