package geometry

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
)

// EncodeHexWKB renders g as "SRID=<srid>;<hex wkb>". The PostGIS geometry
// input function accepts this form directly, so it is sent as a text
// parameter cast to geometry.
func EncodeHexWKB(g orb.Geometry, srid int) (string, error) {
	if g == nil {
		return "", fmt.Errorf("encode: nil geometry")
	}
	h, err := wkb.MarshalToHex(g)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", g.GeoJSONType(), err)
	}
	return "SRID=" + strconv.Itoa(srid) + ";" + h, nil
}

// DecodeHexWKB parses the output of EncodeHexWKB.
func DecodeHexWKB(s string) (orb.Geometry, int, error) {
	prefix, h, ok := strings.Cut(s, ";")
	if !ok || !strings.HasPrefix(prefix, "SRID=") {
		return nil, 0, fmt.Errorf("decode: missing SRID prefix")
	}
	srid, err := strconv.Atoi(strings.TrimPrefix(prefix, "SRID="))
	if err != nil {
		return nil, 0, fmt.Errorf("decode SRID: %w", err)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, 0, fmt.Errorf("decode hex: %w", err)
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, 0, fmt.Errorf("decode geometry: %w", err)
	}
	return g, srid, nil
}

// EncodeEWKB returns extended WKB carrying the SRID in the header.
func EncodeEWKB(g orb.Geometry, srid int) ([]byte, error) {
	return ewkb.Marshal(g, srid)
}

// DecodeEWKB parses extended WKB, the form PostGIS returns for geometry
// values selected in binary.
func DecodeEWKB(b []byte) (orb.Geometry, int, error) {
	return ewkb.Unmarshal(b)
}
