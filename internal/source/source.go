// Package source reads vector files into feature collections.
//
// Supported formats are dispatched by file extension: ESRI Shapefile (.shp),
// GeoJSON (.geojson, .json), FlatGeobuf (.fgb) and GeoPackage (.gpkg).
// Readers report the declared SRID, or 0 when the file carries none.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingComponent  = errors.New("missing shapefile component")
)

// Format identifies a supported file format.
type Format string

const (
	FormatShapefile  Format = "shapefile"
	FormatGeoJSON    Format = "geojson"
	FormatFlatGeobuf Format = "flatgeobuf"
	FormatGeoPackage Format = "geopackage"
)

var extensions = map[string]Format{
	".shp":     FormatShapefile,
	".geojson": FormatGeoJSON,
	".json":    FormatGeoJSON,
	".fgb":     FormatFlatGeobuf,
	".gpkg":    FormatGeoPackage,
}

// Options tune how a file is read.
type Options struct {
	// Layer names the GeoPackage table to read. Empty reads the first
	// feature table.
	Layer string
}

type readFunc func(ctx context.Context, path string, opts Options) (*feature.Collection, error)

var readers = map[Format]readFunc{
	FormatShapefile:  readShapefile,
	FormatGeoJSON:    readGeoJSONFile,
	FormatFlatGeobuf: readFlatGeobuf,
	FormatGeoPackage: readGeoPackage,
}

// DetectFormat maps a path to its format by extension, case-insensitively.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Supported reports whether path has a readable extension.
func Supported(path string) bool {
	_, err := DetectFormat(path)
	return err == nil
}

// Read loads the file at path. The collection is named after the file
// without its extension.
func Read(ctx context.Context, path string, opts Options) (*feature.Collection, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	log := logging.WithFields(ctx, "path", path, "format", string(format))
	log.Info("reading source")

	c, err := readers[format](ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}
	if c.Name == "" {
		c.Name = baseName(path)
	}

	log.Info("source read", "features", c.Len(), "srid", c.SRID, "attributes", len(c.AttributeNames()))
	return c, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
