package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	requiredShapefileParts = []string{".shp", ".shx", ".dbf"}
	optionalShapefileParts = []string{".prj", ".cpg"}
)

// ValidationReport lists the files that make up a source.
type ValidationReport struct {
	Path     string   `json:"path"`
	Format   Format   `json:"format"`
	Present  []string `json:"present"`
	Missing  []string `json:"missing,omitempty"`
	Optional []string `json:"optional_missing,omitempty"`
}

// OK reports whether every required component exists.
func (r *ValidationReport) OK() bool {
	return len(r.Missing) == 0
}

// Validate checks that path is a supported, readable source. Shapefiles
// are checked for their sidecar files.
func Validate(path string) (*ValidationReport, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatShapefile {
		return ValidateShapefile(path)
	}

	r := &ValidationReport{Path: path, Format: format}
	if _, err := os.Stat(path); err != nil {
		r.Missing = append(r.Missing, filepath.Base(path))
		return r, fmt.Errorf("%s: %w", path, err)
	}
	r.Present = append(r.Present, filepath.Base(path))
	return r, nil
}

// ValidateShapefile checks that the .shp, .shx and .dbf files exist next to
// each other. A missing .prj or .cpg is noted but not an error.
// The returned error wraps ErrMissingComponent.
func ValidateShapefile(path string) (*ValidationReport, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	r := &ValidationReport{Path: path, Format: FormatShapefile}

	for _, ext := range requiredShapefileParts {
		if name, ok := sidecar(stem, ext); ok {
			r.Present = append(r.Present, name)
		} else {
			r.Missing = append(r.Missing, filepath.Base(stem)+ext)
		}
	}
	for _, ext := range optionalShapefileParts {
		if name, ok := sidecar(stem, ext); ok {
			r.Present = append(r.Present, name)
		} else {
			r.Optional = append(r.Optional, filepath.Base(stem)+ext)
		}
	}

	if !r.OK() {
		return r, fmt.Errorf("%w: %s", ErrMissingComponent, strings.Join(r.Missing, ", "))
	}
	return r, nil
}

// sidecar finds stem+ext, accepting an upper-case extension as written by
// some desktop tools.
func sidecar(stem, ext string) (string, bool) {
	for _, candidate := range []string{stem + ext, stem + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return filepath.Base(candidate), true
		}
	}
	return "", false
}
