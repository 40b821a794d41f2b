// Package schema standardizes attribute names of incoming feature collections
// and locates the attribute that identifies the commune.
package schema

import (
	"context"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"golang.org/x/text/cases"
)

// DefaultCommuneField is the canonical name given to the detected commune attribute.
const DefaultCommuneField = "nom"

// Mapper renames attributes through a case-insensitive table and detects the
// commune attribute from a priority list.
type Mapper struct {
	renames      map[string]string
	candidates   []string
	communeField string
}

// NewMapper builds a mapper. Keys of renames are folded so lookups ignore case.
func NewMapper(renames map[string]string, candidates []string, communeField string) *Mapper {
	if communeField == "" {
		communeField = DefaultCommuneField
	}

	folded := make(map[string]string, len(renames))
	for from, to := range renames {
		folded[fold(from)] = to
	}

	return &Mapper{
		renames:      folded,
		candidates:   candidates,
		communeField: communeField,
	}
}

// NewCadastreMapper returns a mapper loaded with the cadastral rename table.
func NewCadastreMapper(communeField string) *Mapper {
	return NewMapper(CadastreRenames, CommuneCandidates, communeField)
}

// CommuneField returns the canonical commune attribute name.
func (m *Mapper) CommuneField() string {
	return m.communeField
}

// Result describes what a mapping pass changed.
type Result struct {
	// Renamed holds source name -> canonical name for every applied rename.
	Renamed map[string]string

	// CommuneSource is the attribute detected as the commune before renaming.
	CommuneSource string

	// CommuneDetected is false when no candidate matched.
	CommuneDetected bool
}

// Apply standardizes c in place and, when detectCommune is set, runs commune
// detection afterwards.
func (m *Mapper) Apply(ctx context.Context, c *feature.Collection, detectCommune bool) Result {
	res := Result{Renamed: m.Standardize(ctx, c)}

	if detectCommune {
		res.CommuneSource, res.CommuneDetected = m.DetectCommune(ctx, c)
	}
	return res
}

// Standardize renames every attribute found in the rename table.
// Names already canonical or absent from the table are left alone.
func (m *Mapper) Standardize(ctx context.Context, c *feature.Collection) map[string]string {
	logger := logging.FromContext(ctx)
	applied := make(map[string]string)

	for _, name := range c.AttributeNames() {
		to, ok := m.renames[fold(name)]
		if !ok || to == name {
			continue
		}
		if n := c.RenameAttribute(name, to); n > 0 {
			applied[name] = to
		} else {
			logger.Debug("rename skipped, target already present", "from", name, "to", to)
		}
	}

	if len(applied) > 0 {
		logger.Info("attributes standardized", "renamed", len(applied))
	}
	return applied
}

// DetectCommune finds the highest-priority candidate attribute and renames it
// to the commune field. It returns the source name and whether one was found.
func (m *Mapper) DetectCommune(ctx context.Context, c *feature.Collection) (string, bool) {
	logger := logging.FromContext(ctx)

	byFolded := make(map[string]string)
	for _, name := range c.AttributeNames() {
		key := fold(name)
		if _, dup := byFolded[key]; !dup {
			byFolded[key] = name
		}
	}

	for _, candidate := range m.candidates {
		name, ok := byFolded[fold(candidate)]
		if !ok {
			continue
		}
		if name != m.communeField {
			c.RenameAttribute(name, m.communeField)
		}
		logger.Info("commune field detected", "source", name, "field", m.communeField)
		return name, true
	}

	logger.Warn("no commune field detected", "candidates", len(m.candidates))
	return "", false
}

func fold(s string) string {
	return cases.Fold().String(s)
}
