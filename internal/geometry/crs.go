package geometry

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/paulmach/orb"
)

// DefaultSRID is Lambert-93, the target reference when none is configured.
const DefaultSRID = 2154

// CRSNormalizer brings a collection into a single target spatial reference.
type CRSNormalizer struct {
	Engine Engine
	Target int
}

// CRSAction records what Normalize did.
type CRSAction string

const (
	CRSAssigned    CRSAction = "assigned"
	CRSReprojected CRSAction = "reprojected"
	CRSUnchanged   CRSAction = "unchanged"
)

// Normalize sets c.SRID to the target. A collection without a declared
// reference is assumed to already be in the target system and is only
// tagged. A foreign reference is reprojected geometry by geometry.
func (n CRSNormalizer) Normalize(ctx context.Context, c *feature.Collection) (CRSAction, error) {
	logger := logging.FromContext(ctx)
	target := n.Target
	if target == 0 {
		target = DefaultSRID
	}

	switch {
	case c.SRID == 0:
		logger.Warn("no CRS declared, assigning target without transforming", "srid", target)
		c.SRID = target
		return CRSAssigned, nil

	case c.SRID == target:
		logger.Debug("CRS already matches target", "srid", target)
		return CRSUnchanged, nil
	}

	from := c.SRID
	logger.Info("reprojecting", "from", from, "to", target, "features", c.Len())

	// Results are staged so a failure leaves c untouched.
	out := make([]orb.Geometry, len(c.Features))
	for i, f := range c.Features {
		if f.Geometry == nil || IsEmpty(f.Geometry) {
			out[i] = f.Geometry
			continue
		}
		g, err := n.Engine.Reproject(ctx, f.Geometry, from, target)
		if err != nil {
			return "", fmt.Errorf("feature %d: %w", i, err)
		}
		out[i] = g
	}

	for i, f := range c.Features {
		f.Geometry = out[i]
	}
	c.SRID = target
	return CRSReprojected, nil
}
