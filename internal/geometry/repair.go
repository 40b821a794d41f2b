package geometry

import (
	"context"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/muesli/reflow/truncate"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// wktLogWidth caps the WKT excerpt logged for unrepairable geometries.
const wktLogWidth = 120

// Repairer fixes invalid geometries and removes empty and null ones.
type Repairer struct {
	Engine Engine

	// SimplifyTolerance, when positive, simplifies every geometry after repair.
	SimplifyTolerance float64

	// DropInvalid removes geometries that stay invalid after both repair
	// attempts instead of keeping them.
	DropInvalid bool
}

// RepairReport counts what a Repair pass did.
type RepairReport struct {
	Checked             int `json:"checked"`
	Invalid             int `json:"invalid"` // invalid on entry
	RepairedByBuffer    int `json:"repaired_by_buffer"`
	RepairedByMakeValid int `json:"repaired_by_make_valid"`
	Unrepairable        int `json:"unrepairable"` // still invalid after both attempts
	DroppedInvalid      int `json:"dropped_invalid"`
	Simplified          int `json:"simplified"`
	EmptyRemoved        int `json:"empty_removed"`
	NullRemoved         int `json:"null_removed"`
}

// validityReasoner is implemented by engines that can explain invalidity.
type validityReasoner interface {
	ValidityReason(ctx context.Context, g orb.Geometry) string
}

// Repair runs over the whole collection: repair first, then removal, so a
// repair that collapses a geometry counts as empty-removed.
func (r Repairer) Repair(ctx context.Context, c *feature.Collection) (RepairReport, error) {
	logger := logging.FromContext(ctx)
	var rep RepairReport

	// Staged so cancellation leaves c untouched.
	geoms := make([]orb.Geometry, len(c.Features))
	unrepairable := make([]bool, len(c.Features))

	for i, f := range c.Features {
		if i%100 == 0 && ctx.Err() != nil {
			return rep, ctx.Err()
		}

		g := f.Geometry
		geoms[i] = g
		if g == nil || IsEmpty(g) {
			continue
		}
		rep.Checked++

		if !r.valid(ctx, g) {
			rep.Invalid++
			fixed, how := r.repairOne(ctx, g)
			switch how {
			case repairedByBuffer:
				rep.RepairedByBuffer++
			case repairedByMakeValid:
				rep.RepairedByMakeValid++
			default:
				rep.Unrepairable++
				unrepairable[i] = true
				r.logUnrepairable(ctx, i, g)
			}
			g = fixed
		}

		if r.SimplifyTolerance > 0 && !IsEmpty(g) {
			s, err := r.Engine.Simplify(ctx, g, r.SimplifyTolerance)
			if err != nil {
				logger.Warn("simplify failed, keeping geometry", "feature", i, "error", err)
			} else {
				g = s
				rep.Simplified++
			}
		}
		geoms[i] = g
	}

	kept := c.Features[:0]
	for i, f := range c.Features {
		f.Geometry = geoms[i]
		switch {
		case f.Geometry == nil:
			rep.NullRemoved++
		case IsEmpty(f.Geometry):
			rep.EmptyRemoved++
		case unrepairable[i] && r.DropInvalid:
			rep.DroppedInvalid++
		default:
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(c.Features); i++ {
		c.Features[i] = nil
	}
	c.Features = kept

	if rep.Invalid > 0 {
		logger.Warn("invalid geometries found",
			"invalid", rep.Invalid,
			"repaired_buffer", rep.RepairedByBuffer,
			"repaired_make_valid", rep.RepairedByMakeValid,
			"unrepairable", rep.Unrepairable,
		)
	}
	if rep.EmptyRemoved > 0 {
		logger.Warn("removed empty geometries", "count", rep.EmptyRemoved)
	}
	if rep.NullRemoved > 0 {
		logger.Warn("removed null geometries", "count", rep.NullRemoved)
	}
	logger.Info("geometry repair complete", "features", c.Len(), "checked", rep.Checked)

	return rep, nil
}

type repairOutcome int

const (
	notRepaired repairOutcome = iota
	repairedByBuffer
	repairedByMakeValid
)

// repairOne tries the zero buffer, then MakeValid. A result that is empty
// counts as repaired since it is removed afterwards. On failure the original
// geometry is returned. Zero buffer is only attempted on polygons: on points
// and lines it yields an empty polygon and would silently drop them.
func (r Repairer) repairOne(ctx context.Context, g orb.Geometry) (orb.Geometry, repairOutcome) {
	logger := logging.FromContext(ctx)

	if IsPolygonal(g) {
		b, err := r.Engine.Buffer0(ctx, g)
		if err != nil {
			logger.Debug("zero buffer failed", "error", err)
		} else if r.acceptable(ctx, b) {
			return b, repairedByBuffer
		}
	}

	mv, err := r.Engine.MakeValid(ctx, g)
	if err != nil {
		logger.Debug("make valid failed", "error", err)
	} else if r.acceptable(ctx, mv) {
		return mv, repairedByMakeValid
	}

	return g, notRepaired
}

func (r Repairer) acceptable(ctx context.Context, g orb.Geometry) bool {
	if g == nil {
		return false
	}
	if IsEmpty(g) {
		return true
	}
	return r.valid(ctx, g)
}

// valid treats an engine error as invalidity: a geometry the engine cannot
// even load, such as a ring with too few points, is malformed.
func (r Repairer) valid(ctx context.Context, g orb.Geometry) bool {
	ok, err := r.Engine.IsValid(ctx, g)
	if err != nil {
		logging.FromContext(ctx).Debug("validity check failed", "type", g.GeoJSONType(), "error", err)
		return false
	}
	return ok
}

func (r Repairer) logUnrepairable(ctx context.Context, index int, g orb.Geometry) {
	args := []any{
		"feature", index,
		"type", g.GeoJSONType(),
		"wkt", truncate.StringWithTail(wkt.MarshalString(g), wktLogWidth, "..."),
	}
	if vr, ok := r.Engine.(validityReasoner); ok {
		args = append(args, "reason", vr.ValidityReason(ctx, g))
	}
	logging.FromContext(ctx).Error("geometry could not be repaired", args...)
}
