package core

// loader.go runs one load end to end:
//
//	read -> standardize -> CRS -> repair -> coerce -> write -> statistics
//
// Every stage processes the whole collection before the next one starts.
// Failures are returned inside the LoadReport, never as panics.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/geoload/internal/config"
	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/JonMunkholm/geoload/internal/schema"
	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/google/uuid"
)

// ErrNoFeatures is returned when a source holds no features at all.
var ErrNoFeatures = errors.New("source contains no features")

// Store is the part of the spatial store a load writes through.
// *store.Store satisfies it.
type Store interface {
	Write(ctx context.Context, c *feature.Collection, ident store.TableIdentity, mode store.Mode, opts store.WriteOptions) (*store.WriteSummary, error)
	UpdateStatistics(ctx context.Context, ident store.TableIdentity)
	ValidateInsertion(ctx context.Context, ident store.TableIdentity, expected int) (bool, error)
	RebuildSpatialIndex(ctx context.Context, ident store.TableIdentity) error
}

var _ Store = (*store.Store)(nil)

// Options describe one load.
type Options struct {
	Table             store.TableIdentity
	SRID              int
	Mode              store.Mode
	CommuneField      string
	DetectCommune     bool
	SimplifyTolerance float64
	UniqueColumns     []string
	DropInvalid       bool
	RebuildIndex      bool

	// Timeout bounds the whole load, waiting for a slot included.
	// Zero means no limit.
	Timeout time.Duration

	// Layer selects a GeoPackage layer. Empty means the first one.
	Layer string
}

// OptionsFromConfig returns the configured load defaults.
func OptionsFromConfig(cfg config.LoadConfig) (Options, error) {
	mode, err := store.ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Table:             store.TableIdentity{Schema: cfg.Schema, Table: cfg.Table},
		SRID:              cfg.SRID,
		Mode:              mode,
		CommuneField:      cfg.CommuneField,
		DetectCommune:     cfg.DetectCommune,
		SimplifyTolerance: cfg.SimplifyTolerance,
		UniqueColumns:     cfg.UniqueColumns,
		DropInvalid:       cfg.DropInvalid,
		RebuildIndex:      cfg.RebuildIndex,
		Timeout:           cfg.Timeout,
	}, nil
}

// LoadReport is the outcome of one load. Success is false whenever Error
// is set.
type LoadReport struct {
	LoadID  string     `json:"load_id"`
	Trigger Trigger    `json:"trigger"`
	Source  string     `json:"source"`
	Table   string     `json:"table"`
	Mode    store.Mode `json:"mode"`

	SourceSRID int                `json:"source_srid"`
	SRID       int                `json:"srid"`
	CRSAction  geometry.CRSAction `json:"crs_action,omitempty"`

	Read         int `json:"read"`
	Inserted     int `json:"inserted"`
	Retried      int `json:"retried"`
	Skipped      int `json:"skipped"`
	Duplicates   int `json:"duplicates"`
	Repaired     int `json:"repaired"`
	Invalid      int `json:"invalid"`
	Dropped      int `json:"dropped_invalid"`
	EmptyRemoved int `json:"empty_removed"`
	NullRemoved  int `json:"null_removed"`
	Coerced      int `json:"coerced"`

	CommuneField      string            `json:"commune_field,omitempty"`
	Renamed           map[string]string `json:"renamed,omitempty"`
	TableCreated      bool              `json:"table_created"`
	DroppedAttributes []string          `json:"dropped_attributes,omitempty"`
	SkippedRows       []store.RowResult `json:"skipped_rows,omitempty"`
	Stats             *geometry.Stats   `json:"stats,omitempty"`
	Verified          bool              `json:"verified"`

	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	User    *UserMessage `json:"user_error,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

func (r *LoadReport) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	msg := MapError(err)
	r.User = &msg
}

// Loader runs loads one at a time through a shared LoadLimiter.
type Loader struct {
	store   Store
	engine  geometry.Engine
	limiter *LoadLimiter
}

// NewLoader returns a loader writing to st and running geometry operations
// on engine. A nil limiter gets a private one of capacity 1.
func NewLoader(st Store, engine geometry.Engine, limiter *LoadLimiter) *Loader {
	if limiter == nil {
		limiter = NewLoadLimiter(DefaultMaxConcurrentLoads, DefaultMaxWaitTime)
	}
	return &Loader{store: st, engine: engine, limiter: limiter}
}

// Limiter returns the limiter loads are serialized through.
func (l *Loader) Limiter() *LoadLimiter {
	return l.limiter
}

// LoadFile reads the source at path and loads it.
func (l *Loader) LoadFile(ctx context.Context, path string, opts Options) *LoadReport {
	return l.run(ctx, path, opts, func(ctx context.Context) (*feature.Collection, error) {
		return source.Read(ctx, path, source.Options{Layer: opts.Layer})
	})
}

// Load loads an already decoded collection. c is modified in place.
func (l *Loader) Load(ctx context.Context, c *feature.Collection, opts Options) *LoadReport {
	return l.run(ctx, c.Name, opts, func(context.Context) (*feature.Collection, error) {
		return c, nil
	})
}

func (l *Loader) run(ctx context.Context, src string, opts Options, read func(context.Context) (*feature.Collection, error)) *LoadReport {
	id := uuid.NewString()
	ctx = logging.WithLoadID(ctx, id)
	logger := logging.FromContext(ctx)

	rep := &LoadReport{
		LoadID:    id,
		Trigger:   TriggerFromContext(ctx),
		Source:    src,
		Table:     opts.Table.String(),
		Mode:      opts.Mode,
		StartedAt: time.Now(),
	}
	defer func() {
		rep.Duration = time.Since(rep.StartedAt)
		rep.DurationMS = rep.Duration.Milliseconds()
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger.Info("load started",
		slog.String("source", src),
		slog.String("table", rep.Table),
		slog.String("mode", string(opts.Mode)),
		slog.String("trigger", string(rep.Trigger)),
	)

	if err := l.limiter.Acquire(ctx); err != nil {
		rep.fail(err)
		logger.Warn("load rejected", slog.Any("error", err))
		return rep
	}
	defer l.limiter.Release()

	if err := l.pipeline(ctx, rep, opts, read); err != nil {
		rep.fail(err)
		logger.Error("load failed",
			slog.Any("error", err),
			slog.String("code", rep.User.Code),
			slog.Int("read", rep.Read),
		)
		return rep
	}

	rep.Success = true
	logger.Info("load complete",
		slog.Int("read", rep.Read),
		slog.Int("inserted", rep.Inserted),
		slog.Int("skipped", rep.Skipped),
		slog.Int("duplicates", rep.Duplicates),
		slog.Int("invalid", rep.Invalid),
		slog.Duration("duration", time.Since(rep.StartedAt)),
	)
	return rep
}

func (l *Loader) pipeline(ctx context.Context, rep *LoadReport, opts Options, read func(context.Context) (*feature.Collection, error)) error {
	logger := logging.FromContext(ctx)

	c, err := read(ctx)
	if err != nil {
		return err
	}
	rep.Read = c.Len()
	rep.SourceSRID = c.SRID
	if c.Len() == 0 {
		return ErrNoFeatures
	}

	mapper := schema.NewCadastreMapper(opts.CommuneField)
	mapped := mapper.Apply(ctx, c, opts.DetectCommune)
	rep.Renamed = mapped.Renamed
	if mapped.CommuneDetected {
		rep.CommuneField = mapper.CommuneField()
	}

	normalizer := geometry.CRSNormalizer{Engine: l.engine, Target: opts.SRID}
	action, err := normalizer.Normalize(ctx, c)
	if err != nil {
		return err
	}
	rep.CRSAction = action
	rep.SRID = c.SRID

	repairer := geometry.Repairer{
		Engine:            l.engine,
		SimplifyTolerance: opts.SimplifyTolerance,
		DropInvalid:       opts.DropInvalid,
	}
	repaired, err := repairer.Repair(ctx, c)
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}
	rep.Repaired = repaired.RepairedByBuffer + repaired.RepairedByMakeValid
	rep.Invalid = repaired.Unrepairable
	rep.Dropped = repaired.DroppedInvalid
	rep.EmptyRemoved = repaired.EmptyRemoved
	rep.NullRemoved = repaired.NullRemoved

	rep.Coerced = geometry.Coerce(ctx, c)

	stats := geometry.ComputeStats(c)
	rep.Stats = &stats
	logger.Info("geometry statistics",
		slog.Int("features", stats.Features),
		slog.Any("types", stats.Types),
		slog.Int("srid", stats.SRID),
	)

	summary, err := l.store.Write(ctx, c, opts.Table, opts.Mode, store.WriteOptions{UniqueAttributes: opts.UniqueColumns})
	if err != nil {
		return err
	}
	rep.TableCreated = summary.Created
	rep.Inserted = summary.Inserted
	rep.Retried = summary.Retried
	rep.Skipped = summary.Skipped
	rep.Duplicates = summary.Duplicates
	rep.SkippedRows = summary.SkippedRows
	rep.DroppedAttributes = summary.DroppedAttributes

	l.store.UpdateStatistics(ctx, opts.Table)

	ok, err := l.store.ValidateInsertion(ctx, opts.Table, summary.Inserted)
	if err != nil {
		logger.Warn("insertion check failed", slog.Any("error", err))
	}
	rep.Verified = ok

	if opts.RebuildIndex {
		if err := l.store.RebuildSpatialIndex(ctx, opts.Table); err != nil {
			logger.Warn("spatial index rebuild failed", slog.Any("error", err))
		}
	}
	return nil
}
