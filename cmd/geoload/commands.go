package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/geoload/internal/config"
	"github.com/JonMunkholm/geoload/internal/core"
	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/JonMunkholm/geoload/internal/schema"
	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/JonMunkholm/geoload/internal/web"
	"github.com/urfave/cli/v2"
)

func loadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagTable,
			Aliases: []string{"t"},
			Usage:   "Target table, optionally schema-qualified (default TARGET_TABLE)",
			EnvVars: envVars(flagTable),
		},
		&cli.StringFlag{
			Name:    flagSchema,
			Usage:   "Target schema (default TARGET_SCHEMA)",
			EnvVars: envVars(flagSchema),
		},
		&cli.IntFlag{
			Name:    flagSRID,
			Usage:   "Target SRID (default DEFAULT_SRID)",
			EnvVars: envVars(flagSRID),
		},
		&cli.StringFlag{
			Name:    flagMode,
			Aliases: []string{"m"},
			Usage:   "Write mode: append, replace or fail",
			EnvVars: envVars(flagMode),
		},
		&cli.StringFlag{
			Name:    flagEngine,
			Usage:   "Geometry engine: geos or postgis",
			EnvVars: envVars(flagEngine),
		},
		&cli.Float64Flag{
			Name:    flagSimplify,
			Usage:   "Topology-preserving simplification tolerance, in target units",
			EnvVars: envVars(flagSimplify),
		},
		&cli.BoolFlag{
			Name:    flagDetectCommune,
			Usage:   "Detect the commune column and rename it to the commune field (default LOAD_DETECT_COMMUNE, off)",
			EnvVars: envVars(flagDetectCommune),
		},
		&cli.StringFlag{
			Name:    flagCommuneField,
			Usage:   "Standardized commune column name (default COMMUNE_FIELD)",
			EnvVars: envVars(flagCommuneField),
		},
		&cli.StringSliceFlag{
			Name:    flagUnique,
			Usage:   "Natural key columns of a new table; duplicates are then skipped",
			EnvVars: envVars(flagUnique),
		},
		&cli.BoolFlag{
			Name:    flagDropInvalid,
			Usage:   "Drop geometries that stay invalid after repair",
			EnvVars: envVars(flagDropInvalid),
		},
		&cli.BoolFlag{
			Name:    flagRebuildIndex,
			Usage:   "Rebuild the spatial index after the write",
			EnvVars: envVars(flagRebuildIndex),
		},
		&cli.StringFlag{
			Name:    flagLayer,
			Usage:   "GeoPackage layer (default: the first one)",
			EnvVars: envVars(flagLayer),
		},
		&cli.DurationFlag{
			Name:    flagTimeout,
			Usage:   "Abort a load after this long (default LOAD_TIMEOUT)",
			EnvVars: envVars(flagTimeout),
		},
	}
}

// loadOptions applies the flags that were set on top of the configured
// defaults.
func loadOptions(c *cli.Context, cfg *config.Config) (core.Options, error) {
	opts, err := core.OptionsFromConfig(cfg.Load)
	if err != nil {
		return core.Options{}, err
	}

	if c.IsSet(flagTable) || c.IsSet(flagSchema) {
		opts.Table = tableIdentity(c, cfg)
	}
	if c.IsSet(flagSRID) {
		if c.Int(flagSRID) <= 0 {
			return core.Options{}, fmt.Errorf("invalid srid %d", c.Int(flagSRID))
		}
		opts.SRID = c.Int(flagSRID)
	}
	if c.IsSet(flagMode) {
		mode, err := store.ParseMode(c.String(flagMode))
		if err != nil {
			return core.Options{}, err
		}
		opts.Mode = mode
	}
	if c.IsSet(flagSimplify) {
		opts.SimplifyTolerance = c.Float64(flagSimplify)
	}
	if c.IsSet(flagDetectCommune) {
		opts.DetectCommune = c.Bool(flagDetectCommune)
	}
	if c.IsSet(flagCommuneField) {
		opts.CommuneField = c.String(flagCommuneField)
	}
	if c.IsSet(flagUnique) {
		opts.UniqueColumns = c.StringSlice(flagUnique)
	}
	if c.IsSet(flagDropInvalid) {
		opts.DropInvalid = c.Bool(flagDropInvalid)
	}
	if c.IsSet(flagRebuildIndex) {
		opts.RebuildIndex = c.Bool(flagRebuildIndex)
	}
	if c.IsSet(flagTimeout) {
		opts.Timeout = c.Duration(flagTimeout)
	}
	opts.Layer = c.String(flagLayer)
	return opts, nil
}

// tableIdentity resolves --table and --schema against the configuration.
func tableIdentity(c *cli.Context, cfg *config.Config) store.TableIdentity {
	name := c.String(flagTable)
	if name == "" {
		name = cfg.Load.Table
	}
	ident := store.ParseIdentity(name)
	if ident.Table == name {
		ident.Schema = cfg.Load.Schema
		if c.IsSet(flagSchema) {
			ident.Schema = c.String(flagSchema)
		}
	}
	return ident
}

func engineName(c *cli.Context, cfg *config.Config) string {
	if c.IsSet(flagEngine) {
		return c.String(flagEngine)
	}
	return cfg.Load.Engine
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newLoader opens the store and builds a loader with the selected engine.
// The returned func releases both.
func newLoader(ctx context.Context, c *cli.Context, cfg *config.Config) (*core.Loader, *store.Store, func(), error) {
	pool, st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, release, err := core.NewEngine(engineName(c, cfg), st)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	limiter := core.NewLoadLimiter(cfg.Load.MaxConcurrent, cfg.Load.MaxWaitTime)
	return core.NewLoader(st, engine, limiter), st, func() {
		release()
		pool.Close()
	}, nil
}

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Load a Shapefile, GeoJSON, FlatGeobuf or GeoPackage file",
		ArgsUsage: "<path>",
		Flags: append(loadFlags(), &cli.BoolFlag{
			Name:    flagJSON,
			Usage:   "Print the load report as JSON",
			EnvVars: envVars(flagJSON),
		}),
		Action: runLoad,
	}
}

func runLoad(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: geoload load <path>", 1)
	}
	path := c.Args().First()
	cfg := configFrom(c)

	opts, err := loadOptions(c, cfg)
	if err != nil {
		return userExit(err)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	loader, _, closeFn, err := newLoader(ctx, c, cfg)
	if err != nil {
		rep := failedReport(path, opts, err)
		printReport(c.App.Writer, rep, c.Bool(flagJSON))
		return cli.Exit("", 1)
	}
	defer closeFn()

	rep := loader.LoadFile(core.ContextWithTrigger(ctx, core.TriggerCLI), path, opts)
	printReport(c.App.Writer, rep, c.Bool(flagJSON))
	if !rep.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// failedReport describes a load that could not start.
func failedReport(path string, opts core.Options, err error) *core.LoadReport {
	msg := core.MapError(err)
	return &core.LoadReport{
		Trigger: core.TriggerCLI,
		Source:  path,
		Table:   opts.Table.String(),
		Mode:    opts.Mode,
		Error:   err.Error(),
		User:    &msg,
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Read back the features or statistics of a commune",
		ArgsUsage: "[commune]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagTable,
				Aliases: []string{"t"},
				Usage:   "Table, optionally schema-qualified (default TARGET_TABLE)",
				EnvVars: envVars(flagTable),
			},
			&cli.StringFlag{
				Name:    flagSchema,
				Usage:   "Schema (default TARGET_SCHEMA)",
				EnvVars: envVars(flagSchema),
			},
			&cli.StringFlag{
				Name:    flagField,
				Aliases: []string{"f"},
				Usage:   "Commune column (default COMMUNE_FIELD, then the usual fallbacks)",
				EnvVars: envVars(flagField),
			},
			&cli.BoolFlag{
				Name:  flagStats,
				Usage: "Print per-commune area statistics instead of features",
			},
			&cli.StringFlag{
				Name:  flagExport,
				Usage: "Write the result as CSV to this file",
			},
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "Write the GeoJSON result to this file instead of stdout",
			},
		},
		Action: runQuery,
	}
}

func runQuery(c *cli.Context) error {
	cfg := configFrom(c)
	commune := c.Args().First()
	if commune == "" && !c.Bool(flagStats) {
		return cli.Exit("usage: geoload query <commune> (or --stats)", 1)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	pool, st, err := openStore(ctx, cfg)
	if err != nil {
		return userExit(err)
	}
	defer pool.Close()

	ident := tableIdentity(c, cfg)
	fields := communeFields(c.String(flagField), cfg.Load.CommuneField)

	if c.Bool(flagStats) {
		stats, err := st.CommuneStatistics(ctx, ident, commune, fields)
		if err != nil {
			return userExit(err)
		}
		if path := c.String(flagExport); path != "" {
			return writeFile(path, func(f *os.File) error { return writeStatsCSV(f, stats) })
		}
		printStats(c.App.Writer, stats)
		return nil
	}

	res, err := st.QueryByCommune(ctx, ident, commune, fields)
	if err != nil {
		return userExit(err)
	}
	slog.Info("commune query", "table", ident.String(), "field", res.Field, "value", commune, "features", len(res.Features.Features))

	if path := c.String(flagExport); path != "" {
		return writeFile(path, func(f *os.File) error { return writeFeaturesCSV(f, res.Features) })
	}
	if path := c.String(flagOutput); path != "" {
		return writeFile(path, func(f *os.File) error { return writeGeoJSON(f, res.Features) })
	}
	return writeGeoJSON(c.App.Writer, res.Features)
}

// communeFields puts the requested field, or the configured one, ahead of
// the fallbacks.
func communeFields(requested, configured string) []string {
	first := requested
	if first == "" {
		first = configured
	}
	fields := []string{first}
	for _, f := range schema.CommuneQueryFallbacks {
		if f != first {
			fields = append(fields, f)
		}
	}
	return fields
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Load files dropped into a directory",
		ArgsUsage: "[dir]",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:    flagSchedule,
				Usage:   "Cron spec of the periodic sweep (default WATCH_SCHEDULE)",
				EnvVars: envVars(flagSchedule),
			},
			&cli.DurationFlag{
				Name:    flagSettle,
				Usage:   "How long a file must stay unchanged before it is loaded (default WATCH_SETTLE)",
				EnvVars: envVars(flagSettle),
			},
			&cli.StringFlag{
				Name:    flagProcessedDir,
				Usage:   "Sub-directory loaded files are moved to (default WATCH_PROCESSED_DIR)",
				EnvVars: envVars(flagProcessedDir),
			},
		),
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg := configFrom(c)
	dir := c.Args().First()
	if dir == "" {
		dir = cfg.Watch.Dir
	}
	if dir == "" {
		return cli.Exit("usage: geoload watch <dir> (or set WATCH_DIR)", 1)
	}

	opts, err := loadOptions(c, cfg)
	if err != nil {
		return userExit(err)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	loader, _, closeFn, err := newLoader(ctx, c, cfg)
	if err != nil {
		return userExit(err)
	}
	defer closeFn()

	wopts := watchOptions(c, cfg, dir, opts)
	wopts.OnReport = func(rep *core.LoadReport) { printReport(c.App.Writer, rep, false) }
	if err := core.NewWatcher(loader, wopts).Run(ctx); err != nil {
		return userExit(err)
	}
	return nil
}

func watchOptions(c *cli.Context, cfg *config.Config, dir string, opts core.Options) core.WatchOptions {
	w := core.WatchOptions{
		Dir:          dir,
		ProcessedDir: cfg.Watch.ProcessedDir,
		Schedule:     cfg.Watch.Schedule,
		Settle:       cfg.Watch.Settle,
		Load:         opts,
	}
	if c.IsSet(flagSchedule) {
		w.Schedule = c.String(flagSchedule)
	}
	if c.IsSet(flagSettle) {
		w.Settle = c.Duration(flagSettle)
	}
	if c.IsSet(flagProcessedDir) {
		w.ProcessedDir = c.String(flagProcessedDir)
	}
	return w
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API; also watches WATCH_DIR when set",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagEngine,
				Usage:   "Geometry engine: geos or postgis",
				EnvVars: envVars(flagEngine),
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg := configFrom(c)

	ctx, stop := signalContext(c.Context)
	defer stop()

	loader, st, closeFn, err := newLoader(ctx, c, cfg)
	if err != nil {
		return userExit(err)
	}
	defer closeFn()

	server := web.NewServer(cfg, loader, st, loader.Limiter())

	watchDone := make(chan struct{})
	if cfg.Watch.Dir != "" {
		opts, err := core.OptionsFromConfig(cfg.Load)
		if err != nil {
			return userExit(err)
		}
		go func() {
			defer close(watchDone)
			if err := core.NewWatcher(loader, watchOptions(c, cfg, cfg.Watch.Dir, opts)).Run(ctx); err != nil {
				slog.Error("watcher stopped", "error", err)
			}
		}()
	} else {
		close(watchDone)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return userExit(err)
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := loader.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for loads to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	stop()
	<-watchDone
	return nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a source file and print geometry statistics without writing",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    flagSRID,
				Usage:   "Target SRID the statistics are computed in (default DEFAULT_SRID)",
				EnvVars: envVars(flagSRID),
			},
			&cli.StringFlag{
				Name:    flagLayer,
				Usage:   "GeoPackage layer (default: the first one)",
				EnvVars: envVars(flagLayer),
			},
			&cli.BoolFlag{
				Name:    flagJSON,
				Usage:   "Print the result as JSON",
				EnvVars: envVars(flagJSON),
			},
		},
		Action: runValidate,
	}
}

// ValidationResult is what validate prints.
type ValidationResult struct {
	Source     *source.ValidationReport `json:"source"`
	SourceSRID int                      `json:"source_srid"`
	CRSAction  geometry.CRSAction       `json:"crs_action"`
	Commune    string                   `json:"commune_field,omitempty"`
	Repair     geometry.RepairReport    `json:"repair"`
	Coerced    int                      `json:"coerced"`
	Stats      geometry.Stats           `json:"stats"`
}

func runValidate(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: geoload validate <path>", 1)
	}
	path := c.Args().First()
	cfg := configFrom(c)

	srid := cfg.Load.SRID
	if c.IsSet(flagSRID) {
		srid = c.Int(flagSRID)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	res, err := validateSource(ctx, path, srid, cfg.Load.CommuneField, c.String(flagLayer))
	if res != nil {
		printValidation(c.App.Writer, res, c.Bool(flagJSON))
	}
	if err != nil {
		return userExit(err)
	}
	return nil
}

// validateSource runs every in-memory stage of a load with the native
// engine and reports what they did.
func validateSource(ctx context.Context, path string, srid int, communeField, layer string) (*ValidationResult, error) {
	sr, err := source.Validate(path)
	if err != nil {
		if sr == nil {
			return nil, err
		}
		return &ValidationResult{Source: sr}, err
	}
	res := &ValidationResult{Source: sr}

	col, err := source.Read(ctx, path, source.Options{Layer: layer})
	if err != nil {
		return res, err
	}
	res.SourceSRID = col.SRID

	mapped := schema.NewCadastreMapper(communeField).Apply(ctx, col, true)
	if mapped.CommuneDetected {
		res.Commune = communeField
	}

	engine := geometry.NewNativeEngine()
	defer engine.Close()

	res.CRSAction, err = geometry.CRSNormalizer{Engine: engine, Target: srid}.Normalize(ctx, col)
	if err != nil {
		return res, err
	}
	res.Repair, err = geometry.Repairer{Engine: engine}.Repair(ctx, col)
	if err != nil {
		return res, err
	}
	res.Coerced = geometry.Coerce(ctx, col)
	res.Stats = geometry.ComputeStats(col)
	return res, nil
}
