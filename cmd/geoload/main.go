package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JonMunkholm/geoload/internal/config"
	"github.com/JonMunkholm/geoload/internal/core"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const (
	flagTable         = "table"
	flagSchema        = "schema"
	flagSRID          = "srid"
	flagMode          = "mode"
	flagEngine        = "engine"
	flagSimplify      = "simplify"
	flagDetectCommune = "detect-commune"
	flagCommuneField  = "commune-field"
	flagUnique        = "unique"
	flagDropInvalid   = "drop-invalid"
	flagRebuildIndex  = "rebuild-index"
	flagLayer         = "layer"
	flagTimeout       = "timeout"
	flagJSON          = "json"
	flagField         = "field"
	flagStats         = "stats"
	flagExport        = "export"
	flagOutput        = "output"
	flagSchedule      = "schedule"
	flagSettle        = "settle"
	flagProcessedDir  = "processed-dir"
)

// envVars derives the environment variable of a flag, GEOLOAD_ prefixed so
// it cannot shadow the configuration variables.
func envVars(flag string) []string {
	return []string{"GEOLOAD_" + strcase.ToScreamingSnake(flag)}
}

func main() {
	app := cli.NewApp()
	app.Name = "geoload"
	app.Usage = "Load cadastral geospatial files into PostGIS"
	app.Version = versioninfo.Short()
	app.Before = setup
	app.Commands = []*cli.Command{
		loadCommand(),
		queryCommand(),
		watchCommand(),
		serveCommand(),
		validateCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

type appKey struct{}

// setup loads .env and the configuration, then configures logging. The
// configuration is stored in the app metadata for the commands.
func setup(c *cli.Context) error {
	// Overload lets .env win over variables already exported.
	envLoaded := godotenv.Overload() == nil

	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration: %v", err), 1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Debug("configuration loaded", "env_file", envLoaded, "config", cfg.String())
	c.App.Metadata = map[string]any{"config": cfg}
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

// openStore connects the pool and verifies the store is reachable.
func openStore(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *store.Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnString())
	if err != nil {
		return nil, nil, fmt.Errorf("parse database settings: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	if cfg.Database.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, &store.ConnectivityError{Err: err}
	}

	st := store.New(pool)
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	slog.Info("connected to database", "db", cfg.Database.MaskedConnString())
	return pool, st, nil
}

// userExit logs err and turns it into a one-line user message with exit
// status 1.
func userExit(err error) error {
	ue := core.NewUserError(err)
	slog.Debug("command failed", "error", ue.Technical, "code", ue.User.Code)
	return cli.Exit(fmt.Sprintf("%s (Code: %s). %s", ue.User.Message, ue.User.Code, ue.User.Action), 1)
}
