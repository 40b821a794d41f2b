package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/geoload/internal/logging"
)

// UpdateStatistics refreshes planner statistics for the table and registers
// its geometry column metadata. Failures are logged and never returned.
func (s *Store) UpdateStatistics(ctx context.Context, ident TableIdentity) {
	log := logging.FromContext(ctx).With(slog.String("table", ident.String()))

	if _, err := s.db.Exec(ctx, "ANALYZE "+ident.Quoted()); err != nil {
		log.Warn("analyze failed", slog.Any("error", err))
	}

	var registered int
	err := s.db.QueryRow(ctx, `SELECT Populate_Geometry_Columns($1::regclass)`, ident.Quoted()).Scan(&registered)
	if err != nil {
		log.Warn("geometry metadata refresh failed", slog.Any("error", err))
		return
	}
	log.Debug("statistics updated", slog.Int("geometry_columns", registered))
}

// ValidateInsertion checks that the table holds at least expected rows.
// The load's own count is a lower bound because append mode adds to rows
// that were already there.
func (s *Store) ValidateInsertion(ctx context.Context, ident TableIdentity, expected int) (bool, error) {
	n, err := s.CountRows(ctx, ident)
	if err != nil {
		return false, err
	}
	if n < int64(expected) {
		logging.FromContext(ctx).Warn("fewer rows than inserted",
			slog.String("table", ident.String()),
			slog.Int64("rows", n),
			slog.Int("expected", expected),
		)
		return false, nil
	}
	return true, nil
}

// SpatialIndexName is the name used by RebuildSpatialIndex.
func SpatialIndexName(ident TableIdentity) string {
	return fmt.Sprintf("%s_%s_gist", ident.Table, GeometryColumn)
}

// RebuildSpatialIndex drops and recreates the GIST index on the geometry
// column. The index created with the table is left alone.
func (s *Store) RebuildSpatialIndex(ctx context.Context, ident TableIdentity) error {
	index := quoteIdentifier(ident.schema()) + "." + quoteIdentifier(SpatialIndexName(ident))

	if _, err := s.db.Exec(ctx, "DROP INDEX IF EXISTS "+index); err != nil {
		return classify(fmt.Errorf("drop index: %w", err))
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)",
		quoteIdentifier(SpatialIndexName(ident)), ident.Quoted(), GeometryColumn)
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return classify(fmt.Errorf("create index: %w", err))
	}

	logging.FromContext(ctx).Info("spatial index rebuilt",
		slog.String("table", ident.String()),
		slog.String("index", SpatialIndexName(ident)),
	)
	return nil
}
