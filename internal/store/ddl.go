package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/JonMunkholm/geoload/internal/logging"
)

// TableColumn maps one feature attribute to a table column.
type TableColumn struct {
	Attribute string
	Name      string
	Kind      feature.Kind
}

// SQLType returns the column's PostgreSQL type.
func (c TableColumn) SQLType() string {
	return sqlType(c.Kind)
}

func sqlType(k feature.Kind) string {
	switch k {
	case feature.KindInteger:
		return "INTEGER"
	case feature.KindFloat:
		return "DOUBLE PRECISION"
	case feature.KindBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func kindOfSQLType(dataType string) feature.Kind {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return feature.KindInteger
	case "real", "double precision", "numeric":
		return feature.KindFloat
	case "boolean":
		return feature.KindBoolean
	default:
		return feature.KindText
	}
}

// TableSchema describes the table a collection is written into.
type TableSchema struct {
	Table        TableIdentity
	Columns      []TableColumn
	GeometryType string
	SRID         int
	// UniqueColumns, as column names, form the natural key enforced by
	// ON CONFLICT DO NOTHING. Empty means no constraint.
	UniqueColumns []string
	// Collisions lists attributes dropped because an earlier attribute
	// already took their column name.
	Collisions []string
}

// InferSchema derives a table schema from the collection: one column per
// attribute name and a geometry column typed after the first non-null
// geometry, or the generic Geometry type when there is none. Attributes
// whose column names collide keep only the first; the others are listed in
// Collisions.
func InferSchema(c *feature.Collection, table TableIdentity, uniqueAttrs []string) *TableSchema {
	s := &TableSchema{Table: table, SRID: c.SRID, GeometryType: "Geometry"}

	for _, f := range c.Features {
		if f.Geometry != nil {
			s.GeometryType = geometry.ColumnType(f.Geometry)
			break
		}
	}

	seen := make(map[string]bool)
	byAttr := make(map[string]string)
	for _, col := range c.Columns() {
		name := columnName(col.Name)
		if seen[name] {
			s.Collisions = append(s.Collisions, col.Name)
			continue
		}
		seen[name] = true
		byAttr[col.Name] = name
		s.Columns = append(s.Columns, TableColumn{Attribute: col.Name, Name: name, Kind: col.Kind})
	}

	for _, attr := range uniqueAttrs {
		name, ok := byAttr[attr]
		if !ok {
			name = columnName(attr)
		}
		s.UniqueColumns = append(s.UniqueColumns, name)
	}

	return s
}

// IndexName is the name of the spatial index created with the table.
func (s *TableSchema) IndexName() string {
	return s.Table.Table + "_geom_idx"
}

// ConstraintName is the name of the natural-key constraint.
func (s *TableSchema) ConstraintName() string {
	return s.Table.Table + "_natural_key"
}

// CreateStatements returns the DDL that creates the table, its spatial
// index and the optional natural-key constraint.
func (s *TableSchema) CreateStatements() []string {
	var cols strings.Builder
	cols.WriteString("id SERIAL PRIMARY KEY")
	for _, c := range s.Columns {
		fmt.Fprintf(&cols, ",\n\t%s %s", quoteIdentifier(c.Name), c.SQLType())
	}
	fmt.Fprintf(&cols, ",\n\t%s geometry(%s, %d)", GeometryColumn, s.GeometryType, s.SRID)
	if len(s.UniqueColumns) > 0 {
		quoted := make([]string, len(s.UniqueColumns))
		for i, c := range s.UniqueColumns {
			quoted[i] = quoteIdentifier(c)
		}
		fmt.Fprintf(&cols, ",\n\tCONSTRAINT %s UNIQUE (%s)",
			quoteIdentifier(s.ConstraintName()), strings.Join(quoted, ", "))
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.Table.Quoted(), cols.String()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
			quoteIdentifier(s.IndexName()), s.Table.Quoted(), GeometryColumn),
	}
}

// createTable runs the DDL. It is idempotent.
func createTable(ctx context.Context, db DBTX, s *TableSchema) error {
	for _, stmt := range s.CreateStatements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			if IsConnectivity(err) {
				return classify(err)
			}
			return &SchemaError{Table: s.Table, Err: err}
		}
	}
	logging.FromContext(ctx).Info("table created",
		slog.String("table", s.Table.String()),
		slog.String("geometry_type", s.GeometryType),
		slog.Int("srid", s.SRID),
		slog.Int("columns", len(s.Columns)),
	)
	return nil
}

// existingColumns reads the attribute columns of an existing table, keyed
// by column name. The id and geometry columns are excluded.
func existingColumns(ctx context.Context, db DBTX, ident TableIdentity) (map[string]feature.Kind, error) {
	rows, err := db.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, ident.schema(), ident.Table)
	if err != nil {
		return nil, classify(fmt.Errorf("read columns of %s: %w", ident, err))
	}
	defer rows.Close()

	cols := make(map[string]feature.Kind)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if name == "id" || name == GeometryColumn {
			continue
		}
		cols[name] = kindOfSQLType(dataType)
	}
	return cols, rows.Err()
}

// reconcile narrows s to the columns the existing table has and adopts
// their types. An attribute matches a column under its own name first, then
// under its converted column name. Attributes without a column are reported
// and not written.
func (s *TableSchema) reconcile(existing map[string]feature.Kind) []string {
	var dropped []string
	used := make(map[string]bool)
	kept := s.Columns[:0]
	for _, c := range s.Columns {
		name, ok := matchColumn(existing, c)
		if !ok || used[name] {
			dropped = append(dropped, c.Attribute)
			continue
		}
		used[name] = true
		c.Name = name
		c.Kind = existing[name]
		kept = append(kept, c)
	}
	s.Columns = kept
	return dropped
}

func matchColumn(existing map[string]feature.Kind, c TableColumn) (string, bool) {
	if _, ok := existing[c.Attribute]; ok {
		return c.Attribute, true
	}
	if _, ok := existing[c.Name]; ok {
		return c.Name, true
	}
	return "", false
}
