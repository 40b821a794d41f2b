// Package store persists normalized feature collections into PostGIS.
//
// It owns table inference and creation, the per-row upsert with savepoint
// isolation and a single sanitized retry, post-load maintenance, and the
// read-back queries used by the query command and the HTTP API.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is used when a table identity has no schema.
const DefaultSchema = "public"

// GeometryColumn is the name of the geometry column of every created table.
const GeometryColumn = "geom"

// DBTX is the interface for database operations.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// DB is a DBTX that can also open transactions, such as *pgxpool.Pool.
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Store runs every spatial store operation over a pool.
type Store struct {
	db DB
}

// New returns a Store backed by db.
func New(db DB) *Store {
	return &Store{db: db}
}

// TableIdentity names a table within a schema.
type TableIdentity struct {
	Schema string
	Table  string
}

// ParseIdentity splits "schema.table". A bare name uses DefaultSchema.
func ParseIdentity(s string) TableIdentity {
	if schema, table, ok := strings.Cut(s, "."); ok {
		return TableIdentity{Schema: schema, Table: table}
	}
	return TableIdentity{Schema: DefaultSchema, Table: s}
}

func (t TableIdentity) schema() string {
	if t.Schema == "" {
		return DefaultSchema
	}
	return t.Schema
}

// Quoted returns the identity as a quoted, schema-qualified SQL identifier.
func (t TableIdentity) Quoted() string {
	return quoteIdentifier(t.schema()) + "." + quoteIdentifier(t.Table)
}

// String returns schema.table unquoted, for logs.
func (t TableIdentity) String() string {
	return t.schema() + "." + t.Table
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// reservedColumns are owned by the loader; attributes with these names are
// stored under a suffixed name.
var reservedColumns = map[string]bool{"id": true, GeometryColumn: true}

// columnName converts an attribute name to a database column name.
// "NOM_COM" -> "nom_com", "Surface m2" -> "surface_m_2" style snake case.
func columnName(attr string) string {
	name := strcase.ToSnake(strings.TrimSpace(attr))
	if name == "" {
		name = "attr"
	}
	if reservedColumns[name] {
		name += "_source"
	}
	return name
}

// TableExists checks information_schema for the table.
func (s *Store) TableExists(ctx context.Context, ident TableIdentity) (bool, error) {
	return tableExists(ctx, s.db, ident)
}

func tableExists(ctx context.Context, db DBTX, ident TableIdentity) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, ident.schema(), ident.Table).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("check table %s: %w", ident, err))
	}
	return exists, nil
}

// TableSRID returns the SRID registered in geometry_columns for the table's
// geometry column, or 0 when the column is not registered.
func (s *Store) TableSRID(ctx context.Context, ident TableIdentity) (int, error) {
	return tableSRID(ctx, s.db, ident)
}

func tableSRID(ctx context.Context, db DBTX, ident TableIdentity) (int, error) {
	var srid int
	err := db.QueryRow(ctx,
		`SELECT srid FROM geometry_columns
		WHERE f_table_schema = $1 AND f_table_name = $2 AND f_geometry_column = $3`,
		ident.schema(), ident.Table, GeometryColumn).Scan(&srid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(fmt.Errorf("find SRID of %s: %w", ident, err))
	}
	return srid, nil
}

// CountRows returns the number of rows in the table.
func (s *Store) CountRows(ctx context.Context, ident TableIdentity) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+ident.Quoted()).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count %s: %w", ident, err))
	}
	return n, nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}
