package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records statements and emulates the small part of PostgreSQL the
// store relies on: table existence, column metadata, aborted transactions
// and savepoint rollback.
type fakeDB struct {
	tables  map[string]bool
	columns map[string][][2]string
	srid    int

	// insertErr fails an INSERT when it returns non-nil.
	insertErr func(args []any) error
	// conflict reports a natural-key conflict for an INSERT.
	conflict func(args []any) bool
	// beginErr fails Begin.
	beginErr error
	// queryRows answers Query calls not about information_schema.
	queryRows func(sql string, args []any) *fakeRows
	// queryRow answers QueryRow calls when it returns non-nil.
	queryRow func(sql string, args []any) pgx.Row

	statements []string
	rowCtx     context.Context
	inserted   [][]any
	committed  int
	aborted    bool

	snapshot struct {
		inserted int
		tables   map[string]bool
	}
	inTx bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: map[string]bool{}, columns: map[string][][2]string{}}
}

func (f *fakeDB) withTable(ident string, cols ...[2]string) *fakeDB {
	f.tables[ident] = true
	f.columns[ident] = cols
	return f
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.inTx = true
	f.snapshot.inserted = len(f.inserted)
	f.snapshot.tables = make(map[string]bool, len(f.tables))
	for k, v := range f.tables {
		f.snapshot.tables[k] = v
	}
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)

	if f.aborted && !strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT") {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted"}
	}

	switch {
	case strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT"):
		f.aborted = false
	case strings.HasPrefix(sql, "CREATE TABLE"):
		f.tables[identOf(sql, "CREATE TABLE IF NOT EXISTS ")] = true
	case strings.HasPrefix(sql, "TRUNCATE"):
		f.inserted = nil
	case strings.HasPrefix(sql, "INSERT"):
		if f.insertErr != nil {
			if err := f.insertErr(args); err != nil {
				f.aborted = true
				return pgconn.CommandTag{}, err
			}
		}
		if f.conflict != nil && f.conflict(args) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.inserted = append(f.inserted, args)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag(""), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.statements = append(f.statements, sql)
	f.rowCtx = ctx
	if f.queryRow != nil {
		if row := f.queryRow(sql, args); row != nil {
			return row
		}
	}
	switch {
	case strings.Contains(sql, "information_schema.tables"):
		return fakeRow{vals: []any{f.tables[fmt.Sprintf("%s.%s", args[0], args[1])]}}
	case strings.Contains(sql, "geometry_columns"):
		if f.srid == 0 {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{f.srid}}
	case strings.Contains(sql, "COUNT(*)"):
		return fakeRow{vals: []any{int64(len(f.inserted))}}
	case strings.Contains(sql, "Populate_Geometry_Columns"):
		return fakeRow{vals: []any{1}}
	default:
		return fakeRow{vals: []any{1}}
	}
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.statements = append(f.statements, sql)
	if strings.Contains(sql, "information_schema.columns") {
		var data [][]any
		for _, c := range f.columns[fmt.Sprintf("%s.%s", args[0], args[1])] {
			data = append(data, []any{c[0], c[1]})
		}
		return &fakeRows{data: data}, nil
	}
	if f.queryRows != nil {
		return f.queryRows(sql, args), nil
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) executed(prefix string) []string {
	var out []string
	for _, s := range f.statements {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// identOf extracts schema.table from `<prefix>"schema"."table" ...`.
func identOf(sql, prefix string) string {
	rest := strings.TrimPrefix(sql, prefix)
	rest, _, _ = strings.Cut(rest, " ")
	return strings.ReplaceAll(rest, `"`, "")
}

type fakeTx struct {
	pgx.Tx
	db   *fakeDB
	done bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.committed++
	t.db.inTx = false
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.inserted = t.db.inserted[:t.db.snapshot.inserted]
	t.db.tables = t.db.snapshot.tables
	t.db.aborted = false
	t.db.inTx = false
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	pgx.Rows
	fields []string
	data   [][]any
	pos    int
	err    error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.data[r.pos-1]) }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) Close()                 {}
func (r *fakeRows) Err() error             { return r.err }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.fields))
	for i, name := range r.fields {
		fds[i] = pgconn.FieldDescription{Name: name}
	}
	return fds
}

func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		if dv.Kind() == reflect.Pointer {
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(v.Convert(dv.Type().Elem()))
			dv.Set(p)
			continue
		}
		if !v.Type().ConvertibleTo(dv.Type()) {
			return errors.New("scan: incompatible types")
		}
		dv.Set(v.Convert(dv.Type()))
	}
	return nil
}
