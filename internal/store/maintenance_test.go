package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestUpdateStatistics(t *testing.T) {
	db := newFakeDB()
	New(db).UpdateStatistics(context.Background(), parcelles)

	if got := db.executed("ANALYZE"); len(got) != 1 || got[0] != `ANALYZE "public"."parcelles"` {
		t.Errorf("ANALYZE = %v", got)
	}
	found := false
	for _, s := range db.statements {
		if strings.Contains(s, "Populate_Geometry_Columns($1::regclass)") {
			found = true
		}
	}
	if !found {
		t.Errorf("Populate_Geometry_Columns not called: %v", db.statements)
	}
}

func TestUpdateStatistics_FailuresAreSwallowed(t *testing.T) {
	db := newFakeDB()
	db.queryRow = func(sql string, _ []any) pgx.Row {
		if strings.Contains(sql, "Populate_Geometry_Columns") {
			return fakeRow{err: &pgconn.PgError{Code: "42883", Message: "function does not exist"}}
		}
		return nil
	}

	// Must not panic and has nothing to return.
	New(db).UpdateStatistics(context.Background(), parcelles)
}

func TestValidateInsertion(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		expected int
		want     bool
	}{
		{"exact", 5, 5, true},
		{"more rows from earlier loads", 8, 5, true},
		{"missing rows", 3, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newFakeDB()
			db.inserted = make([][]any, tt.rows)

			got, err := New(db).ValidateInsertion(context.Background(), parcelles, tt.expected)
			if err != nil {
				t.Fatalf("ValidateInsertion() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateInsertion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRebuildSpatialIndex(t *testing.T) {
	db := newFakeDB()
	if err := New(db).RebuildSpatialIndex(context.Background(), parcelles); err != nil {
		t.Fatalf("RebuildSpatialIndex() error = %v", err)
	}

	want := []string{
		`DROP INDEX IF EXISTS "public"."parcelles_geom_gist"`,
		`CREATE INDEX "parcelles_geom_gist" ON "public"."parcelles" USING GIST (geom)`,
	}
	if len(db.statements) != len(want) {
		t.Fatalf("statements = %v", db.statements)
	}
	for i := range want {
		if db.statements[i] != want[i] {
			t.Errorf("statement %d = %s, want %s", i, db.statements[i], want[i])
		}
	}
}

func TestIsConnectivity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", &pgconn.PgError{Code: "28P01"}, true},
		{"connection", &pgconn.PgError{Code: "08006"}, true},
		{"shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"check", &pgconn.PgError{Code: "23514"}, false},
		{"wrapped", &ConnectivityError{Err: errors.New("dial")}, true},
		{"plain", errors.New("boom"), false},
		{"deadline", fmt.Errorf("write: %w", context.DeadlineExceeded), false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivity(tt.err); got != tt.want {
				t.Errorf("IsConnectivity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "08001"})
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("classify() = %T, want *ConnectivityError", err)
	}
	if SQLState(err) != "08001" {
		t.Errorf("SQLState() = %q", SQLState(err))
	}

	plain := errors.New("x")
	if classify(plain) != plain {
		t.Errorf("classify() wrapped a non-connectivity error")
	}
}
