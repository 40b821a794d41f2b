package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "table exists through wrapping",
			err:         fmt.Errorf("write: public.parcelles: %w", store.ErrTableExists),
			wantCode:    "DB003",
			wantMessage: "The target table already exists",
		},
		{
			name:     "schema error",
			err:      &store.SchemaError{Table: store.ParseIdentity("parcelles"), Err: errors.New("srid mismatch")},
			wantCode: "DB004",
		},
		{
			name:     "connectivity error",
			err:      &store.ConnectivityError{Err: errors.New("dial tcp 127.0.0.1:5432")},
			wantCode: "DB001",
		},
		{
			name:     "authentication failure",
			err:      &store.ConnectivityError{Err: &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}},
			wantCode: "DB002",
		},
		{
			name:     "connection refused text",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: "DB001",
		},
		{
			name:     "postgis missing",
			err:      errors.New(`ERROR: type "geometry" does not exist (SQLSTATE 42704)`),
			wantCode: "DB005",
		},
		{
			name:     "no commune field",
			err:      fmt.Errorf("query: %w", store.ErrNoCommuneField),
			wantCode: "DB006",
		},
		{
			name:     "reprojection",
			err:      errors.New("reproject EPSG:4326 -> EPSG:2154: invalid coordinate"),
			wantCode: "GEO001",
		},
		{
			name:     "unsupported crs",
			err:      errors.New("unsupported crs authority \"ESRI\""),
			wantCode: "GEO002",
		},
		{
			name:     "geometry decode",
			err:      errors.New("feature 3: decode geometry: wkb: invalid data"),
			wantCode: "GEO003",
		},
		{
			name:     "unsupported format",
			err:      fmt.Errorf("parcelles.kml: %w", source.ErrUnsupportedFormat),
			wantCode: "SRC001",
		},
		{
			name:     "missing component",
			err:      fmt.Errorf("p.shp: %w: p.dbf", source.ErrMissingComponent),
			wantCode: "SRC002",
		},
		{
			name:     "file not found",
			err:      fmt.Errorf("stat parcelles.geojson: %w", fs.ErrNotExist),
			wantCode: "SRC003",
		},
		{
			name:     "bad geojson",
			err:      errors.New("read parcelles.geojson: decode geojson: unexpected end of JSON input"),
			wantCode: "SRC004",
		},
		{
			name:     "flatgeobuf without index",
			err:      fmt.Errorf("read p.fgb: %w", source.ErrNoSpatialIndex),
			wantCode: "SRC005",
		},
		{
			name:     "geopackage layer",
			err:      fmt.Errorf("read p.gpkg: %w", source.ErrLayerNotFound),
			wantCode: "SRC006",
		},
		{
			name:     "body too large",
			err:      errors.New("http: request body too large"),
			wantCode: "SRC007",
		},
		{
			name:     "busy",
			err:      ErrTooManyLoads,
			wantCode: "LOAD001",
		},
		{
			name:     "cancelled",
			err:      fmt.Errorf("write public.parcelles: %w", context.Canceled),
			wantCode: "LOAD002",
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("load: %w", context.DeadlineExceeded),
			wantCode: "LOAD003",
		},
		{
			name:     "no features",
			err:      ErrNoFeatures,
			wantCode: "LOAD004",
		},
		{
			name:     "invalid mode",
			err:      errors.New(`unknown write mode "upsert" (want append, replace or fail)`),
			wantCode: "LOAD005",
		},
		{
			name:        "unknown error falls back",
			err:         errors.New("something odd"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapError_CaseInsensitive(t *testing.T) {
	got := MapError(errors.New("DECODE GEOJSON: bad token"))
	if got.Code != "SRC004" {
		t.Errorf("MapError() code = %q, want SRC004", got.Code)
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(store.ErrTableExists)
	want := "The target table already exists (Code: DB003). Use --mode append or --mode replace"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mapped", source.ErrUnsupportedFormat, true},
		{"unmapped", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Fatal("NewUserError(nil) should be nil")
	}

	technical := fmt.Errorf("write: %w", store.ErrTableExists)
	ue := NewUserError(technical)

	if ue.Error() != "The target table already exists" {
		t.Errorf("Error() = %q", ue.Error())
	}
	if !errors.Is(ue, store.ErrTableExists) {
		t.Error("UserError should unwrap to the technical error")
	}
	if !strings.HasPrefix(ue.User.Code, "DB") {
		t.Errorf("User.Code = %q", ue.User.Code)
	}
}
