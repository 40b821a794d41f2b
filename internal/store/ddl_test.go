package store

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/paulmach/orb"
)

func TestColumnName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"nom", "nom"},
		{"NOM_COM", "nom_com"},
		{"codeInsee", "code_insee"},
		{"id", "id_source"},
		{"GEOM", "geom_source"},
		{"  ", "attr"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := columnName(tt.in); got != tt.want {
				t.Errorf("columnName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTableIdentity(t *testing.T) {
	tests := []struct {
		in     string
		quoted string
		str    string
	}{
		{"parcelles", `"public"."parcelles"`, "public.parcelles"},
		{"cadastre.parcelles", `"cadastre"."parcelles"`, "cadastre.parcelles"},
		{`we"ird`, `"public"."we""ird"`, `public.we"ird`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id := ParseIdentity(tt.in)
			if got := id.Quoted(); got != tt.quoted {
				t.Errorf("Quoted() = %s, want %s", got, tt.quoted)
			}
			if got := id.String(); got != tt.str {
				t.Errorf("String() = %s, want %s", got, tt.str)
			}
		})
	}

	if got := (TableIdentity{Table: "t"}).Quoted(); got != `"public"."t"` {
		t.Errorf("empty schema Quoted() = %s", got)
	}
}

func TestInferSchema(t *testing.T) {
	c := &feature.Collection{SRID: 2154}
	a := feature.New(nil)
	a.Set("nom", feature.Text("Paris"))
	a.Set("surface", feature.Int(10))
	a.Set("bati", feature.Bool(true))
	b := feature.New(orb.MultiLineString{{{0, 0}, {1, 1}}})
	b.Set("nom", feature.Text("Lyon"))
	b.Set("surface", feature.Float(2.5))
	b.Set("Nom", feature.Text("dup"))
	b.Set("vide", feature.Null())
	c.Features = []*feature.Feature{a, b}

	s := InferSchema(c, parcelles, nil)

	if s.GeometryType != "MultiLineString" || s.SRID != 2154 {
		t.Errorf("geometry = %s/%d, want MultiLineString/2154", s.GeometryType, s.SRID)
	}

	want := []TableColumn{
		{Attribute: "nom", Name: "nom", Kind: feature.KindText},
		{Attribute: "surface", Name: "surface", Kind: feature.KindFloat},
		{Attribute: "bati", Name: "bati", Kind: feature.KindBoolean},
		{Attribute: "vide", Name: "vide", Kind: feature.KindText},
	}
	if len(s.Columns) != len(want) {
		t.Fatalf("columns = %+v, want %+v", s.Columns, want)
	}
	for i := range want {
		if s.Columns[i] != want[i] {
			t.Errorf("column %d = %+v, want %+v", i, s.Columns[i], want[i])
		}
	}
	if len(s.Collisions) != 1 || s.Collisions[0] != "Nom" {
		t.Errorf("collisions = %v, want [Nom]", s.Collisions)
	}
}

func TestInferSchema_NoGeometry(t *testing.T) {
	c := &feature.Collection{SRID: 2154, Features: []*feature.Feature{feature.New(nil)}}
	s := InferSchema(c, parcelles, nil)
	if s.GeometryType != "Geometry" {
		t.Errorf("GeometryType = %s, want Geometry", s.GeometryType)
	}
}

func TestInsertSQL(t *testing.T) {
	s := &TableSchema{
		Table: parcelles,
		Columns: []TableColumn{
			{Attribute: "nom", Name: "nom", Kind: feature.KindText},
			{Attribute: "id", Name: "id_source", Kind: feature.KindInteger},
		},
		SRID: 2154,
	}

	want := `INSERT INTO "public"."parcelles" ("nom", "id_source", geom) VALUES ($1, $2, $3::text::geometry) ON CONFLICT DO NOTHING`
	if got := s.InsertSQL(); got != want {
		t.Errorf("InsertSQL() =\n%s\nwant\n%s", got, want)
	}
}

func TestCreateStatements(t *testing.T) {
	s := &TableSchema{
		Table:         TableIdentity{Schema: "cadastre", Table: "parcelles"},
		Columns:       []TableColumn{{Attribute: "idu", Name: "idu", Kind: feature.KindText}},
		GeometryType:  "MultiPolygon",
		SRID:          2154,
		UniqueColumns: []string{"idu"},
	}

	stmts := s.CreateStatements()
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(stmts))
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "cadastre"."parcelles"`,
		`"idu" TEXT`,
		"geom geometry(MultiPolygon, 2154)",
		`CONSTRAINT "parcelles_natural_key" UNIQUE ("idu")`,
	} {
		if !strings.Contains(stmts[0], want) {
			t.Errorf("CREATE TABLE missing %q", want)
		}
	}
	if want := `CREATE INDEX IF NOT EXISTS "parcelles_geom_idx" ON "cadastre"."parcelles" USING GIST (geom)`; stmts[1] != want {
		t.Errorf("CREATE INDEX = %s", stmts[1])
	}
}

func TestKindOfSQLType(t *testing.T) {
	tests := map[string]feature.Kind{
		"integer":           feature.KindInteger,
		"bigint":            feature.KindInteger,
		"double precision":  feature.KindFloat,
		"numeric":           feature.KindFloat,
		"boolean":           feature.KindBoolean,
		"text":              feature.KindText,
		"character varying": feature.KindText,
	}
	for in, want := range tests {
		if got := kindOfSQLType(in); got != want {
			t.Errorf("kindOfSQLType(%q) = %v, want %v", in, got, want)
		}
	}
}
