package schema

// CadastreRenames maps known source spellings of cadastral attributes to their
// canonical column names. Keys are matched case-insensitively.
var CadastreRenames = map[string]string{
	"CODE_INSEE":  "code_insee",
	"NOM_COM":     "nom",
	"NOM_COMMUNE": "nom",
	"COMMUNE":     "nom",
	"SURFACE":     "surface",
	"NUMERO":      "numero",
	"SECTION":     "section",
	"PREFIXE":     "prefixe",
	"CONTENANCE":  "contenance",
}

// CommuneCandidates lists attribute names that can identify the commune, in
// priority order. Name variants come before code variants.
var CommuneCandidates = []string{
	"nom",
	"nom_com",
	"nom_commune",
	"commune",
	"libelle",
	"code_insee",
	"insee",
	"code_commune",
	"depcom",
}

// CommuneQueryFallbacks lists the fields tried, in order, when reading back by
// commune and the requested field does not exist on the table.
var CommuneQueryFallbacks = []string{"nom", "commune", "code_insee", "insee", "nom_com"}
