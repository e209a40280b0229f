package canonicalize

import "github.com/pasifika-atlas/reef/pkg/models"

// CoerceKind selects the type coercion applied to a mapped field.
type CoerceKind string

const (
	CoerceString    CoerceKind = "string"
	CoerceYear      CoerceKind = "year"
	CoerceBudget    CoerceKind = "budget"
	CoerceTriState  CoerceKind = "tristate"
	CoerceStatus    CoerceKind = "status"
	CoerceStreaming CoerceKind = "streaming"
	CoerceList      CoerceKind = "list"
	CoerceLangList  CoerceKind = "langlist"
	CoerceFloat     CoerceKind = "float"
)

// FieldMapping maps one canonical attribute onto one or more source paths;
// the first non-empty source value wins.
type FieldMapping struct {
	Target  string
	Sources []string
	Coerce  CoerceKind
}

// Profile describes how one source system's rows map onto the canonical
// schema. Profiles are keyed by (source system, entity type).
type Profile struct {
	SourceSystem string
	EntityType   string
	TrustTier    string
	// GeometryAuthoritative marks this source's geometry as allowed to
	// replace existing entity geometry on merge.
	GeometryAuthoritative bool
	// ExternalIDField is the source's own stable identifier column, if any.
	ExternalIDField string
	// NameSources are tried in order for the required title/name field.
	NameSources []string
	// DefaultKind is the geographic entity kind when the source doesn't say.
	DefaultKind string
	// GeometryEncoding declares the encoding of raw geometry blobs when the
	// record itself doesn't carry one.
	GeometryEncoding string
	FieldMappings    []FieldMapping
	// CountryPrefix/IslandPrefix expand numbered affiliation columns
	// ("countryAffil 1", "countryAffil 2", ...).
	CountryPrefix string
	IslandPrefix  string
}

// builtinProfiles covers the four supported source systems. The spreadsheet
// column names are preserved exactly as the upstream exports emit them,
// leading/trailing quirks included.
var builtinProfiles = map[string]*Profile{
	profileKey(models.SourceAirtable, models.EntityTypeCulturalWork):  airtableFilmProfile,
	profileKey(models.SourceBaserow, models.EntityTypeCulturalWork):   baserowFilmProfile,
	profileKey(models.SourceGeoJSON, models.EntityTypeGeographicEntity): geojsonIslandProfile,
	profileKey(models.SourceCommunity, models.EntityTypeCulturalWork): communityFilmProfile,
}

func profileKey(sourceSystem, entityType string) string {
	return sourceSystem + "/" + entityType
}

// LookupProfile returns the profile for a source system and entity type.
func LookupProfile(sourceSystem, entityType string) (*Profile, bool) {
	p, ok := builtinProfiles[profileKey(sourceSystem, entityType)]
	return p, ok
}

// RegisterProfile adds or replaces a profile; tests and bespoke imports use
// this to wire custom mappings.
func RegisterProfile(p *Profile) {
	builtinProfiles[profileKey(p.SourceSystem, p.EntityType)] = p
}

var filmFieldMappings = []FieldMapping{
	{Target: models.FieldReleaseYear, Sources: []string{"First Release Date", "releaseDate", "release_year"}, Coerce: CoerceYear},
	{Target: models.FieldBudgetAmount, Sources: []string{"budgetTot", "budget"}, Coerce: CoerceBudget},
	{Target: models.FieldFundingSources, Sources: []string{"fundingSources", "funding"}, Coerce: CoerceList},
	{Target: models.FieldLanguages, Sources: []string{"lang", "languages"}, Coerce: CoerceLangList},
	{Target: models.FieldStatus, Sources: []string{"filmStatus", "status"}, Coerce: CoerceStatus},
	{Target: models.FieldIndigenousLeadership, Sources: []string{"Indigenous leadership in team?", "indigenous_leadership"}, Coerce: CoerceTriState},
	{Target: models.FieldStreaming, Sources: []string{"streamingPlatform", "streaming"}, Coerce: CoerceStreaming},
	{Target: models.FieldAwards, Sources: []string{"awards"}, Coerce: CoerceList},
	{Target: models.FieldSummary, Sources: []string{"summary"}, Coerce: CoerceString},
	{Target: models.FieldLogline, Sources: []string{"logline"}, Coerce: CoerceString},
}

var airtableFilmProfile = &Profile{
	SourceSystem:    models.SourceAirtable,
	EntityType:      models.EntityTypeCulturalWork,
	TrustTier:       models.TrustTierVerified,
	ExternalIDField: "airtableId",
	NameSources:     []string{"filmName", "title"},
	FieldMappings:   filmFieldMappings,
	CountryPrefix:   "countryAffil",
	IslandPrefix:    "island",
}

var baserowFilmProfile = &Profile{
	SourceSystem:    models.SourceBaserow,
	EntityType:      models.EntityTypeCulturalWork,
	TrustTier:       models.TrustTierVerified,
	ExternalIDField: "id",
	NameSources:     []string{"filmName", "title"},
	FieldMappings:   filmFieldMappings,
	CountryPrefix:   "countryAffil",
	IslandPrefix:    "island",
}

// geojsonIslandProfile maps island features from the vector datasets. The
// name fallback order follows the upstream property conventions: USGS name,
// WCMC name, local name, then geoname.
var geojsonIslandProfile = &Profile{
	SourceSystem:          models.SourceGeoJSON,
	EntityType:            models.EntityTypeGeographicEntity,
	TrustTier:             models.TrustTierVerified,
	GeometryAuthoritative: true,
	NameSources:           []string{"Name_USGSO", "NAME_wcmcI", "NAME_LOCAL", "GEONAME"},
	DefaultKind:           models.KindIsland,
	GeometryEncoding:      "geojson",
	FieldMappings: []FieldMapping{
		{Target: models.FieldAreaKm2, Sources: []string{"IslandArea", "area_km2"}, Coerce: CoerceFloat},
	},
}

var communityFilmProfile = &Profile{
	SourceSystem:    models.SourceCommunity,
	EntityType:      models.EntityTypeCulturalWork,
	TrustTier:       models.TrustTierUnverified,
	ExternalIDField: "",
	NameSources:     []string{"title", "filmName"},
	FieldMappings: []FieldMapping{
		{Target: models.FieldReleaseYear, Sources: []string{"release_year", "releaseDate"}, Coerce: CoerceYear},
		{Target: models.FieldBudgetAmount, Sources: []string{"budget"}, Coerce: CoerceBudget},
		{Target: models.FieldLanguages, Sources: []string{"languages"}, Coerce: CoerceLangList},
		{Target: models.FieldStatus, Sources: []string{"status"}, Coerce: CoerceStatus},
		{Target: models.FieldIndigenousLeadership, Sources: []string{"indigenous_leadership"}, Coerce: CoerceTriState},
		{Target: models.FieldStreaming, Sources: []string{"streaming"}, Coerce: CoerceStreaming},
		{Target: models.FieldSummary, Sources: []string{"summary"}, Coerce: CoerceString},
		{Target: models.FieldLogline, Sources: []string{"logline"}, Coerce: CoerceString},
	},
	CountryPrefix: "country",
	IslandPrefix:  "island",
}
