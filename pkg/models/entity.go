package models

import (
	"encoding/json"
	"time"
)

// Entity types curated by the pipeline.
const (
	EntityTypeCulturalWork     = "cultural_work"
	EntityTypeGeographicEntity = "geographic_entity"
)

// GeographicEntity kinds.
const (
	KindIsland       = "island"
	KindMaritimeZone = "maritime_zone"
	KindPlaceName    = "place_name"
	KindOther        = "other"
)

// Relation kinds between canonical entities. Relations are a flat set-valued
// table keyed by canonical id pairs, never an ownership tree.
const (
	RelationCountryAffiliation = "country_affiliation"
	RelationIslandAffiliation  = "island_affiliation"
	RelationRelatedEntity      = "related_entity"
)

// CanonicalEntity is the single deduplicated representation of a film or
// geographic feature. Attributes holds the merged field payload; affiliation
// sets live in entity_relations.
type CanonicalEntity struct {
	ID             string          `json:"id" db:"id"`
	EntityType     string          `json:"entity_type" db:"entity_type"`
	Name           string          `json:"name" db:"name"`
	NormalizedName string          `json:"normalized_name" db:"normalized_name"`
	ExternalID     *string         `json:"external_id,omitempty" db:"external_id"`
	Attributes     json.RawMessage `json:"attributes" db:"attributes"`
	Geometry       json.RawMessage `json:"geometry,omitempty" db:"geometry"`
	CentroidLon    *float64        `json:"centroid_lon,omitempty" db:"centroid_lon"`
	CentroidLat    *float64        `json:"centroid_lat,omitempty" db:"centroid_lat"`
	Region         *string         `json:"region,omitempty" db:"region"`
	Fingerprint    string          `json:"fingerprint" db:"fingerprint"`
	Version        int             `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// AttributesMap decodes the merged attribute payload.
func (e *CanonicalEntity) AttributesMap() (map[string]any, error) {
	out := map[string]any{}
	if len(e.Attributes) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Attributes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EntityRelation is one edge in the non-hierarchical relation set.
type EntityRelation struct {
	FromID    string    `json:"from_id" db:"from_id"`
	ToID      string    `json:"to_id" db:"to_id"`
	Kind      string    `json:"kind" db:"kind"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EntityListResponse is the response for listing canonical entities.
type EntityListResponse struct {
	Items      []CanonicalEntity `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

// Attribute field names shared by the canonicalizer, merge policy, ledger
// diffs, and exports.
const (
	FieldTitle                = "title"
	FieldReleaseYear          = "release_year"
	FieldBudgetAmount         = "budget_amount"
	FieldBudgetCurrency       = "budget_currency"
	FieldFundingSources       = "funding_sources"
	FieldLanguages            = "languages"
	FieldStatus               = "status"
	FieldIndigenousLeadership = "indigenous_leadership"
	FieldStreaming            = "streaming"
	FieldAwards               = "awards"
	FieldSummary              = "summary"
	FieldLogline              = "logline"

	FieldName    = "name"
	FieldKind    = "kind"
	FieldRegion  = "region"
	FieldAreaKm2 = "area_km2"
)

// Production status values for cultural works.
const (
	StatusReleased     = "released"
	StatusInProduction = "in_production"
	StatusUnknown      = "unknown"
)

// Tri-state values for the indigenous-leadership flag.
const (
	TriStateYes     = "yes"
	TriStateNo      = "no"
	TriStateUnknown = "unknown"
)
