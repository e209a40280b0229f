package models

import "github.com/pasifika-atlas/reef/pkg/geometry"

// AffiliationRef is a not-yet-resolved reference from a draft record to a
// geographic entity, by name or by an explicit external id. The gate resolves
// these against existing and co-submitted entities before acceptance.
type AffiliationRef struct {
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// Draft is a canonicalized record before identity resolution: shaped like a
// cultural work or geographic entity, carrying no canonical id yet.
type Draft struct {
	EntityType   string
	SourceSystem string
	// ExternalID is the source's own stable identifier, when it supplies one.
	ExternalID string
	// DisplayName is the title (works) or name (geographic entities).
	DisplayName string
	// NormalizedName is DisplayName after lowercase, diacritic folding, and
	// whitespace collapse; the resolver's matching key.
	NormalizedName string
	// Attributes is the canonical field payload keyed by the shared field
	// name constants.
	Attributes map[string]any
	// Affiliations are unresolved geographic references (works only).
	Affiliations []AffiliationRef
	// Geometry is the validated canonical geometry, nil when the source had
	// none or validation failed (GeometryErr carries the failure).
	Geometry    *geometry.Geometry
	GeometryErr string
	// GeometryAuthoritative marks sources whose geometry may replace an
	// existing entity's geometry on merge.
	GeometryAuthoritative bool
	TrustTier             string
	// CoercionNotes records type-coercion failures (values kept null, never
	// silently zeroed).
	CoercionNotes []string
}
