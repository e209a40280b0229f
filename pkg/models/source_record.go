package models

import (
	"encoding/json"
	"time"
)

// Source system identifiers for the supported extract inputs.
const (
	SourceAirtable  = "airtable"
	SourceBaserow   = "baserow"
	SourceGeoJSON   = "geojson"
	SourceCommunity = "community"
)

// Trust tiers: verified ingestion sources may auto-accept; unverified
// community submissions always route through moderation.
const (
	TrustTierVerified   = "verified"
	TrustTierUnverified = "unverified"
)

// SourceRecord is an immutable snapshot of one input row or feature from one
// ingestion run. Never updated or deleted; superseding information arrives as
// a new SourceRecord plus a new ledger entry.
type SourceRecord struct {
	ID               string          `json:"id" db:"id"`
	SourceSystem     string          `json:"source_system" db:"source_system"`
	RunID            string          `json:"run_id" db:"run_id"`
	EntityType       string          `json:"entity_type" db:"entity_type"`
	Fields           json.RawMessage `json:"fields" db:"fields"`
	RawGeometry      []byte          `json:"raw_geometry,omitempty" db:"raw_geometry"`
	GeometryEncoding *string         `json:"geometry_encoding,omitempty" db:"geometry_encoding"`
	ContentHash      string          `json:"content_hash" db:"content_hash"`
	TrustTier        string          `json:"trust_tier" db:"trust_tier"`
	ReceivedAt       time.Time       `json:"received_at" db:"received_at"`
}

// FieldsMap decodes the verbatim raw field mapping.
func (r *SourceRecord) FieldsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(r.Fields) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSourceRecordRequest inserts one raw row into the append-only log.
type CreateSourceRecordRequest struct {
	SourceSystem     string          `json:"source_system" validate:"required"`
	RunID            string          `json:"run_id" validate:"required"`
	EntityType       string          `json:"entity_type" validate:"required"`
	Fields           json.RawMessage `json:"fields" validate:"required"`
	RawGeometry      []byte          `json:"raw_geometry,omitempty"`
	GeometryEncoding *string         `json:"geometry_encoding,omitempty"`
	ContentHash      string          `json:"content_hash" validate:"required"`
	TrustTier        string          `json:"trust_tier" validate:"required,oneof=verified unverified"`
}

// FieldsMap decodes the request's raw field mapping.
func (r *CreateSourceRecordRequest) FieldsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(r.Fields) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}
