package models

import (
	"encoding/json"
	"time"
)

// PublicationSnapshot is an immutable, versioned materialization of all
// Accepted entity and relation state. Versions are strictly increasing; the
// current pointer moves atomically from one version to the next.
type PublicationSnapshot struct {
	Version     int64           `json:"version" db:"version"`
	RunID       string          `json:"run_id" db:"run_id"`
	GeneratedAt time.Time       `json:"generated_at" db:"generated_at"`
	Entities    json.RawMessage `json:"entities" db:"entities"`
	Relations   json.RawMessage `json:"relations" db:"relations"`
}

// SnapshotEntity is one deep-copied entity inside a snapshot payload.
type SnapshotEntity struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Region     *string         `json:"region,omitempty"`
	SourceIDs  []string        `json:"source_record_ids"`
}

// SnapshotRelation is one relation edge inside a snapshot payload.
type SnapshotRelation struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Kind   string `json:"kind"`
}

// SnapshotExport is the versioned read surface consumed by the map UI and
// open-data exports.
type SnapshotExport struct {
	Version     int64              `json:"version"`
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Entities    []SnapshotEntity   `json:"entities"`
	Relations   []SnapshotRelation `json:"relations"`
}

// EntityList decodes the embedded entity payload.
func (s *PublicationSnapshot) EntityList() ([]SnapshotEntity, error) {
	var out []SnapshotEntity
	if len(s.Entities) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(s.Entities, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RelationList decodes the embedded relation payload.
func (s *PublicationSnapshot) RelationList() ([]SnapshotRelation, error) {
	var out []SnapshotRelation
	if len(s.Relations) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(s.Relations, &out); err != nil {
		return nil, err
	}
	return out, nil
}
