package models

import (
	"encoding/json"
	"time"
)

// FieldChange records one attribute transition inside a ledger entry.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// LedgerEntry is one append-only provenance record: which source record, in
// which run, produced which field-level changes on an entity. Seq orders the
// entries per entity; replaying diffs up to a run boundary reconstructs the
// entity state as of that run.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	EntityID       string          `json:"entity_id" db:"entity_id"`
	Seq            int             `json:"seq" db:"seq"`
	RunID          string          `json:"run_id" db:"run_id"`
	SourceRecordID string          `json:"source_record_id" db:"source_record_id"`
	Diff           json.RawMessage `json:"diff" db:"diff"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// DiffMap decodes the field-level diff payload.
func (e *LedgerEntry) DiffMap() (map[string]FieldChange, error) {
	out := map[string]FieldChange{}
	if len(e.Diff) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Diff, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EntityHistoryResponse is the full provenance history for one entity.
type EntityHistoryResponse struct {
	EntityID string        `json:"entity_id"`
	Entries  []LedgerEntry `json:"entries"`
}
