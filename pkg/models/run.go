package models

import "time"

// Ingestion run statuses.
const (
	RunStatusRunning    = "running"
	RunStatusCompleted  = "completed"
	RunStatusAborted    = "aborted"
	RunStatusFailed     = "failed"
	RunStatusIncomplete = "incomplete"
)

// IngestionRun is one execution of the pipeline over a batch of source
// extracts.
type IngestionRun struct {
	ID              string     `json:"id" db:"id"`
	Sources         string     `json:"sources" db:"sources"`
	Status          string     `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	SnapshotVersion *int64     `json:"snapshot_version,omitempty" db:"snapshot_version"`
	RecordsTotal    int        `json:"records_total" db:"records_total"`
	RecordsAccepted int        `json:"records_accepted" db:"records_accepted"`
	RecordsHeld     int        `json:"records_held" db:"records_held"`
	RecordsRejected int        `json:"records_rejected" db:"records_rejected"`
}

// RunListResponse is the response for listing ingestion runs.
type RunListResponse struct {
	Items      []IngestionRun `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}
