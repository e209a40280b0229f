package events

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated EventType = "entity.created"
	EventTypeEntityUpdated EventType = "entity.updated"
	EventTypeEntityMerged  EventType = "entity.merged"

	EventTypeRecordHeld     EventType = "record.held"
	EventTypeRecordRejected EventType = "record.rejected"

	EventTypeSnapshotPublished EventType = "snapshot.published"
)
