// Package events handles event emission for entity lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/kafka"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// Emitter publishes curation lifecycle events to the events topic
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) emitEntity(ctx context.Context, eventType EventType, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error {
	event := &kafka.EntityEvent{
		EventType:     string(eventType),
		EntityID:      entity.ID,
		EntityType:    entity.EntityType,
		RunID:         runID,
		Attributes:    entity.Attributes,
		SourceRecords: sourceRecordIDs,
		Version:       entity.Version,
	}

	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"entity_id":  entity.ID,
		}).Error("Failed to emit entity event")
		return err
	}
	return nil
}

// EmitEntityCreated emits an event for a newly minted canonical entity
func (e *Emitter) EmitEntityCreated(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityCreated")
	defer span.End()

	return e.emitEntity(ctx, EventTypeEntityCreated, entity, runID, sourceRecordIDs)
}

// EmitEntityUpdated emits an event for an entity whose state changed
func (e *Emitter) EmitEntityUpdated(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityUpdated")
	defer span.End()

	return e.emitEntity(ctx, EventTypeEntityUpdated, entity, runID, sourceRecordIDs)
}

// EmitEntityMerged emits an event when a source record resolves into an
// existing entity rather than creating a new one
func (e *Emitter) EmitEntityMerged(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityMerged")
	defer span.End()

	return e.emitEntity(ctx, EventTypeEntityMerged, entity, runID, sourceRecordIDs)
}

// EmitRecordOutcome emits held/rejected events for records the gate stopped.
// Accepted outcomes are covered by the entity events above.
func (e *Emitter) EmitRecordOutcome(ctx context.Context, outcome *models.ValidationOutcome, entityType string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRecordOutcome")
	defer span.End()

	var eventType EventType
	switch outcome.Status {
	case models.OutcomeHeld:
		eventType = EventTypeRecordHeld
	case models.OutcomeRejected:
		eventType = EventTypeRecordRejected
	default:
		return nil
	}

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"outcome_id":     outcome.ID,
		"status":         outcome.Status,
		"violations":     outcome.Violations,
	})

	event := &kafka.EntityEvent{
		EventType:  string(eventType),
		EntityID:   outcome.SourceRecordID,
		EntityType: entityType,
		RunID:      outcome.RunID,
		Attributes: data,
	}

	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":       eventType,
			"source_record_id": outcome.SourceRecordID,
		}).Error("Failed to emit record outcome event")
		return err
	}
	return nil
}

// EmitSnapshotPublished announces that a new snapshot became current
func (e *Emitter) EmitSnapshotPublished(ctx context.Context, snap *models.PublicationSnapshot, entityCount int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSnapshotPublished")
	defer span.End()

	event := &kafka.SnapshotEvent{
		EventType:   string(EventTypeSnapshotPublished),
		Version:     snap.Version,
		RunID:       snap.RunID,
		EntityCount: entityCount,
		GeneratedAt: snap.GeneratedAt,
	}

	if err := e.producer.PublishSnapshotEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("version", snap.Version).Error("Failed to emit snapshot event")
		return err
	}
	return nil
}
