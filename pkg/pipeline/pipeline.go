// Package pipeline orchestrates ingestion runs: raw records flow through
// canonicalization, identity resolution, merging, and the validation gate,
// and accepted state lands in the canonical store with full provenance.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/canonicalize"
	"github.com/pasifika-atlas/reef/pkg/fingerprint"
	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/matching"
	"github.com/pasifika-atlas/reef/pkg/merging"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// EntityStore is the write surface for accepted state. ApplyMerge persists
// the entity, its ledger entry, and its relation rows in one transaction;
// AppendLedgerEntry records a run reference for an entity whose state did
// not change.
type EntityStore interface {
	ApplyMerge(ctx context.Context, entity *models.CanonicalEntity, entry *models.LedgerEntry, relations []models.EntityRelation) (*models.CanonicalEntity, error)
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error)
}

// OutcomeStore records the gate's decisions.
type OutcomeStore interface {
	Create(ctx context.Context, sourceRecordID, runID, status string, entityID *string, violations []models.RuleViolation) (*models.ValidationOutcome, error)
}

// EventSink announces lifecycle changes downstream. May be nil-backed when
// no broker is configured.
type EventSink interface {
	EmitEntityCreated(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error
	EmitEntityUpdated(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error
	EmitEntityMerged(ctx context.Context, entity *models.CanonicalEntity, runID string, sourceRecordIDs []string) error
	EmitRecordOutcome(ctx context.Context, outcome *models.ValidationOutcome, entityType string) error
}

// Pipeline processes one source record end to end. Concurrency control is
// the runner's job: the pipeline itself assumes records for the same entity
// arrive serially.
type Pipeline struct {
	canonicalizer *canonicalize.Canonicalizer
	resolver      *matching.Resolver
	merger        *merging.Merger
	gate          *gate.Gate
	entities      EntityStore
	outcomes      OutcomeStore
	events        EventSink
	logger        ectologger.Logger
}

func New(
	canonicalizer *canonicalize.Canonicalizer,
	resolver *matching.Resolver,
	merger *merging.Merger,
	g *gate.Gate,
	entities EntityStore,
	outcomes OutcomeStore,
	events EventSink,
	logger ectologger.Logger,
) *Pipeline {
	return &Pipeline{
		canonicalizer: canonicalizer,
		resolver:      resolver,
		merger:        merger,
		gate:          g,
		entities:      entities,
		outcomes:      outcomes,
		events:        events,
		logger:        logger,
	}
}

// ProcessRecord runs one record through the full pipeline and returns its
// outcome. Canonicalization and merge failures become per-record outcomes;
// only infrastructure errors propagate as errors.
func (p *Pipeline) ProcessRecord(ctx context.Context, record *models.SourceRecord, coSubmitted map[string]string) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.ProcessRecord")
	defer span.End()

	draft, err := p.canonicalizer.Canonicalize(ctx, record)
	if err != nil {
		var schemaErr *canonicalize.SchemaError
		if errors.As(err, &schemaErr) {
			p.logger.WithContext(ctx).WithError(err).WithField("source_record_id", record.ID).
				Warn("Record failed canonicalization")
			return p.recordOutcome(ctx, record, models.OutcomeRejected, nil, []models.RuleViolation{{
				RuleID: models.RuleStructuralCompleteness,
				Reason: schemaErr.Error(),
			}})
		}
		return nil, err
	}

	return p.ProcessDraft(ctx, record, draft, coSubmitted)
}

// ProcessDraft resolves, merges, and gates an already-canonicalized draft.
func (p *Pipeline) ProcessDraft(ctx context.Context, record *models.SourceRecord, draft *models.Draft, coSubmitted map[string]string) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.ProcessDraft")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"source_record_id": record.ID,
		"entity_type":      record.EntityType,
		"normalized_name":  draft.NormalizedName,
	})

	resolution, err := p.resolver.Resolve(ctx, draft)
	if err != nil {
		return nil, err
	}

	merged, err := p.merger.Merge(resolution.Entity, draft)
	if err != nil {
		var conflict *merging.DuplicateConflictError
		if errors.As(err, &conflict) {
			log.WithError(err).Warn("Record held on merge conflict")
			var entityID *string
			if conflict.EntityID != "" {
				entityID = &conflict.EntityID
			}
			return p.recordOutcome(ctx, record, models.OutcomeHeld, entityID, []models.RuleViolation{{
				RuleID: models.RuleMergeConflict,
				Reason: conflict.Error(),
			}})
		}
		return nil, err
	}

	eval, err := p.gate.Evaluate(ctx, gate.Input{
		Record:      record,
		Draft:       draft,
		CoSubmitted: coSubmitted,
	})
	if err != nil {
		return nil, err
	}

	if eval.Status != models.OutcomeAccepted {
		return p.recordOutcome(ctx, record, eval.Status, nil, eval.Violations)
	}

	entity, err := p.applyAccepted(ctx, record, draft, resolution, merged, eval.Affiliations)
	if err != nil {
		return nil, err
	}

	outcome, err := p.outcomes.Create(ctx, record.ID, record.RunID, models.OutcomeAccepted, &entity.ID, eval.Violations)
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"entity_id":  entity.ID,
		"matched_by": resolution.MatchedBy,
	}).Info("Record accepted")
	return outcome, nil
}

// applyAccepted persists the merged state. A re-ingest that changes nothing
// leaves the entity untouched and emits no event, but still appends an
// empty-diff ledger entry so the run and source record are referenced in
// the entity's provenance.
func (p *Pipeline) applyAccepted(
	ctx context.Context,
	record *models.SourceRecord,
	draft *models.Draft,
	resolution *matching.Resolution,
	merged *merging.Result,
	affiliations []gate.ResolvedAffiliation,
) (*models.CanonicalEntity, error) {
	if resolution.Entity != nil && !merged.Changed() {
		if _, err := p.entities.AppendLedgerEntry(ctx, &models.LedgerEntry{
			EntityID:       resolution.Entity.ID,
			RunID:          record.RunID,
			SourceRecordID: record.ID,
			Diff:           json.RawMessage(`{}`),
		}); err != nil {
			return nil, err
		}
		return resolution.Entity, nil
	}

	entityID := resolution.NewID
	if resolution.Entity != nil {
		entityID = resolution.Entity.ID
	}

	entity, err := buildEntity(entityID, resolution.Entity, draft, merged)
	if err != nil {
		return nil, err
	}

	diffJSON, err := json.Marshal(merged.Diff)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		EntityID:       entityID,
		RunID:          record.RunID,
		SourceRecordID: record.ID,
		Diff:           diffJSON,
	}

	relations := make([]models.EntityRelation, 0, len(affiliations))
	for _, aff := range affiliations {
		relations = append(relations, models.EntityRelation{
			FromID: entityID,
			ToID:   aff.EntityID,
			Kind:   aff.Kind,
		})
	}

	applied, err := p.entities.ApplyMerge(ctx, entity, entry, relations)
	if err != nil {
		return nil, err
	}

	if p.events != nil {
		var emitErr error
		switch resolution.MatchedBy {
		case matching.MatchedByNone:
			emitErr = p.events.EmitEntityCreated(ctx, applied, record.RunID, []string{record.ID})
		case matching.MatchedByNormalizedName:
			emitErr = p.events.EmitEntityMerged(ctx, applied, record.RunID, []string{record.ID})
		default:
			emitErr = p.events.EmitEntityUpdated(ctx, applied, record.RunID, []string{record.ID})
		}
		if emitErr != nil {
			p.logger.WithContext(ctx).WithError(emitErr).WithField("entity_id", applied.ID).
				Warn("Failed to emit entity event")
		}
	}

	return applied, nil
}

func (p *Pipeline) recordOutcome(ctx context.Context, record *models.SourceRecord, status string, entityID *string, violations []models.RuleViolation) (*models.ValidationOutcome, error) {
	outcome, err := p.outcomes.Create(ctx, record.ID, record.RunID, status, entityID, violations)
	if err != nil {
		return nil, err
	}
	if p.events != nil {
		if err := p.events.EmitRecordOutcome(ctx, outcome, record.EntityType); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("source_record_id", record.ID).
				Warn("Failed to emit outcome event")
		}
	}
	return outcome, nil
}

// buildEntity materializes the canonical row from the merge result.
func buildEntity(id string, existing *models.CanonicalEntity, draft *models.Draft, merged *merging.Result) (*models.CanonicalEntity, error) {
	attrsJSON, err := json.Marshal(merged.Attributes)
	if err != nil {
		return nil, err
	}

	entity := &models.CanonicalEntity{
		ID:             id,
		EntityType:     draft.EntityType,
		Name:           draft.DisplayName,
		NormalizedName: draft.NormalizedName,
		Attributes:     attrsJSON,
		Fingerprint:    fingerprint.Generate(merged.Attributes),
	}

	if draft.ExternalID != "" {
		externalID := draft.ExternalID
		entity.ExternalID = &externalID
	} else if existing != nil {
		entity.ExternalID = existing.ExternalID
	}

	if merged.Geometry != nil {
		geomJSON, err := json.Marshal(merged.Geometry)
		if err != nil {
			return nil, err
		}
		entity.Geometry = geomJSON

		centroid := geometry.Centroid(merged.Geometry)
		lon, lat := centroid.X, centroid.Y
		entity.CentroidLon = &lon
		entity.CentroidLat = &lat
	} else if existing != nil {
		entity.Geometry = existing.Geometry
		entity.CentroidLon = existing.CentroidLon
		entity.CentroidLat = existing.CentroidLat
	}

	if region, ok := merged.Attributes[models.FieldRegion].(string); ok && region != "" {
		entity.Region = &region
	} else if existing != nil {
		entity.Region = existing.Region
	}

	return entity, nil
}
