package pipeline

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// ModerationOutcomeStore is the outcome surface moderation needs.
type ModerationOutcomeStore interface {
	Get(ctx context.Context, id string) (*models.ValidationOutcome, error)
	Resolve(ctx context.Context, id, status, moderator, reason string, entityID *string) error
	ListHeld(ctx context.Context, page, pageSize int) ([]models.ValidationOutcome, error)
}

// ModerationRecordStore reads the raw record behind a held outcome.
type ModerationRecordStore interface {
	Get(ctx context.Context, id string) (*models.SourceRecord, error)
}

// Moderation applies human decisions to held records. Held is the only
// state a moderator can act on; Accepted and Rejected are terminal.
type Moderation struct {
	pipeline *Pipeline
	outcomes ModerationOutcomeStore
	records  ModerationRecordStore
	logger   ectologger.Logger
}

func NewModeration(p *Pipeline, outcomes ModerationOutcomeStore, records ModerationRecordStore, logger ectologger.Logger) *Moderation {
	return &Moderation{
		pipeline: p,
		outcomes: outcomes,
		records:  records,
		logger:   logger,
	}
}

// Queue lists held records awaiting review, oldest first.
func (m *Moderation) Queue(ctx context.Context, page, pageSize int) ([]models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Moderation.Queue")
	defer span.End()

	return m.outcomes.ListHeld(ctx, page, pageSize)
}

// Decide applies a moderator decision to a held outcome. Accepting replays
// the record through resolution and merging so the canonical store gets the
// same state an automated acceptance would have produced.
func (m *Moderation) Decide(ctx context.Context, outcomeID string, req models.ModerationDecisionRequest) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Moderation.Decide")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"outcome_id": outcomeID,
		"decision":   req.Decision,
		"moderator":  req.Moderator,
	})

	outcome, err := m.outcomes.Get(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "outcome not found")
	}
	if outcome.Status != models.OutcomeHeld {
		return nil, &gate.ModerationStateError{
			SourceRecordID: outcome.SourceRecordID,
			Status:         outcome.Status,
		}
	}

	record, err := m.records.Get(ctx, outcome.SourceRecordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "source record not found")
	}

	switch req.Decision {
	case models.DecisionReject:
		if err := m.outcomes.Resolve(ctx, outcomeID, models.OutcomeRejected, req.Moderator, req.Reason, outcome.EntityID); err != nil {
			return nil, err
		}
		log.Info("Held record rejected by moderator")

	case models.DecisionAccept:
		entity, err := m.apply(ctx, record)
		if err != nil {
			return nil, err
		}
		if err := m.outcomes.Resolve(ctx, outcomeID, models.OutcomeAccepted, req.Moderator, req.Reason, &entity.ID); err != nil {
			return nil, err
		}
		log.WithField("entity_id", entity.ID).Info("Held record accepted by moderator")

	default:
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "decision must be accept or reject")
	}

	resolved, err := m.outcomes.Get(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	if resolved != nil && m.pipeline.events != nil {
		if err := m.pipeline.events.EmitRecordOutcome(ctx, resolved, record.EntityType); err != nil {
			log.WithError(err).Warn("Failed to emit outcome event")
		}
	}
	return resolved, nil
}

// apply folds a moderator-accepted record into the canonical store,
// reusing the automated write path.
func (m *Moderation) apply(ctx context.Context, record *models.SourceRecord) (*models.CanonicalEntity, error) {
	p := m.pipeline

	draft, err := p.canonicalizer.Canonicalize(ctx, record)
	if err != nil {
		return nil, err
	}

	resolution, err := p.resolver.Resolve(ctx, draft)
	if err != nil {
		return nil, err
	}

	merged, err := p.merger.Merge(resolution.Entity, draft)
	if err != nil {
		return nil, err
	}

	// Re-run the gate for its reference resolution only; the moderator's
	// decision overrides its status.
	eval, err := p.gate.Evaluate(ctx, gate.Input{Record: record, Draft: draft})
	if err != nil {
		return nil, err
	}

	return p.applyAccepted(ctx, record, draft, resolution, merged, eval.Affiliations)
}
