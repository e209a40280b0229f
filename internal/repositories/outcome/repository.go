package outcome

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pasifika-atlas/reef/pkg/database"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

const columns = "id, source_record_id, run_id, entity_id, status, violations, decided_at, decided_by"

// Repository persists validation outcomes: exactly one per source record
// per run, enforced by a unique constraint.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records the gate's decision for one record in one run.
func (r *Repository) Create(ctx context.Context, sourceRecordID, runID, status string, entityID *string, violations []models.RuleViolation) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.Create")
	defer span.End()

	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode rule violations")
	}

	out := &models.ValidationOutcome{
		ID:             uuid.New().String(),
		SourceRecordID: sourceRecordID,
		RunID:          runID,
		EntityID:       entityID,
		Status:         status,
		Violations:     violationsJSON,
		DecidedAt:      time.Now().UTC(),
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("validation_outcomes")
	sb.Cols("id", "source_record_id", "run_id", "entity_id", "status", "violations", "decided_at")
	sb.Values(out.ID, out.SourceRecordID, out.RunID, out.EntityID, out.Status, out.Violations, out.DecidedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_record_id": sourceRecordID,
			"run_id":           runID,
		}).Error("Failed to create validation outcome")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create validation outcome")
	}

	return out, nil
}

// GetLatestForRecord returns the most recent outcome for a source record;
// nil when the record has never been evaluated.
func (r *Repository) GetLatestForRecord(ctx context.Context, sourceRecordID string) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.GetLatestForRecord")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("validation_outcomes")
	sb.Where(sb.Equal("source_record_id", sourceRecordID))
	sb.OrderBy("decided_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var out models.ValidationOutcome
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("source_record_id", sourceRecordID).Error("Failed to get validation outcome")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get validation outcome")
	}

	return &out, nil
}

// Resolve applies a moderator decision to a Held outcome.
func (r *Repository) Resolve(ctx context.Context, id, status, moderator, reason string, entityID *string) error {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.Resolve")
	defer span.End()

	// the moderator's reason is appended to the violation trail
	appendViolation, err := json.Marshal([]models.RuleViolation{{
		RuleID: "moderator_decision",
		Reason: reason,
	}})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode moderator reason")
	}

	query := `
		UPDATE validation_outcomes
		SET status = $2,
		    decided_by = $3,
		    decided_at = $4,
		    entity_id = COALESCE($5, entity_id),
		    violations = violations || $6
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, status, moderator, time.Now().UTC(), entityID, appendViolation); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("outcome_id", id).Error("Failed to resolve validation outcome")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve validation outcome")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"outcome_id": id,
		"status":     status,
		"moderator":  moderator,
	}).Info("Resolved held outcome")
	return nil
}

// HasRejectedContent reports whether content with this hash was rejected in
// any earlier run; the duplicate-of-rejected heuristic.
func (r *Repository) HasRejectedContent(ctx context.Context, contentHash string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.HasRejectedContent")
	defer span.End()

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM validation_outcomes o
			JOIN source_records s ON s.id = o.source_record_id
			WHERE s.content_hash = $1 AND o.status = $2
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, contentHash, models.OutcomeRejected); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check rejected content")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check rejected content")
	}
	return exists, nil
}

// ListHeld returns the moderation queue, oldest first.
func (r *Repository) ListHeld(ctx context.Context, page, pageSize int) ([]models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.ListHeld")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("validation_outcomes")
	sb.Where(sb.Equal("status", models.OutcomeHeld))
	sb.OrderBy("decided_at").Asc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var outcomes []models.ValidationOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list held outcomes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list held outcomes")
	}

	return outcomes, nil
}

// ListByRun returns all outcomes for one run, decision order.
func (r *Repository) ListByRun(ctx context.Context, runID string) ([]models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.ListByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("validation_outcomes")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("decided_at").Asc()

	query, args := sb.Build()
	var outcomes []models.ValidationOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to list outcomes by run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list outcomes")
	}

	return outcomes, nil
}

// Get retrieves one outcome by id; nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*models.ValidationOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("validation_outcomes")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var out models.ValidationOutcome
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("outcome_id", id).Error("Failed to get outcome")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get outcome")
	}
	return &out, nil
}
