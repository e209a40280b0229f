package ingestionrun

import (
	"context"
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

const columns = "id, sources, status, started_at, finished_at, snapshot_version, records_total, records_accepted, records_held, records_rejected"

// Repository handles ingestion run bookkeeping.
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

// Create starts a new run in the running state.
func (r *Repository) Create(ctx context.Context, sources string) (*models.IngestionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.Create")
	defer span.End()

	run := &models.IngestionRun{
		ID:        uuid.New().String(),
		Sources:   sources,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("ingestion_runs")
	sb.Cols("id", "sources", "status", "started_at")
	sb.Values(run.ID, run.Sources, run.Status, run.StartedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create ingestion run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create ingestion run")
	}

	r.logger.WithContext(ctx).WithField("run_id", run.ID).Info("Started ingestion run")
	return run, nil
}

// Get retrieves one run by id; nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*models.IngestionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("ingestion_runs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.IngestionRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", id).Error("Failed to get ingestion run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ingestion run")
	}

	return &run, nil
}

// Finish marks a run terminal with its final status and outcome counters.
func (r *Repository) Finish(ctx context.Context, id, status string, total, accepted, held, rejected int) error {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.Finish")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("ingestion_runs")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("finished_at", time.Now().UTC()),
		ub.Assign("records_total", total),
		ub.Assign("records_accepted", accepted),
		ub.Assign("records_held", held),
		ub.Assign("records_rejected", rejected),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", id).Error("Failed to finish ingestion run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish ingestion run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": id,
		"status": status,
	}).Info("Finished ingestion run")
	return nil
}

// SetSnapshotVersion links a run to the snapshot it produced.
func (r *Repository) SetSnapshotVersion(ctx context.Context, id string, version int64) error {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.SetSnapshotVersion")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("ingestion_runs")
	ub.Set(ub.Assign("snapshot_version", version))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", id).Error("Failed to set snapshot version")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set snapshot version")
	}
	return nil
}

// List returns a page of runs, newest first.
func (r *Repository) List(ctx context.Context, page, pageSize int) (*models.RunListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("ingestion_runs")
	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count ingestion runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ingestion runs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("ingestion_runs")
	sb.OrderBy("started_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var runs []models.IngestionRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list ingestion runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ingestion runs")
	}

	return &models.RunListResponse{
		Items:      runs,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}
