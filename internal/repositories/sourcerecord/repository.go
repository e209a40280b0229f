package sourcerecord

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

const columns = "id, source_system, run_id, entity_type, fields, raw_geometry, geometry_encoding, content_hash, trust_tier, received_at"

// Repository handles the append-only source record log. Rows are created
// once per ingestion run per input row and never mutated or deleted.
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

func (r *Repository) DB() database.DB {
	return r.db
}

// Create appends one immutable source record.
func (r *Repository) Create(ctx context.Context, req models.CreateSourceRecordRequest) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Create")
	defer span.End()

	record := &models.SourceRecord{
		ID:               uuid.New().String(),
		SourceSystem:     req.SourceSystem,
		RunID:            req.RunID,
		EntityType:       req.EntityType,
		Fields:           req.Fields,
		RawGeometry:      req.RawGeometry,
		GeometryEncoding: req.GeometryEncoding,
		ContentHash:      req.ContentHash,
		TrustTier:        req.TrustTier,
		ReceivedAt:       time.Now().UTC(),
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("source_records")
	sb.Cols("id", "source_system", "run_id", "entity_type", "fields", "raw_geometry", "geometry_encoding", "content_hash", "trust_tier", "received_at")
	sb.Values(record.ID, record.SourceSystem, record.RunID, record.EntityType, record.Fields, record.RawGeometry, record.GeometryEncoding, record.ContentHash, record.TrustTier, record.ReceivedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":        record.RunID,
			"source_system": record.SourceSystem,
		}).Error("Failed to create source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create source record")
	}

	return record, nil
}

// Get retrieves one source record by id.
func (r *Repository) Get(ctx context.Context, id string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("source_records")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var record models.SourceRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source record")
	}

	return &record, nil
}

// ListByRun returns all source records created by one ingestion run, in
// arrival order.
func (r *Repository) ListByRun(ctx context.Context, runID string) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.ListByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("source_records")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("received_at").Asc()

	query, args := sb.Build()
	var records []models.SourceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to list source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list source records")
	}

	return records, nil
}

// FindByContentHash returns the most recent record from the same source
// carrying identical content; nil when none exists. Used to make re-ingest
// idempotent.
func (r *Repository) FindByContentHash(ctx context.Context, sourceSystem, contentHash string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.FindByContentHash")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("source_records")
	sb.Where(sb.Equal("source_system", sourceSystem))
	sb.Where(sb.Equal("content_hash", contentHash))
	sb.OrderBy("received_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var record models.SourceRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find source record by content hash")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find source record")
	}
	return &record, nil
}
