package canonicalentity

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pasifika-atlas/reef/pkg/database"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/normalizers"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

const columns = "id, entity_type, name, normalized_name, external_id, attributes, geometry, centroid_lon, centroid_lat, region, fingerprint, version, created_at, updated_at"

// Repository handles canonical entity persistence. Writes go through
// ApplyMerge so that an entity row never exists without at least one ledger
// entry.
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

// Get retrieves one canonical entity by id; nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(sb.Equal("id", id))

	return r.getOne(ctx, sb)
}

// GetByExternalID finds an entity by a source-supplied stable identifier.
func (r *Repository) GetByExternalID(ctx context.Context, entityType, externalID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.GetByExternalID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("external_id", externalID),
	)

	return r.getOne(ctx, sb)
}

func (r *Repository) getOne(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.CanonicalEntity, error) {
	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical entity")
	}
	return &entity, nil
}

// ListByNormalizedName returns all entities of a type sharing a normalized
// matching key, oldest first so tie-breaks are stable.
func (r *Repository) ListByNormalizedName(ctx context.Context, entityType, normalizedName string) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ListByNormalizedName")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("normalized_name", normalizedName),
	)
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type":     entityType,
			"normalized_name": normalizedName,
		}).Error("Failed to list canonical entities by name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical entities")
	}

	return entities, nil
}

// List returns a page of canonical entities, optionally filtered by type.
func (r *Repository) List(ctx context.Context, entityType *string, page, pageSize int) (*models.EntityListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("canonical_entities")
	if entityType != nil {
		countSb.Where(countSb.Equal("entity_type", *entityType))
	}
	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count canonical entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical entities")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	if entityType != nil {
		sb.Where(sb.Equal("entity_type", *entityType))
	}
	sb.OrderBy("created_at").Asc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list canonical entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical entities")
	}

	return &models.EntityListResponse{
		Items:      entities,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListAll returns every canonical entity; the snapshot publisher's
// consistent read.
func (r *Repository) ListAll(ctx context.Context) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ListAll")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list all canonical entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical entities")
	}
	return entities, nil
}

// ListRelationsFrom returns the outgoing relation set of one entity.
func (r *Repository) ListRelationsFrom(ctx context.Context, entityID string) ([]models.EntityRelation, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ListRelationsFrom")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("from_id", "to_id", "kind", "created_at")
	sb.From("entity_relations")
	sb.Where(sb.Equal("from_id", entityID))

	query, args := sb.Build()
	var relations []models.EntityRelation
	if err := r.db.SelectContext(ctx, &relations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("from_id", entityID).Error("Failed to list relations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relations")
	}
	return relations, nil
}

// ListAllRelations returns the whole relation set for snapshotting.
func (r *Repository) ListAllRelations(ctx context.Context) ([]models.EntityRelation, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ListAllRelations")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("from_id", "to_id", "kind", "created_at")
	sb.From("entity_relations")
	sb.OrderBy("from_id", "to_id", "kind").Asc()

	query, args := sb.Build()
	var relations []models.EntityRelation
	if err := r.db.SelectContext(ctx, &relations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list all relations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relations")
	}
	return relations, nil
}

// ResolveAffiliation resolves a draft's geographic reference to a canonical
// id: explicit external id first, then normalized name. Empty when
// unresolved.
func (r *Repository) ResolveAffiliation(ctx context.Context, ref models.AffiliationRef) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ResolveAffiliation")
	defer span.End()

	if ref.ExternalID != "" {
		entity, err := r.GetByExternalID(ctx, models.EntityTypeGeographicEntity, ref.ExternalID)
		if err != nil {
			return "", err
		}
		if entity != nil {
			return entity.ID, nil
		}
	}
	if ref.Name == "" {
		return "", nil
	}

	entities, err := r.ListByNormalizedName(ctx, models.EntityTypeGeographicEntity, normalizers.NormalizeName(ref.Name))
	if err != nil {
		return "", err
	}
	if len(entities) == 0 {
		return "", nil
	}
	return entities[0].ID, nil
}

// AppendLedgerEntry records a run reference for an entity whose state did
// not change: an identical re-ingest appends an empty-diff entry instead of
// rewriting the entity row. The entity already exists, so the zero-entries
// invariant holds without a transaction.
func (r *Repository) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.AppendLedgerEntry")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	appendEntry := `
		INSERT INTO ledger_entries (id, entity_id, seq, run_id, source_record_id, diff, created_at)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries WHERE entity_id = $2),
			$3, $4, $5, $6
		)
		RETURNING seq
	`
	row := r.db.QueryRowContext(ctx, appendEntry,
		entry.ID, entry.EntityID, entry.RunID, entry.SourceRecordID, entry.Diff, entry.CreatedAt,
	)
	if err := row.Scan(&entry.Seq); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entry.EntityID).
			Error("Failed to append ledger entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append ledger entry")
	}
	return entry, nil
}

// ApplyMerge writes a merged entity state, its ledger entry, and any
// resolved relations in one transaction. The ledger append shares the
// transaction with the entity write, so an entity with zero ledger entries
// cannot exist even transiently.
func (r *Repository) ApplyMerge(ctx context.Context, entity *models.CanonicalEntity, entry *models.LedgerEntry, relations []models.EntityRelation) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.ApplyMerge")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entity.EntityType,
		"run_id":      entry.RunID,
	})

	now := time.Now().UTC()
	entity.UpdatedAt = now
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO canonical_entities (
			id, entity_type, name, normalized_name, external_id, attributes,
			geometry, centroid_lon, centroid_lat, region, fingerprint, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			external_id = COALESCE(EXCLUDED.external_id, canonical_entities.external_id),
			attributes = EXCLUDED.attributes,
			geometry = EXCLUDED.geometry,
			centroid_lon = EXCLUDED.centroid_lon,
			centroid_lat = EXCLUDED.centroid_lat,
			region = EXCLUDED.region,
			fingerprint = EXCLUDED.fingerprint,
			version = canonical_entities.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version, created_at
	`
	row := tx.QueryRowContext(ctxTx, upsert,
		entity.ID, entity.EntityType, entity.Name, entity.NormalizedName,
		entity.ExternalID, entity.Attributes, entity.Geometry,
		entity.CentroidLon, entity.CentroidLat, entity.Region,
		entity.Fingerprint, entity.CreatedAt, entity.UpdatedAt,
	)
	if err := row.Scan(&entity.Version, &entity.CreatedAt); err != nil {
		log.WithError(err).Error("Failed to upsert canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert canonical entity")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.EntityID = entity.ID
	entry.CreatedAt = now

	appendEntry := `
		INSERT INTO ledger_entries (id, entity_id, seq, run_id, source_record_id, diff, created_at)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries WHERE entity_id = $2),
			$3, $4, $5, $6
		)
		RETURNING seq
	`
	row = tx.QueryRowContext(ctxTx, appendEntry,
		entry.ID, entry.EntityID, entry.RunID, entry.SourceRecordID, entry.Diff, entry.CreatedAt,
	)
	if err := row.Scan(&entry.Seq); err != nil {
		log.WithError(err).Error("Failed to append ledger entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append ledger entry")
	}

	for _, rel := range relations {
		insertRel := `
			INSERT INTO entity_relations (from_id, to_id, kind, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (from_id, to_id, kind) DO NOTHING
		`
		if _, err := tx.ExecContext(ctxTx, insertRel, rel.FromID, rel.ToID, rel.Kind, now); err != nil {
			log.WithError(err).WithField("to_id", rel.ToID).Error("Failed to insert entity relation")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entity relation")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit entity merge")
	}

	log.WithField("version", entity.Version).Info("Applied entity merge")
	return entity, nil
}
