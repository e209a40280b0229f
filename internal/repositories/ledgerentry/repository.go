package ledgerentry

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pasifika-atlas/reef/pkg/database"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

const columns = "id, entity_id, seq, run_id, source_record_id, diff, created_at"

// Repository reads the append-only provenance log. Appends happen inside
// the canonical entity merge transaction; this repository is the read side.
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

// ListByEntity returns an entity's full history in append order.
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "ledgerentry.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("ledger_entries")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("seq").Asc()

	query, args := sb.Build()
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list ledger entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ledger entries")
	}

	return entries, nil
}

// ListByRun returns every ledger entry one run produced.
func (r *Repository) ListByRun(ctx context.Context, runID string) ([]models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "ledgerentry.Repository.ListByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("ledger_entries")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to list ledger entries by run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ledger entries")
	}

	return entries, nil
}

// CountForEntity returns how many ledger entries an entity has. Zero for an
// existing entity indicates invariant breakage.
func (r *Repository) CountForEntity(ctx context.Context, entityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ledgerentry.Repository.CountForEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("ledger_entries")
	sb.Where(sb.Equal("entity_id", entityID))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to count ledger entries")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count ledger entries")
	}
	return count, nil
}

// SourceRecordIDsByEntity returns, for every entity, the distinct source
// records that contributed to it.
func (r *Repository) SourceRecordIDsByEntity(ctx context.Context) (map[string][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "ledgerentry.Repository.SourceRecordIDsByEntity")
	defer span.End()

	query := `
		SELECT DISTINCT ON (entity_id, source_record_id) entity_id, source_record_id
		FROM ledger_entries
		ORDER BY entity_id, source_record_id, seq
	`
	var rows []struct {
		EntityID       string `db:"entity_id"`
		SourceRecordID string `db:"source_record_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list source record ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list source record ids")
	}

	out := make(map[string][]string, len(rows))
	for _, row := range rows {
		out[row.EntityID] = append(out[row.EntityID], row.SourceRecordID)
	}
	return out, nil
}
