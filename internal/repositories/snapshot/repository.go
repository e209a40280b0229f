package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pasifika-atlas/reef/pkg/database"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

const columns = "version, run_id, generated_at, entities, relations"

// Repository persists the immutable snapshot series plus the single current
// pointer. Snapshot rows are append-only; only the pointer moves, and only
// inside the publish transaction.
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

// Publish writes a new snapshot with the next version number and swaps the
// current pointer to it, atomically. Readers see either the previous
// snapshot or the new one, never a partial state.
func (r *Repository) Publish(ctx context.Context, runID string, entities []models.SnapshotEntity, relations []models.SnapshotRelation) (*models.PublicationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Publish")
	defer span.End()

	log := r.logger.WithContext(ctx).WithField("run_id", runID)

	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode snapshot entities")
	}
	relationsJSON, err := json.Marshal(relations)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode snapshot relations")
	}

	snap := &models.PublicationSnapshot{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Entities:    entitiesJSON,
		Relations:   relationsJSON,
	}

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	// the pointer row is locked for the duration of the publish, so version
	// numbers are strictly increasing even with concurrent publishers
	if _, err := tx.ExecContext(ctxTx, `SELECT version FROM snapshot_current FOR UPDATE`); err != nil {
		log.WithError(err).Error("Failed to lock snapshot pointer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock snapshot pointer")
	}

	insert := `
		INSERT INTO snapshots (version, run_id, generated_at, entities, relations)
		VALUES ((SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots), $1, $2, $3, $4)
		RETURNING version
	`
	row := tx.QueryRowContext(ctxTx, insert, snap.RunID, snap.GeneratedAt, snap.Entities, snap.Relations)
	if err := row.Scan(&snap.Version); err != nil {
		log.WithError(err).Error("Failed to insert snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert snapshot")
	}

	pointer := `
		INSERT INTO snapshot_current (singleton, version)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET version = EXCLUDED.version
	`
	if _, err := tx.ExecContext(ctxTx, pointer, snap.Version); err != nil {
		log.WithError(err).Error("Failed to move snapshot pointer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to move snapshot pointer")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit snapshot")
	}

	log.WithField("version", snap.Version).Info("Published snapshot")
	return snap, nil
}

// GetCurrent returns the snapshot the current pointer designates; nil before
// the first publish.
func (r *Repository) GetCurrent(ctx context.Context) (*models.PublicationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.GetCurrent")
	defer span.End()

	query := `
		SELECT s.version, s.run_id, s.generated_at, s.entities, s.relations
		FROM snapshots s
		JOIN snapshot_current c ON c.version = s.version
	`
	var snap models.PublicationSnapshot
	if err := r.db.GetContext(ctx, &snap, query); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get current snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get current snapshot")
	}
	return &snap, nil
}

// GetByVersion returns one immutable snapshot by version; nil when absent.
func (r *Repository) GetByVersion(ctx context.Context, version int64) (*models.PublicationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.GetByVersion")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("snapshots")
	sb.Where(sb.Equal("version", version))

	query, args := sb.Build()
	var snap models.PublicationSnapshot
	if err := r.db.GetContext(ctx, &snap, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("version", version).Error("Failed to get snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get snapshot")
	}
	return &snap, nil
}
