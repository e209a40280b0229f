// Package snapshot materializes the accepted entity graph into immutable,
// versioned publications served to the map UI and open-data exports.
package snapshot

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// EntityStore reads the accepted canonical state to snapshot
type EntityStore interface {
	ListAll(ctx context.Context) ([]models.CanonicalEntity, error)
	ListAllRelations(ctx context.Context) ([]models.EntityRelation, error)
}

// ProvenanceLookup maps entities to the source records behind them
type ProvenanceLookup interface {
	SourceRecordIDsByEntity(ctx context.Context) (map[string][]string, error)
}

// Store persists and retrieves the versioned snapshot series
type Store interface {
	Publish(ctx context.Context, runID string, entities []models.SnapshotEntity, relations []models.SnapshotRelation) (*models.PublicationSnapshot, error)
	GetCurrent(ctx context.Context) (*models.PublicationSnapshot, error)
	GetByVersion(ctx context.Context, version int64) (*models.PublicationSnapshot, error)
}

// EventSink announces published snapshots downstream
type EventSink interface {
	EmitSnapshotPublished(ctx context.Context, snap *models.PublicationSnapshot, entityCount int) error
}

// Publisher builds publication snapshots from accepted state
type Publisher struct {
	entities   EntityStore
	provenance ProvenanceLookup
	store      Store
	events     EventSink
	logger     ectologger.Logger
}

// NewPublisher creates a snapshot publisher. events may be nil when no
// broker is configured.
func NewPublisher(entities EntityStore, provenance ProvenanceLookup, store Store, events EventSink, logger ectologger.Logger) *Publisher {
	return &Publisher{
		entities:   entities,
		provenance: provenance,
		store:      store,
		events:     events,
		logger:     logger,
	}
}

// Publish materializes the current accepted state into a new snapshot and
// moves the current pointer to it. The payload is a deep copy: later merges
// never mutate an already-published version.
func (p *Publisher) Publish(ctx context.Context, runID string) (*models.PublicationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Publisher.Publish")
	defer span.End()

	log := p.logger.WithContext(ctx).WithField("run_id", runID)

	entities, err := p.entities.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	relations, err := p.entities.ListAllRelations(ctx)
	if err != nil {
		return nil, err
	}
	sourceIDs, err := p.provenance.SourceRecordIDsByEntity(ctx)
	if err != nil {
		return nil, err
	}

	snapEntities := make([]models.SnapshotEntity, 0, len(entities))
	for i := range entities {
		snapEntities = append(snapEntities, copyEntity(&entities[i], sourceIDs[entities[i].ID]))
	}

	snapRelations := make([]models.SnapshotRelation, 0, len(relations))
	for _, rel := range relations {
		snapRelations = append(snapRelations, models.SnapshotRelation{
			FromID: rel.FromID,
			ToID:   rel.ToID,
			Kind:   rel.Kind,
		})
	}

	snap, err := p.store.Publish(ctx, runID, snapEntities, snapRelations)
	if err != nil {
		log.WithError(err).Error("Failed to publish snapshot")
		return nil, err
	}

	log.WithFields(map[string]any{
		"version":        snap.Version,
		"entity_count":   len(snapEntities),
		"relation_count": len(snapRelations),
	}).Info("Published snapshot")

	if p.events != nil {
		// The snapshot is already committed; a failed announcement is not
		// worth failing the run over.
		if err := p.events.EmitSnapshotPublished(ctx, snap, len(snapEntities)); err != nil {
			log.WithError(err).Warn("Failed to announce snapshot")
		}
	}

	return snap, nil
}

// Current returns the snapshot the pointer designates; nil before the first
// publish.
func (p *Publisher) Current(ctx context.Context) (*models.PublicationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Publisher.Current")
	defer span.End()

	return p.store.GetCurrent(ctx)
}

// Export returns a decoded snapshot for download. A nil version means the
// current snapshot.
func (p *Publisher) Export(ctx context.Context, version *int64) (*models.SnapshotExport, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Publisher.Export")
	defer span.End()

	var snap *models.PublicationSnapshot
	var err error
	if version != nil {
		snap, err = p.store.GetByVersion(ctx, *version)
	} else {
		snap, err = p.store.GetCurrent(ctx)
	}
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "snapshot not found")
	}

	entities, err := snap.EntityList()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("version", snap.Version).Error("Failed to decode snapshot entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode snapshot")
	}
	relations, err := snap.RelationList()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("version", snap.Version).Error("Failed to decode snapshot relations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode snapshot")
	}

	return &models.SnapshotExport{
		Version:     snap.Version,
		RunID:       snap.RunID,
		GeneratedAt: snap.GeneratedAt,
		Entities:    entities,
		Relations:   relations,
	}, nil
}

func copyEntity(entity *models.CanonicalEntity, sourceIDs []string) models.SnapshotEntity {
	out := models.SnapshotEntity{
		ID:         entity.ID,
		EntityType: entity.EntityType,
		Name:       entity.Name,
		SourceIDs:  append([]string(nil), sourceIDs...),
	}
	if len(entity.Attributes) > 0 {
		out.Attributes = append([]byte(nil), entity.Attributes...)
	}
	if len(entity.Geometry) > 0 {
		out.Geometry = append([]byte(nil), entity.Geometry...)
	}
	if entity.Region != nil {
		region := *entity.Region
		out.Region = &region
	}
	return out
}
