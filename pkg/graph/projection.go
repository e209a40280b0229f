package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// EntityReader is the canonical-store read surface the projection mirrors.
type EntityReader interface {
	ListAll(ctx context.Context) ([]models.CanonicalEntity, error)
	ListAllRelations(ctx context.Context) ([]models.EntityRelation, error)
}

// Projection mirrors accepted entities and their affiliation edges into the
// graph database for map-serving neighborhood queries. The relational store
// stays the source of truth; the projection is rebuilt idempotently.
type Projection struct {
	client   *Client
	entities EntityReader
	logger   ectologger.Logger
}

func NewProjection(client *Client, entities EntityReader, logger ectologger.Logger) *Projection {
	return &Projection{
		client:   client,
		entities: entities,
		logger:   logger,
	}
}

// Sync projects the full accepted state. Nodes and edges are MERGEd by
// canonical id, so repeated syncs converge instead of duplicating.
func (p *Projection) Sync(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.Sync")
	defer span.End()

	entities, err := p.entities.ListAll(ctx)
	if err != nil {
		return err
	}
	relations, err := p.entities.ListAllRelations(ctx)
	if err != nil {
		return err
	}

	if err := p.upsertEntities(ctx, entities); err != nil {
		return err
	}
	if err := p.upsertRelations(ctx, relations); err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_count":   len(entities),
		"relation_count": len(relations),
	}).Info("Graph projection synced")
	return nil
}

// UpsertEntity projects a single entity, used on the incremental path after
// a merge.
func (p *Projection) UpsertEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.UpsertEntity")
	defer span.End()

	cypher := fmt.Sprintf(`
		MERGE (e:%s {id: $id})
		SET e = $props
	`, entityLabel(entity.EntityType))

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":    entity.ID,
			"props": nodeProps(entity),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("entity_id", entity.ID).
			Error("Failed to project entity")
		return fmt.Errorf("failed to project entity: %w", err)
	}
	return nil
}

func (p *Projection) upsertEntities(ctx context.Context, entities []models.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}

	byType := make(map[string][]map[string]any)
	for i := range entities {
		label := entityLabel(entities[i].EntityType)
		byType[label] = append(byType[label], nodeProps(&entities[i]))
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, batch := range byType {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS props
				MERGE (e:%s {id: props.id})
				SET e = props
			`, label)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to project entities: %w", err)
	}
	return nil
}

func (p *Projection) upsertRelations(ctx context.Context, relations []models.EntityRelation) error {
	if len(relations) == 0 {
		return nil
	}

	byKind := make(map[string][]map[string]any)
	for _, rel := range relations {
		kind := relationType(rel.Kind)
		byKind[kind] = append(byKind[kind], map[string]any{
			"from_id": rel.FromID,
			"to_id":   rel.ToID,
		})
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for kind, batch := range byKind {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS rel
				MATCH (from {id: rel.from_id})
				MATCH (to {id: rel.to_id})
				MERGE (from)-[:%s]->(to)
			`, kind)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to project relations: %w", err)
	}
	return nil
}

// nodeProps flattens an entity into primitive graph properties. Nested
// attribute values (maps, mixed slices) are dropped; the relational store
// keeps the full payload.
func nodeProps(entity *models.CanonicalEntity) map[string]any {
	props := map[string]any{
		"id":          entity.ID,
		"entity_type": entity.EntityType,
		"name":        entity.Name,
		"version":     entity.Version,
		"updated_at":  entity.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if entity.Region != nil {
		props["region"] = *entity.Region
	}
	if entity.CentroidLon != nil && entity.CentroidLat != nil {
		props["centroid_lon"] = *entity.CentroidLon
		props["centroid_lat"] = *entity.CentroidLat
	}

	attrs, err := entity.AttributesMap()
	if err != nil {
		return props
	}
	for key, value := range attrs {
		if _, taken := props[key]; taken {
			continue
		}
		switch v := value.(type) {
		case string, bool, float64, int, int64:
			props[key] = v
		case []any:
			strs := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					strs = nil
					break
				}
				strs = append(strs, s)
			}
			if strs != nil {
				props[key] = strs
			}
		}
	}
	return props
}

func entityLabel(entityType string) string {
	switch entityType {
	case models.EntityTypeCulturalWork:
		return "CulturalWork"
	case models.EntityTypeGeographicEntity:
		return "GeographicEntity"
	default:
		return sanitizeLabel(entityType)
	}
}

func relationType(kind string) string {
	return sanitizeLabel(strings.ToUpper(kind))
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "Entity"
	}
	return result
}
