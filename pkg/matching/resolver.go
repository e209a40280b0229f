// Package matching assigns canonical identities to draft records. Matching
// is rule-based and deterministic: an ordered policy where the first rule
// that produces a match wins, and no rule uses fuzzy scoring.
package matching

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/normalizers"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// Match methods, in policy order.
const (
	MatchedByExternalID     = "external_id"
	MatchedByNormalizedName = "normalized_name"
	MatchedByNone           = "new"
)

// EntityLookup is the read surface the resolver needs from the canonical
// entity store.
type EntityLookup interface {
	GetByExternalID(ctx context.Context, entityType, externalID string) (*models.CanonicalEntity, error)
	ListByNormalizedName(ctx context.Context, entityType, normalizedName string) ([]models.CanonicalEntity, error)
	ListRelationsFrom(ctx context.Context, entityID string) ([]models.EntityRelation, error)
	Get(ctx context.Context, entityID string) (*models.CanonicalEntity, error)
}

// Resolution is the outcome of identity resolution for one draft.
type Resolution struct {
	// Entity is the matched canonical entity; nil when the draft is new.
	Entity    *models.CanonicalEntity
	MatchedBy string
	// NewID is the freshly allocated canonical id when MatchedBy is "new".
	// Canonical ids are assigned once and never reassigned.
	NewID string
}

// Resolver implements the ordered matching policy.
type Resolver struct {
	entities EntityLookup
	logger   ectologger.Logger
}

func NewResolver(entities EntityLookup, logger ectologger.Logger) *Resolver {
	return &Resolver{entities: entities, logger: logger}
}

// Resolve determines whether a draft is an already-known entity or a new
// one. Policy, first match wins:
//  1. exact match on the source-supplied external identifier
//  2. normalized-name + entity-type match, disambiguated by geographic
//     affiliation (works) or containing region (geographic entities)
//  3. no match: allocate a new canonical id
func (r *Resolver) Resolve(ctx context.Context, draft *models.Draft) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type":     draft.EntityType,
		"normalized_name": draft.NormalizedName,
	})

	if draft.ExternalID != "" {
		entity, err := r.entities.GetByExternalID(ctx, draft.EntityType, draft.ExternalID)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			log.WithField("entity_id", entity.ID).Debug("Matched by external id")
			return &Resolution{Entity: entity, MatchedBy: MatchedByExternalID}, nil
		}
	}

	entity, err := r.matchByName(ctx, draft)
	if err != nil {
		return nil, err
	}
	if entity != nil {
		log.WithField("entity_id", entity.ID).Debug("Matched by normalized name")
		return &Resolution{Entity: entity, MatchedBy: MatchedByNormalizedName}, nil
	}

	res := &Resolution{MatchedBy: MatchedByNone, NewID: uuid.New().String()}
	log.WithField("entity_id", res.NewID).Debug("No match, allocated new canonical id")
	return res, nil
}

func (r *Resolver) matchByName(ctx context.Context, draft *models.Draft) (*models.CanonicalEntity, error) {
	if draft.NormalizedName == "" {
		return nil, nil
	}

	candidates, err := r.entities.ListByNormalizedName(ctx, draft.EntityType, draft.NormalizedName)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &candidates[0], nil
	}

	// multiple candidates share the name; apply the disambiguation context
	switch draft.EntityType {
	case models.EntityTypeCulturalWork:
		return r.disambiguateByAffiliation(ctx, draft, candidates)
	case models.EntityTypeGeographicEntity:
		return r.disambiguateByRegion(draft, candidates), nil
	default:
		return oldestCandidate(candidates), nil
	}
}

// disambiguateByAffiliation prefers the candidate sharing a geographic
// affiliation with the draft. Candidates are consulted in creation order, so
// a tie resolves to the oldest entity rather than splitting.
func (r *Resolver) disambiguateByAffiliation(ctx context.Context, draft *models.Draft, candidates []models.CanonicalEntity) (*models.CanonicalEntity, error) {
	want := map[string]struct{}{}
	for _, ref := range draft.Affiliations {
		if ref.Name != "" {
			want[normalizers.NormalizeName(ref.Name)] = struct{}{}
		}
	}
	if len(want) == 0 {
		return oldestCandidate(candidates), nil
	}

	for i := range candidates {
		relations, err := r.entities.ListRelationsFrom(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		for _, rel := range relations {
			target, err := r.entities.Get(ctx, rel.ToID)
			if err != nil {
				return nil, err
			}
			if target == nil {
				continue
			}
			if _, ok := want[target.NormalizedName]; ok {
				return &candidates[i], nil
			}
		}
	}
	return oldestCandidate(candidates), nil
}

// disambiguateByRegion prefers the candidate in the same containing region.
func (r *Resolver) disambiguateByRegion(draft *models.Draft, candidates []models.CanonicalEntity) *models.CanonicalEntity {
	region, _ := draft.Attributes[models.FieldRegion].(string)
	if region != "" {
		for i := range candidates {
			if candidates[i].Region != nil && *candidates[i].Region == region {
				return &candidates[i]
			}
		}
	}
	return oldestCandidate(candidates)
}

// oldestCandidate is the deterministic tie-break: the earliest-created
// entity wins, so repeated ingests never split between candidates.
func oldestCandidate(candidates []models.CanonicalEntity) *models.CanonicalEntity {
	if len(candidates) == 0 {
		return nil
	}
	oldest := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if candidates[i].CreatedAt.Before(oldest.CreatedAt) {
			oldest = &candidates[i]
		}
	}
	return oldest
}
