package matching

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
)

type fakeLookup struct {
	byExternalID map[string]*models.CanonicalEntity
	byName       map[string][]models.CanonicalEntity
	relations    map[string][]models.EntityRelation
	byID         map[string]*models.CanonicalEntity
}

func (f *fakeLookup) GetByExternalID(_ context.Context, entityType, externalID string) (*models.CanonicalEntity, error) {
	return f.byExternalID[entityType+"/"+externalID], nil
}

func (f *fakeLookup) ListByNormalizedName(_ context.Context, entityType, normalizedName string) ([]models.CanonicalEntity, error) {
	return f.byName[entityType+"/"+normalizedName], nil
}

func (f *fakeLookup) ListRelationsFrom(_ context.Context, entityID string) ([]models.EntityRelation, error) {
	return f.relations[entityID], nil
}

func (f *fakeLookup) Get(_ context.Context, entityID string) (*models.CanonicalEntity, error) {
	return f.byID[entityID], nil
}

func testResolver(lookup *fakeLookup) *Resolver {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewResolver(lookup, logger)
}

func TestResolve_ExternalIDWins(t *testing.T) {
	known := &models.CanonicalEntity{ID: "e1", EntityType: models.EntityTypeCulturalWork, NormalizedName: "whale rider"}
	lookup := &fakeLookup{
		byExternalID: map[string]*models.CanonicalEntity{"cultural_work/recAB12": known},
		byName: map[string][]models.CanonicalEntity{
			// a different entity shares the name; external id must win
			"cultural_work/whale rider": {{ID: "e2", NormalizedName: "whale rider"}},
		},
	}

	res, err := testResolver(lookup).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		ExternalID:     "recAB12",
		NormalizedName: "whale rider",
	})
	require.NoError(t, err)
	assert.Equal(t, MatchedByExternalID, res.MatchedBy)
	assert.Equal(t, "e1", res.Entity.ID)
}

func TestResolve_SingleNameMatch(t *testing.T) {
	lookup := &fakeLookup{
		byName: map[string][]models.CanonicalEntity{
			"cultural_work/kumu hina": {{ID: "e1", NormalizedName: "kumu hina"}},
		},
	}

	res, err := testResolver(lookup).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		NormalizedName: "kumu hina",
	})
	require.NoError(t, err)
	assert.Equal(t, MatchedByNormalizedName, res.MatchedBy)
	assert.Equal(t, "e1", res.Entity.ID)
}

func TestResolve_NoMatchAllocatesNewID(t *testing.T) {
	res, err := testResolver(&fakeLookup{}).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		NormalizedName: "vai",
	})
	require.NoError(t, err)
	assert.Equal(t, MatchedByNone, res.MatchedBy)
	assert.Nil(t, res.Entity)
	assert.NotEmpty(t, res.NewID)
}

func TestResolve_DisambiguateWorksByAffiliation(t *testing.T) {
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	lookup := &fakeLookup{
		byName: map[string][]models.CanonicalEntity{
			"cultural_work/moana": {
				{ID: "e1", NormalizedName: "moana", CreatedAt: older},
				{ID: "e2", NormalizedName: "moana", CreatedAt: newer},
			},
		},
		relations: map[string][]models.EntityRelation{
			"e2": {{FromID: "e2", ToID: "g1", Kind: models.RelationCountryAffiliation}},
		},
		byID: map[string]*models.CanonicalEntity{
			"g1": {ID: "g1", NormalizedName: "samoa"},
		},
	}

	res, err := testResolver(lookup).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		NormalizedName: "moana",
		Affiliations:   []models.AffiliationRef{{Kind: models.RelationCountryAffiliation, Name: "Samoa"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "e2", res.Entity.ID)
}

func TestResolve_AmbiguousWorksFallBackToOldest(t *testing.T) {
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	lookup := &fakeLookup{
		byName: map[string][]models.CanonicalEntity{
			"cultural_work/moana": {
				{ID: "e2", NormalizedName: "moana", CreatedAt: newer},
				{ID: "e1", NormalizedName: "moana", CreatedAt: older},
			},
		},
	}

	res, err := testResolver(lookup).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		NormalizedName: "moana",
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", res.Entity.ID)
}

func TestResolve_DisambiguateGeographicByRegion(t *testing.T) {
	hawaii := "Hawaii"
	polynesia := "Polynesia"
	lookup := &fakeLookup{
		byName: map[string][]models.CanonicalEntity{
			"geographic_entity/big island": {
				{ID: "g1", NormalizedName: "big island", Region: &polynesia},
				{ID: "g2", NormalizedName: "big island", Region: &hawaii},
			},
		},
	}

	res, err := testResolver(lookup).Resolve(context.Background(), &models.Draft{
		EntityType:     models.EntityTypeGeographicEntity,
		NormalizedName: "big island",
		Attributes:     map[string]any{models.FieldRegion: "Hawaii"},
	})
	require.NoError(t, err)
	assert.Equal(t, "g2", res.Entity.ID)
}
