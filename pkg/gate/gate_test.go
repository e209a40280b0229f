package gate

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
)

type fakeAffiliations struct {
	known map[string]string // normalized name -> entity id
}

func (f *fakeAffiliations) ResolveAffiliation(_ context.Context, ref models.AffiliationRef) (string, error) {
	return f.known[ref.Name], nil
}

type fakeRejections struct {
	rejectedHashes map[string]bool
}

func (f *fakeRejections) HasRejectedContent(_ context.Context, contentHash string) (bool, error) {
	return f.rejectedHashes[contentHash], nil
}

func testGate(affiliations *fakeAffiliations, rejections *fakeRejections) *Gate {
	if affiliations == nil {
		affiliations = &fakeAffiliations{}
	}
	if rejections == nil {
		rejections = &fakeRejections{}
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return New(affiliations, rejections, logger)
}

func verifiedWorkDraft() *models.Draft {
	return &models.Draft{
		EntityType: models.EntityTypeCulturalWork,
		TrustTier:  models.TrustTierVerified,
		Attributes: map[string]any{models.FieldTitle: "Whale Rider"},
	}
}

func TestEvaluate_CleanVerifiedRecordAccepted(t *testing.T) {
	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  verifiedWorkDraft(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, eval.Status)
	assert.Empty(t, eval.Violations)
}

func TestEvaluate_StructuralFailureRejects(t *testing.T) {
	draft := verifiedWorkDraft()
	draft.Attributes = map[string]any{} // missing required title

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, eval.Status)
	assert.Equal(t, models.RuleStructuralCompleteness, eval.Violations[0].RuleID)
}

func TestEvaluate_UnresolvedAffiliationHolds(t *testing.T) {
	draft := verifiedWorkDraft()
	draft.Affiliations = []models.AffiliationRef{
		{Kind: models.RelationCountryAffiliation, Name: "Atlantis"},
	}

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHeld, eval.Status)
	assert.Equal(t, models.RuleReferentialIntegrity, eval.Violations[0].RuleID)
}

func TestEvaluate_AffiliationResolvedFromStore(t *testing.T) {
	draft := verifiedWorkDraft()
	draft.Affiliations = []models.AffiliationRef{
		{Kind: models.RelationCountryAffiliation, Name: "Samoa"},
	}

	affiliations := &fakeAffiliations{known: map[string]string{"Samoa": "g1"}}
	eval, err := testGate(affiliations, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, eval.Status)
	require.Len(t, eval.Affiliations, 1)
	assert.Equal(t, "g1", eval.Affiliations[0].EntityID)
}

func TestEvaluate_CoSubmittedResolvesBeforeStore(t *testing.T) {
	draft := verifiedWorkDraft()
	draft.Affiliations = []models.AffiliationRef{
		{Kind: models.RelationIslandAffiliation, Name: "Tutuila"},
	}

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record:      &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:       draft,
		CoSubmitted: map[string]string{"tutuila": "g7"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, eval.Status)
	require.Len(t, eval.Affiliations, 1)
	assert.Equal(t, "g7", eval.Affiliations[0].EntityID)
}

func TestEvaluate_GeometryFailureRejectsIslands(t *testing.T) {
	draft := &models.Draft{
		EntityType: models.EntityTypeGeographicEntity,
		TrustTier:  models.TrustTierVerified,
		Attributes: map[string]any{
			models.FieldName: "Broken Atoll",
			models.FieldKind: models.KindIsland,
		},
		GeometryErr: "ring not closed",
	}

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, eval.Status)
}

func TestEvaluate_GeometryFailureTolerableForPlaceNames(t *testing.T) {
	draft := &models.Draft{
		EntityType: models.EntityTypeGeographicEntity,
		TrustTier:  models.TrustTierVerified,
		Attributes: map[string]any{
			models.FieldName: "Somewhere",
			models.FieldKind: models.KindPlaceName,
		},
		GeometryErr: "ring not closed",
	}

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, eval.Status)
}

func TestEvaluate_DuplicateOfRejectedHolds(t *testing.T) {
	rejections := &fakeRejections{rejectedHashes: map[string]bool{"h-bad": true}}

	eval, err := testGate(nil, rejections).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h-bad"},
		Draft:  verifiedWorkDraft(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHeld, eval.Status)
	assert.Equal(t, models.RuleDuplicateOfRejected, eval.Violations[0].RuleID)
}

func TestEvaluate_UnverifiedTierHolds(t *testing.T) {
	draft := verifiedWorkDraft()
	draft.TrustTier = models.TrustTierUnverified

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHeld, eval.Status)
	assert.Equal(t, models.RuleTrustTier, eval.Violations[0].RuleID)
}

func TestEvaluate_FirstFailingRuleDecidesAllAreRecorded(t *testing.T) {
	// structurally broken AND unverified: rejection decides, both recorded
	draft := &models.Draft{
		EntityType: models.EntityTypeCulturalWork,
		TrustTier:  models.TrustTierUnverified,
		Attributes: map[string]any{},
	}

	eval, err := testGate(nil, nil).Evaluate(context.Background(), Input{
		Record: &models.SourceRecord{ID: "r1", ContentHash: "h1"},
		Draft:  draft,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, eval.Status)

	rules := make(map[string]bool)
	for _, v := range eval.Violations {
		rules[v.RuleID] = true
	}
	assert.True(t, rules[models.RuleStructuralCompleteness])
	assert.True(t, rules[models.RuleTrustTier])
}
