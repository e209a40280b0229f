package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/models"
)

type moderationHarness struct {
	*testHarness
	moderation *Moderation
	records    *fakeRecordStore
}

func newModerationHarness() *moderationHarness {
	h := newTestHarness()
	records := &fakeRecordStore{}
	return &moderationHarness{
		testHarness: h,
		moderation:  NewModeration(h.pipeline, h.outcomes, records, noopLogger()),
		records:     records,
	}
}

// heldCommunityRecord ingests one unverified community submission and returns
// its held outcome.
func (h *moderationHarness) heldCommunityRecord(t *testing.T, title string) *models.ValidationOutcome {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"title": title})
	require.NoError(t, err)
	record, err := h.records.Create(context.Background(), models.CreateSourceRecordRequest{
		SourceSystem: models.SourceCommunity,
		RunID:        "run1",
		EntityType:   models.EntityTypeCulturalWork,
		Fields:       payload,
		ContentHash:  "hash-" + title,
		TrustTier:    models.TrustTierUnverified,
	})
	require.NoError(t, err)

	outcome, err := h.pipeline.ProcessRecord(context.Background(), record, nil)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeHeld, outcome.Status)
	return outcome
}

func decision(kind string) models.ModerationDecisionRequest {
	return models.ModerationDecisionRequest{
		Decision:  kind,
		Reason:    "reviewed against the source catalogue",
		Moderator: "moderator@example.org",
	}
}

func TestDecide_AcceptFoldsRecordIntoCanonicalStore(t *testing.T) {
	h := newModerationHarness()
	held := h.heldCommunityRecord(t, "Waru")

	resolved, err := h.moderation.Decide(context.Background(), held.ID, decision(models.DecisionAccept))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, resolved.Status)
	require.NotNil(t, resolved.EntityID)
	require.NotNil(t, resolved.DecidedBy)
	assert.Equal(t, "moderator@example.org", *resolved.DecidedBy)

	entity := h.store.entities[*resolved.EntityID]
	require.NotNil(t, entity)
	assert.Equal(t, "Waru", entity.Name)
	require.Len(t, h.store.applied, 1)
}

func TestDecide_RejectLeavesCanonicalStoreUntouched(t *testing.T) {
	h := newModerationHarness()
	held := h.heldCommunityRecord(t, "Waru")

	resolved, err := h.moderation.Decide(context.Background(), held.ID, decision(models.DecisionReject))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, resolved.Status)
	assert.Empty(t, h.store.entities)
	assert.Empty(t, h.store.applied)
}

func TestDecide_TerminalOutcomeCannotBeReopened(t *testing.T) {
	h := newModerationHarness()
	held := h.heldCommunityRecord(t, "Waru")

	_, err := h.moderation.Decide(context.Background(), held.ID, decision(models.DecisionReject))
	require.NoError(t, err)

	_, err = h.moderation.Decide(context.Background(), held.ID, decision(models.DecisionAccept))
	var stateErr *gate.ModerationStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.OutcomeRejected, stateErr.Status)
}

func TestDecide_UnknownOutcome(t *testing.T) {
	h := newModerationHarness()

	_, err := h.moderation.Decide(context.Background(), "missing", decision(models.DecisionAccept))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outcome not found")
}

func TestDecide_UnknownDecisionRejected(t *testing.T) {
	h := newModerationHarness()
	held := h.heldCommunityRecord(t, "Waru")

	_, err := h.moderation.Decide(context.Background(), held.ID, decision("escalate"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accept or reject")
}

func TestQueue_ListsHeldRecords(t *testing.T) {
	h := newModerationHarness()
	h.heldCommunityRecord(t, "Waru")
	h.heldCommunityRecord(t, "Vai")

	queue, err := h.moderation.Queue(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}
