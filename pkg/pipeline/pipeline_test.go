package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/canonicalize"
	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/matching"
	"github.com/pasifika-atlas/reef/pkg/merging"
	"github.com/pasifika-atlas/reef/pkg/models"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeEntityStore backs the resolver, the gate's reference resolution, and
// the accepted write path with one in-memory map.
type fakeEntityStore struct {
	entities  map[string]*models.CanonicalEntity
	relations map[string][]models.EntityRelation
	rejected  map[string]bool
	applied   []*models.LedgerEntry
	appended  []*models.LedgerEntry
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		entities:  map[string]*models.CanonicalEntity{},
		relations: map[string][]models.EntityRelation{},
		rejected:  map[string]bool{},
	}
}

func (s *fakeEntityStore) ApplyMerge(_ context.Context, entity *models.CanonicalEntity, entry *models.LedgerEntry, relations []models.EntityRelation) (*models.CanonicalEntity, error) {
	if existing, ok := s.entities[entity.ID]; ok {
		entity.Version = existing.Version + 1
		entity.CreatedAt = existing.CreatedAt
	} else {
		entity.Version = 1
	}
	s.entities[entity.ID] = entity
	s.relations[entity.ID] = append(s.relations[entity.ID], relations...)
	s.applied = append(s.applied, entry)
	return entity, nil
}

func (s *fakeEntityStore) AppendLedgerEntry(_ context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	s.appended = append(s.appended, entry)
	return entry, nil
}

func (s *fakeEntityStore) Get(_ context.Context, entityID string) (*models.CanonicalEntity, error) {
	return s.entities[entityID], nil
}

func (s *fakeEntityStore) GetByExternalID(_ context.Context, entityType, externalID string) (*models.CanonicalEntity, error) {
	for _, e := range s.entities {
		if e.EntityType == entityType && e.ExternalID != nil && *e.ExternalID == externalID {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeEntityStore) ListByNormalizedName(_ context.Context, entityType, normalizedName string) ([]models.CanonicalEntity, error) {
	var out []models.CanonicalEntity
	for _, e := range s.entities {
		if e.EntityType == entityType && e.NormalizedName == normalizedName {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeEntityStore) ListRelationsFrom(_ context.Context, entityID string) ([]models.EntityRelation, error) {
	return s.relations[entityID], nil
}

func (s *fakeEntityStore) ResolveAffiliation(ctx context.Context, ref models.AffiliationRef) (string, error) {
	for _, e := range s.entities {
		if e.EntityType != models.EntityTypeGeographicEntity {
			continue
		}
		if ref.ExternalID != "" && e.ExternalID != nil && *e.ExternalID == ref.ExternalID {
			return e.ID, nil
		}
		if ref.Name != "" && e.Name == ref.Name {
			return e.ID, nil
		}
	}
	return "", nil
}

func (s *fakeEntityStore) HasRejectedContent(_ context.Context, contentHash string) (bool, error) {
	return s.rejected[contentHash], nil
}

// fakeOutcomeStore implements every outcome surface the pipeline touches.
type fakeOutcomeStore struct {
	outcomes []*models.ValidationOutcome
	nextID   int
}

func (s *fakeOutcomeStore) Create(_ context.Context, sourceRecordID, runID, status string, entityID *string, violations []models.RuleViolation) (*models.ValidationOutcome, error) {
	payload, err := json.Marshal(violations)
	if err != nil {
		return nil, err
	}
	s.nextID++
	outcome := &models.ValidationOutcome{
		ID:             fmt.Sprintf("o%d", s.nextID),
		SourceRecordID: sourceRecordID,
		RunID:          runID,
		EntityID:       entityID,
		Status:         status,
		Violations:     payload,
	}
	s.outcomes = append(s.outcomes, outcome)
	return outcome, nil
}

func (s *fakeOutcomeStore) Get(_ context.Context, id string) (*models.ValidationOutcome, error) {
	for _, o := range s.outcomes {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, nil
}

func (s *fakeOutcomeStore) GetLatestForRecord(_ context.Context, sourceRecordID string) (*models.ValidationOutcome, error) {
	for i := len(s.outcomes) - 1; i >= 0; i-- {
		if s.outcomes[i].SourceRecordID == sourceRecordID {
			return s.outcomes[i], nil
		}
	}
	return nil, nil
}

func (s *fakeOutcomeStore) Resolve(_ context.Context, id, status, moderator, _ string, entityID *string) error {
	for _, o := range s.outcomes {
		if o.ID == id {
			o.Status = status
			o.DecidedBy = &moderator
			o.EntityID = entityID
			return nil
		}
	}
	return fmt.Errorf("outcome %s not found", id)
}

func (s *fakeOutcomeStore) ListHeld(_ context.Context, _, _ int) ([]models.ValidationOutcome, error) {
	var out []models.ValidationOutcome
	for _, o := range s.outcomes {
		if o.Status == models.OutcomeHeld {
			out = append(out, *o)
		}
	}
	return out, nil
}

// fakeEventSink counts emitted lifecycle events.
type fakeEventSink struct {
	created  int
	updated  int
	merged   int
	outcomes int
}

func (s *fakeEventSink) EmitEntityCreated(_ context.Context, _ *models.CanonicalEntity, _ string, _ []string) error {
	s.created++
	return nil
}

func (s *fakeEventSink) EmitEntityUpdated(_ context.Context, _ *models.CanonicalEntity, _ string, _ []string) error {
	s.updated++
	return nil
}

func (s *fakeEventSink) EmitEntityMerged(_ context.Context, _ *models.CanonicalEntity, _ string, _ []string) error {
	s.merged++
	return nil
}

func (s *fakeEventSink) EmitRecordOutcome(_ context.Context, _ *models.ValidationOutcome, _ string) error {
	s.outcomes++
	return nil
}

type testHarness struct {
	pipeline *Pipeline
	store    *fakeEntityStore
	outcomes *fakeOutcomeStore
	events   *fakeEventSink
}

func newTestHarness() *testHarness {
	logger := noopLogger()
	store := newFakeEntityStore()
	outcomes := &fakeOutcomeStore{}
	events := &fakeEventSink{}

	p := New(
		canonicalize.New(geometry.NewNormalizer(nil), logger),
		matching.NewResolver(store, logger),
		merging.NewMerger(logger),
		gate.New(store, store, logger),
		store,
		outcomes,
		events,
		logger,
	)
	return &testHarness{pipeline: p, store: store, outcomes: outcomes, events: events}
}

func workDraft(title string) *models.Draft {
	return &models.Draft{
		EntityType:     models.EntityTypeCulturalWork,
		SourceSystem:   models.SourceAirtable,
		DisplayName:    title,
		NormalizedName: title,
		TrustTier:      models.TrustTierVerified,
		Attributes:     map[string]any{models.FieldTitle: title},
	}
}

func sourceRecord(id string) *models.SourceRecord {
	return &models.SourceRecord{
		ID:           id,
		SourceSystem: models.SourceAirtable,
		RunID:        "run1",
		EntityType:   models.EntityTypeCulturalWork,
		Fields:       json.RawMessage(`{}`),
		ContentHash:  "hash-" + id,
		TrustTier:    models.TrustTierVerified,
	}
}

func testPolygon(minX float64) *geometry.Geometry {
	return &geometry.Geometry{
		Type:  geometry.TypePolygon,
		Frame: geometry.FrameWGS84,
		Polygons: []geometry.Polygon{{geometry.Ring{
			{X: minX, Y: -14}, {X: minX + 0.1, Y: -14},
			{X: minX + 0.1, Y: -13.9}, {X: minX, Y: -13.9},
			{X: minX, Y: -14},
		}}},
	}
}

func TestProcessDraft_NewEntityAccepted(t *testing.T) {
	h := newTestHarness()

	outcome, err := h.pipeline.ProcessDraft(context.Background(), sourceRecord("r1"), workDraft("vai"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	require.NotNil(t, outcome.EntityID)

	entity := h.store.entities[*outcome.EntityID]
	require.NotNil(t, entity)
	assert.Equal(t, "vai", entity.Name)
	assert.Equal(t, 1, h.events.created)

	// the ledger entry records the initial field transitions
	require.Len(t, h.store.applied, 1)
	diff, err := h.store.applied[0].DiffMap()
	require.NoError(t, err)
	assert.Contains(t, diff, models.FieldTitle)
}

func TestProcessDraft_HeldRecordWritesNothing(t *testing.T) {
	h := newTestHarness()
	draft := workDraft("vai")
	draft.TrustTier = models.TrustTierUnverified

	outcome, err := h.pipeline.ProcessDraft(context.Background(), sourceRecord("r1"), draft, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHeld, outcome.Status)
	assert.Nil(t, outcome.EntityID)
	assert.Empty(t, h.store.entities)
	assert.Empty(t, h.store.applied)
	assert.Equal(t, 1, h.events.outcomes)
}

func TestProcessDraft_MergeConflictHeld(t *testing.T) {
	h := newTestHarness()

	externalID := "isl-1"
	attrs, err := json.Marshal(map[string]any{
		models.FieldName: "Tutuila",
		models.FieldKind: models.KindIsland,
		"geometry_from_authoritative_source": true,
	})
	require.NoError(t, err)
	existingGeom, err := json.Marshal(testPolygon(-170.8))
	require.NoError(t, err)
	h.store.entities["e1"] = &models.CanonicalEntity{
		ID:             "e1",
		EntityType:     models.EntityTypeGeographicEntity,
		Name:           "Tutuila",
		NormalizedName: "tutuila",
		ExternalID:     &externalID,
		Attributes:     attrs,
		Geometry:       existingGeom,
	}

	draft := &models.Draft{
		EntityType:            models.EntityTypeGeographicEntity,
		SourceSystem:          models.SourceGeoJSON,
		ExternalID:            externalID,
		DisplayName:           "Tutuila",
		NormalizedName:        "tutuila",
		TrustTier:             models.TrustTierVerified,
		GeometryAuthoritative: true,
		Geometry:              testPolygon(-170.6),
		Attributes: map[string]any{
			models.FieldName: "Tutuila",
			models.FieldKind: models.KindIsland,
		},
	}

	record := sourceRecord("r1")
	record.EntityType = models.EntityTypeGeographicEntity

	outcome, err := h.pipeline.ProcessDraft(context.Background(), record, draft, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHeld, outcome.Status)
	require.NotNil(t, outcome.EntityID)
	assert.Equal(t, "e1", *outcome.EntityID)

	violations, err := outcome.ViolationList()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.RuleMergeConflict, violations[0].RuleID)

	// the existing geometry was not displaced
	assert.Empty(t, h.store.applied)
}

func TestProcessDraft_NoOpReIngestAppendsEmptyDiff(t *testing.T) {
	h := newTestHarness()

	externalID := "rec1"
	attrs, err := json.Marshal(map[string]any{models.FieldTitle: "vai"})
	require.NoError(t, err)
	h.store.entities["e1"] = &models.CanonicalEntity{
		ID:             "e1",
		EntityType:     models.EntityTypeCulturalWork,
		Name:           "vai",
		NormalizedName: "vai",
		ExternalID:     &externalID,
		Attributes:     attrs,
		Version:        3,
	}

	draft := workDraft("vai")
	draft.ExternalID = externalID

	outcome, err := h.pipeline.ProcessDraft(context.Background(), sourceRecord("r2"), draft, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	require.NotNil(t, outcome.EntityID)
	assert.Equal(t, "e1", *outcome.EntityID)

	// the entity is untouched and no lifecycle event fires, but the run
	// still leaves a trace in the entity's history
	assert.Empty(t, h.store.applied)
	assert.Equal(t, 0, h.events.created+h.events.updated+h.events.merged)
	assert.Equal(t, 3, h.store.entities["e1"].Version)

	require.Len(t, h.store.appended, 1)
	entry := h.store.appended[0]
	assert.Equal(t, "e1", entry.EntityID)
	assert.Equal(t, "r2", entry.SourceRecordID)
	assert.JSONEq(t, `{}`, string(entry.Diff))
}

func TestProcessDraft_ExternalIDMatchUpdatesEntity(t *testing.T) {
	h := newTestHarness()

	externalID := "rec1"
	attrs, err := json.Marshal(map[string]any{
		models.FieldTitle:     "vai",
		models.FieldLanguages: []string{"en"},
	})
	require.NoError(t, err)
	h.store.entities["e1"] = &models.CanonicalEntity{
		ID:             "e1",
		EntityType:     models.EntityTypeCulturalWork,
		Name:           "vai",
		NormalizedName: "vai",
		ExternalID:     &externalID,
		Attributes:     attrs,
		Version:        1,
	}

	draft := workDraft("vai")
	draft.ExternalID = externalID
	draft.Attributes[models.FieldLanguages] = []string{"mi", "sm"}

	outcome, err := h.pipeline.ProcessDraft(context.Background(), sourceRecord("r2"), draft, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, outcome.Status)

	entity := h.store.entities["e1"]
	merged, err := entity.AttributesMap()
	require.NoError(t, err)
	assert.Equal(t, []any{"en", "mi", "sm"}, merged[models.FieldLanguages])
	assert.Equal(t, 2, entity.Version)
	assert.Equal(t, 1, h.events.updated)
}

func TestProcessRecord_UnmappableRecordRejected(t *testing.T) {
	h := newTestHarness()

	record := sourceRecord("r1")
	record.SourceSystem = "wikidata" // no field-mapping profile

	outcome, err := h.pipeline.ProcessRecord(context.Background(), record, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, outcome.Status)

	violations, err := outcome.ViolationList()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.RuleStructuralCompleteness, violations[0].RuleID)
	assert.Equal(t, 1, h.events.outcomes)
}

func TestProcessDraft_AffiliationsBecomeRelations(t *testing.T) {
	h := newTestHarness()

	h.store.entities["g1"] = &models.CanonicalEntity{
		ID:             "g1",
		EntityType:     models.EntityTypeGeographicEntity,
		Name:           "Samoa",
		NormalizedName: "samoa",
	}

	draft := workDraft("vai")
	draft.Affiliations = []models.AffiliationRef{
		{Kind: models.RelationCountryAffiliation, Name: "Samoa"},
	}

	outcome, err := h.pipeline.ProcessDraft(context.Background(), sourceRecord("r1"), draft, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.EntityID)

	relations := h.store.relations[*outcome.EntityID]
	require.Len(t, relations, 1)
	assert.Equal(t, "g1", relations[0].ToID)
	assert.Equal(t, models.RelationCountryAffiliation, relations[0].Kind)
}
