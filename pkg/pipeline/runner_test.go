package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/sources"
)

type fakeRecordStore struct {
	records []*models.SourceRecord
	nextID  int
}

func (s *fakeRecordStore) Create(_ context.Context, req models.CreateSourceRecordRequest) (*models.SourceRecord, error) {
	s.nextID++
	record := &models.SourceRecord{
		ID:               fmt.Sprintf("r%d", s.nextID),
		SourceSystem:     req.SourceSystem,
		RunID:            req.RunID,
		EntityType:       req.EntityType,
		Fields:           req.Fields,
		RawGeometry:      req.RawGeometry,
		GeometryEncoding: req.GeometryEncoding,
		ContentHash:      req.ContentHash,
		TrustTier:        req.TrustTier,
	}
	s.records = append(s.records, record)
	return record, nil
}

func (s *fakeRecordStore) FindByContentHash(_ context.Context, sourceSystem, contentHash string) (*models.SourceRecord, error) {
	for _, r := range s.records {
		if r.SourceSystem == sourceSystem && r.ContentHash == contentHash {
			return r, nil
		}
	}
	return nil, nil
}

func (s *fakeRecordStore) Get(_ context.Context, id string) (*models.SourceRecord, error) {
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

type fakeRunStore struct {
	nextID          int
	finishedStatus  string
	finishedCounts  [4]int
	snapshotVersion *int64
}

func (s *fakeRunStore) Create(_ context.Context, srcs string) (*models.IngestionRun, error) {
	s.nextID++
	return &models.IngestionRun{
		ID:      fmt.Sprintf("run%d", s.nextID),
		Sources: srcs,
		Status:  models.RunStatusRunning,
	}, nil
}

func (s *fakeRunStore) Finish(_ context.Context, _, status string, total, accepted, held, rejected int) error {
	s.finishedStatus = status
	s.finishedCounts = [4]int{total, accepted, held, rejected}
	return nil
}

func (s *fakeRunStore) SetSnapshotVersion(_ context.Context, _ string, version int64) error {
	s.snapshotVersion = &version
	return nil
}

type fakeSnapshotPublisher struct {
	published int
	err       error
}

func (p *fakeSnapshotPublisher) Publish(_ context.Context, runID string) (*models.PublicationSnapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.published++
	return &models.PublicationSnapshot{Version: 7, RunID: runID}, nil
}

type fakeGraphSyncer struct {
	synced int
}

func (g *fakeGraphSyncer) Sync(_ context.Context) error {
	g.synced++
	return nil
}

// errorSource fails after yielding its records.
type errorSource struct {
	inner *sources.StaticSource
	done  bool
}

func (s *errorSource) Name() string { return "broken" }

func (s *errorSource) Next(ctx context.Context) (*models.CreateSourceRecordRequest, error) {
	req, err := s.inner.Next(ctx)
	if err == nil {
		return req, nil
	}
	if !s.done {
		s.done = true
		return nil, errors.New("truncated extract")
	}
	return nil, err
}

type runnerHarness struct {
	*testHarness
	runner    *Runner
	records   *fakeRecordStore
	runs      *fakeRunStore
	publisher *fakeSnapshotPublisher
	graph     *fakeGraphSyncer
}

func newRunnerHarness(opts RunnerOptions) *runnerHarness {
	h := newTestHarness()
	records := &fakeRecordStore{}
	runs := &fakeRunStore{}
	publisher := &fakeSnapshotPublisher{}
	graph := &fakeGraphSyncer{}
	runner := NewRunner(h.pipeline, records, runs, publisher, graph, opts, noopLogger())
	return &runnerHarness{
		testHarness: h,
		runner:      runner,
		records:     records,
		runs:        runs,
		publisher:   publisher,
		graph:       graph,
	}
}

func filmRequest(t *testing.T, fields map[string]any) *models.CreateSourceRecordRequest {
	t.Helper()
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	return &models.CreateSourceRecordRequest{
		SourceSystem: models.SourceAirtable,
		EntityType:   models.EntityTypeCulturalWork,
		Fields:       payload,
		TrustTier:    models.TrustTierVerified,
	}
}

func islandRequest(t *testing.T, name string) *models.CreateSourceRecordRequest {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"Name_USGSO": name})
	require.NoError(t, err)
	rawGeom := []byte(`{"type":"Polygon","coordinates":[[[-170.8,-14.4],[-170.5,-14.4],[-170.5,-14.2],[-170.8,-14.2],[-170.8,-14.4]]]}`)
	encoding := "geojson"
	return &models.CreateSourceRecordRequest{
		SourceSystem:     models.SourceGeoJSON,
		EntityType:       models.EntityTypeGeographicEntity,
		Fields:           payload,
		RawGeometry:      rawGeom,
		GeometryEncoding: &encoding,
		TrustTier:        models.TrustTierVerified,
	}
}

func TestRun_GeographicEntitiesProcessedBeforeWorks(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 2, QueueDepth: 4})

	// the work references the island submitted in the same batch
	src := sources.NewStaticSource("batch",
		filmRequest(t, map[string]any{"filmName": "Vai", "island 1": "Tutuila"}),
		islandRequest(t, "Tutuila"),
	)

	run, err := h.runner.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.RecordsTotal)
	assert.Equal(t, 2, run.RecordsAccepted)
	assert.Equal(t, 0, run.RecordsHeld)

	var work, island *models.CanonicalEntity
	for _, e := range h.store.entities {
		switch e.EntityType {
		case models.EntityTypeCulturalWork:
			work = e
		case models.EntityTypeGeographicEntity:
			island = e
		}
	}
	require.NotNil(t, work)
	require.NotNil(t, island)

	relations := h.store.relations[work.ID]
	require.Len(t, relations, 1)
	assert.Equal(t, island.ID, relations[0].ToID)
	assert.Equal(t, models.RelationIslandAffiliation, relations[0].Kind)
}

func TestRun_IdenticalContentReprocessedEachRun(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 1, QueueDepth: 1})

	req := func() *models.CreateSourceRecordRequest {
		return filmRequest(t, map[string]any{"filmName": "Whale Rider", "airtableId": "rec1"})
	}

	first, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable", req()))
	require.NoError(t, err)
	assert.Equal(t, 1, first.RecordsTotal)
	assert.Equal(t, 1, first.RecordsAccepted)

	// a resubmission still gets its own record and outcome; the entity is
	// unchanged but its history gains an empty-diff entry for the new run
	second, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable", req()))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, 1, second.RecordsTotal)
	assert.Equal(t, 1, second.RecordsAccepted)

	assert.Len(t, h.records.records, 2)
	assert.Len(t, h.outcomes.outcomes, 2)
	assert.Len(t, h.store.entities, 1)
	assert.Len(t, h.store.applied, 1)
	require.Len(t, h.store.appended, 1)
	assert.JSONEq(t, `{}`, string(h.store.appended[0].Diff))
}

func TestRun_RejectedContentResubmissionHeldForModeration(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 1, QueueDepth: 1})

	req := func() *models.CreateSourceRecordRequest {
		return filmRequest(t, map[string]any{"filmName": "Whale Rider", "airtableId": "rec1"})
	}

	_, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable", req()))
	require.NoError(t, err)
	require.Len(t, h.records.records, 1)

	// a moderator rejects the content after the first run
	h.store.rejected[h.records.records[0].ContentHash] = true

	second, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable", req()))
	require.NoError(t, err)
	assert.Equal(t, 1, second.RecordsTotal)
	assert.Equal(t, 1, second.RecordsHeld)
	assert.Equal(t, 0, second.RecordsAccepted)

	require.Len(t, h.records.records, 2)
	outcome, err := h.outcomes.GetLatestForRecord(context.Background(), h.records.records[1].ID)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, models.OutcomeHeld, outcome.Status)

	violations, err := outcome.ViolationList()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.RuleDuplicateOfRejected, violations[0].RuleID)
}

func TestRun_UnmappableRecordCountedRejected(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 1, QueueDepth: 1})

	req := filmRequest(t, map[string]any{"filmName": "Mystery"})
	req.SourceSystem = "wikidata"

	run, err := h.runner.Run(context.Background(), sources.NewStaticSource("wikidata", req))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.RecordsTotal)
	assert.Equal(t, 1, run.RecordsRejected)
	assert.Equal(t, 0, run.RecordsAccepted)
}

func TestRun_SourceErrorMarksRunIncomplete(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 1, QueueDepth: 1})

	src := &errorSource{inner: sources.NewStaticSource("broken",
		filmRequest(t, map[string]any{"filmName": "Vai"}),
	)}

	run, err := h.runner.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusIncomplete, run.Status)
	// the record read before the failure is still processed
	assert.Equal(t, 1, run.RecordsTotal)
	assert.Equal(t, 1, run.RecordsAccepted)
	assert.Equal(t, 0, h.publisher.published)
}

func TestRun_PublishesSnapshotOnSuccess(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{
		WorkerCount:      1,
		QueueDepth:       1,
		PublishOnSuccess: true,
		SyncGraph:        true,
	})

	run, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable",
		filmRequest(t, map[string]any{"filmName": "Vai"}),
	))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.NotNil(t, run.SnapshotVersion)
	assert.Equal(t, int64(7), *run.SnapshotVersion)
	assert.Equal(t, 1, h.publisher.published)
	assert.Equal(t, 1, h.graph.synced)
	require.NotNil(t, h.runs.snapshotVersion)
	assert.Equal(t, int64(7), *h.runs.snapshotVersion)
}

func TestRun_PublishFailureMarksRunFailed(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 1, QueueDepth: 1, PublishOnSuccess: true})
	h.publisher.err = errors.New("snapshot store unavailable")

	run, err := h.runner.Run(context.Background(), sources.NewStaticSource("airtable",
		filmRequest(t, map[string]any{"filmName": "Vai"}),
	))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Nil(t, run.SnapshotVersion)
	assert.Equal(t, models.RunStatusFailed, h.runs.finishedStatus)
}

func TestRun_SameEntityRecordsMergeNotSplit(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 4, QueueDepth: 8})

	src := sources.NewStaticSource("airtable",
		filmRequest(t, map[string]any{"filmName": "Vai", "lang": "en"}),
		filmRequest(t, map[string]any{"filmName": "Vai", "lang": "sm"}),
	)

	run, err := h.runner.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, run.RecordsAccepted)
	// both records share the identity key, so exactly one entity exists
	assert.Len(t, h.store.entities, 1)
}

func TestRun_SharedExternalIDRecordsMergeNotSplit(t *testing.T) {
	h := newRunnerHarness(RunnerOptions{WorkerCount: 4, QueueDepth: 8})

	// same source identifier under different titles: the resolver matches
	// both to one entity, so they must land on the same worker
	src := sources.NewStaticSource("airtable",
		filmRequest(t, map[string]any{"filmName": "Vai", "airtableId": "rec9"}),
		filmRequest(t, map[string]any{"filmName": "Vai (2019)", "airtableId": "rec9"}),
	)

	run, err := h.runner.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, run.RecordsAccepted)
	assert.Len(t, h.store.entities, 1)
	for _, e := range h.store.entities {
		assert.Equal(t, 2, e.Version)
	}
}
