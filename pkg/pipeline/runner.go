package pipeline

import (
	"context"
	"hash/fnv"
	"io"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"

	appctx "github.com/pasifika-atlas/reef/pkg/context"
	"github.com/pasifika-atlas/reef/pkg/fingerprint"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/sources"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// RecordStore is the append-only raw record log.
type RecordStore interface {
	Create(ctx context.Context, req models.CreateSourceRecordRequest) (*models.SourceRecord, error)
	FindByContentHash(ctx context.Context, sourceSystem, contentHash string) (*models.SourceRecord, error)
}

// RunStore tracks run lifecycle and counters.
type RunStore interface {
	Create(ctx context.Context, sources string) (*models.IngestionRun, error)
	Finish(ctx context.Context, id, status string, total, accepted, held, rejected int) error
	SetSnapshotVersion(ctx context.Context, id string, version int64) error
}

// SnapshotPublisher materializes accepted state after a completed run.
type SnapshotPublisher interface {
	Publish(ctx context.Context, runID string) (*models.PublicationSnapshot, error)
}

// GraphSyncer projects accepted state into the graph database.
type GraphSyncer interface {
	Sync(ctx context.Context) error
}

// RunnerOptions tune concurrency and post-run behavior.
type RunnerOptions struct {
	WorkerCount      int
	QueueDepth       int
	PublishOnSuccess bool
	SyncGraph        bool
}

// Runner executes ingestion runs. Records are partitioned across workers by
// entity identity key, so all records for one entity are processed serially
// while distinct entities proceed in parallel.
type Runner struct {
	pipeline  *Pipeline
	records   RecordStore
	runs      RunStore
	publisher SnapshotPublisher
	graph     GraphSyncer
	opts      RunnerOptions
	logger    ectologger.Logger
}

func NewRunner(
	p *Pipeline,
	records RecordStore,
	runs RunStore,
	publisher SnapshotPublisher,
	graph GraphSyncer,
	opts RunnerOptions,
	logger ectologger.Logger,
) *Runner {
	if opts.WorkerCount < 1 {
		opts.WorkerCount = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	return &Runner{
		pipeline:  p,
		records:   records,
		runs:      runs,
		publisher: publisher,
		graph:     graph,
		opts:      opts,
		logger:    logger,
	}
}

type task struct {
	record *models.SourceRecord
	draft  *models.Draft
	key    string
}

// tally accumulates run counters across workers.
type tally struct {
	mu       sync.Mutex
	accepted int
	held     int
	rejected int
	failed   int
	// acceptedGeo maps normalized names of geographic entities accepted in
	// this run to their canonical ids, feeding intra-run reference
	// resolution for the works phase.
	acceptedGeo map[string]string
}

func (t *tally) count(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch status {
	case models.OutcomeAccepted:
		t.accepted++
	case models.OutcomeHeld:
		t.held++
	case models.OutcomeRejected:
		t.rejected++
	}
}

func (t *tally) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

func (t *tally) registerGeo(normalizedName, entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acceptedGeo == nil {
		t.acceptedGeo = map[string]string{}
	}
	t.acceptedGeo[normalizedName] = entityID
}

// Run ingests every source to exhaustion and finishes the run. Geographic
// entities are processed before cultural works so that affiliation targets
// submitted in the same batch already exist when works are gated.
func (r *Runner) Run(ctx context.Context, srcs ...sources.Source) (*models.IngestionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Runner.Run")
	defer span.End()

	names := make([]string, 0, len(srcs))
	for _, src := range srcs {
		names = append(names, src.Name())
	}

	run, err := r.runs.Create(ctx, strings.Join(names, ","))
	if err != nil {
		return nil, err
	}
	ctx = appctx.SetRunID(ctx, run.ID)

	log := r.logger.WithContext(ctx).WithField("run_id", run.ID)
	log.WithField("sources", names).Info("Ingestion run started")

	var geoTasks, workTasks []task
	total := 0
	resubmitted := 0
	res := &tally{}

	for _, src := range srcs {
		if ctx.Err() != nil {
			break
		}
		ingested, dup, err := r.ingestSource(ctx, run.ID, src, &geoTasks, &workTasks, res)
		total += ingested
		resubmitted += dup
		if err != nil {
			log.WithError(err).WithField("source", src.Name()).Error("Source failed mid-stream")
			res.fail()
		}
	}

	if ctx.Err() == nil {
		r.dispatch(ctx, geoTasks, nil, res)
	}

	coSubmitted := res.acceptedGeo
	if ctx.Err() == nil {
		r.dispatch(ctx, workTasks, coSubmitted, res)
	}

	status := models.RunStatusCompleted
	switch {
	case ctx.Err() != nil:
		status = models.RunStatusAborted
	case res.failed > 0:
		status = models.RunStatusIncomplete
	}

	var snapshotVersion *int64
	if status == models.RunStatusCompleted && r.opts.PublishOnSuccess && r.publisher != nil {
		snap, err := r.publisher.Publish(ctx, run.ID)
		if err != nil {
			log.WithError(err).Error("Snapshot publication failed")
			status = models.RunStatusFailed
		} else {
			snapshotVersion = &snap.Version
			if r.opts.SyncGraph && r.graph != nil {
				if err := r.graph.Sync(ctx); err != nil {
					log.WithError(err).Warn("Graph projection failed")
				}
			}
		}
	}

	// Finish with the background context so an aborted run is still closed
	// out after cancellation.
	finishCtx := ctx
	if ctx.Err() != nil {
		finishCtx = context.WithoutCancel(ctx)
	}
	if err := r.runs.Finish(finishCtx, run.ID, status, total, res.accepted, res.held, res.rejected); err != nil {
		return nil, err
	}
	if snapshotVersion != nil {
		if err := r.runs.SetSnapshotVersion(finishCtx, run.ID, *snapshotVersion); err != nil {
			log.WithError(err).Error("Failed to record snapshot version on run")
		}
	}

	run.Status = status
	run.RecordsTotal = total
	run.RecordsAccepted = res.accepted
	run.RecordsHeld = res.held
	run.RecordsRejected = res.rejected
	run.SnapshotVersion = snapshotVersion

	log.WithFields(map[string]any{
		"status":      status,
		"total":       total,
		"accepted":    res.accepted,
		"held":        res.held,
		"rejected":    res.rejected,
		"resubmitted": resubmitted,
	}).Info("Ingestion run finished")
	return run, nil
}

// ingestSource drains one source: content hashing, record creation, and
// canonicalization. Records that fail canonicalization get their rejected
// outcome here; the rest become dispatch tasks.
func (r *Runner) ingestSource(ctx context.Context, runID string, src sources.Source, geoTasks, workTasks *[]task, res *tally) (int, int, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Runner.ingestSource")
	defer span.End()
	ctx = appctx.SetSourceSystem(ctx, src.Name())

	total := 0
	resubmitted := 0
	for {
		req, err := src.Next(ctx)
		if err == io.EOF {
			return total, resubmitted, nil
		}
		if err != nil {
			return total, resubmitted, err
		}

		req.RunID = runID
		fields, err := req.FieldsMap()
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("source", src.Name()).
				Warn("Skipping row with malformed fields")
			res.fail()
			continue
		}
		req.ContentHash = fingerprint.Content(fields, req.RawGeometry)

		// Resubmitted content is never dropped: every input row gets its own
		// record and its own outcome in this run. An identical re-ingest of
		// accepted content is a no-op merge downstream, and content matching
		// a previously rejected record must reach the gate so its duplicate
		// rule can hold it for moderation.
		prior, err := r.records.FindByContentHash(ctx, req.SourceSystem, req.ContentHash)
		if err != nil {
			return total, resubmitted, err
		}
		if prior != nil {
			resubmitted++
		}

		record, err := r.records.Create(ctx, *req)
		if err != nil {
			return total, resubmitted, err
		}
		total++

		draft, err := r.pipeline.canonicalizer.Canonicalize(ctx, record)
		if err != nil {
			// canonicalization failures are per-record rejections, decided
			// inline so the worker phase only sees valid drafts
			outcome, perr := r.pipeline.ProcessRecord(ctx, record, nil)
			if perr != nil {
				return total, resubmitted, perr
			}
			res.count(outcome.Status)
			continue
		}

		t := task{
			record: record,
			draft:  draft,
			key:    identityKey(draft),
		}
		if draft.EntityType == models.EntityTypeGeographicEntity {
			*geoTasks = append(*geoTasks, t)
		} else {
			*workTasks = append(*workTasks, t)
		}
	}
}

// identityKey groups drafts that the resolver could match to the same
// entity. Drafts carrying a source identifier partition by it, since the
// resolver prefers external-id matches over normalized-name matches.
func identityKey(d *models.Draft) string {
	if d.ExternalID != "" {
		return d.EntityType + "|id|" + d.ExternalID
	}
	return d.EntityType + "|name|" + d.NormalizedName
}

// dispatch fans tasks out to workers. Tasks sharing an identity key always
// land on the same worker, which processes them in submission order.
func (r *Runner) dispatch(ctx context.Context, tasks []task, coSubmitted map[string]string, res *tally) {
	if len(tasks) == 0 {
		return
	}

	workers := r.opts.WorkerCount
	queues := make([]chan task, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		queues[i] = make(chan task, r.opts.QueueDepth)
		wg.Add(1)
		go func(queue <-chan task) {
			defer wg.Done()
			for t := range queue {
				r.processTask(ctx, t, coSubmitted, res)
			}
		}(queues[i])
	}

	for _, t := range tasks {
		queues[partition(t.key, workers)] <- t
	}
	for _, queue := range queues {
		close(queue)
	}
	wg.Wait()
}

func (r *Runner) processTask(ctx context.Context, t task, coSubmitted map[string]string, res *tally) {
	if ctx.Err() != nil {
		res.fail()
		return
	}

	outcome, err := r.pipeline.ProcessDraft(ctx, t.record, t.draft, coSubmitted)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("source_record_id", t.record.ID).
			Error("Record processing failed")
		res.fail()
		return
	}

	res.count(outcome.Status)
	if outcome.Status == models.OutcomeAccepted &&
		t.draft.EntityType == models.EntityTypeGeographicEntity &&
		outcome.EntityID != nil {
		res.registerGeo(t.draft.NormalizedName, *outcome.EntityID)
	}
}

func partition(key string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
