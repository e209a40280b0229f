package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/pasifika-atlas/reef/config"
	"github.com/pasifika-atlas/reef/internal/repositories/canonicalentity"
	"github.com/pasifika-atlas/reef/internal/repositories/ingestionrun"
	"github.com/pasifika-atlas/reef/internal/repositories/ledgerentry"
	"github.com/pasifika-atlas/reef/internal/repositories/outcome"
	snapshotrepo "github.com/pasifika-atlas/reef/internal/repositories/snapshot"
	"github.com/pasifika-atlas/reef/internal/repositories/sourcerecord"
	"github.com/pasifika-atlas/reef/pkg/canonicalize"
	"github.com/pasifika-atlas/reef/pkg/database"
	"github.com/pasifika-atlas/reef/pkg/events"
	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/graph"
	"github.com/pasifika-atlas/reef/pkg/kafka"
	"github.com/pasifika-atlas/reef/pkg/ledger"
	"github.com/pasifika-atlas/reef/pkg/matching"
	"github.com/pasifika-atlas/reef/pkg/merging"
	"github.com/pasifika-atlas/reef/pkg/middleware"
	"github.com/pasifika-atlas/reef/pkg/pipeline"
	entityroutes "github.com/pasifika-atlas/reef/pkg/routes/entity"
	"github.com/pasifika-atlas/reef/pkg/routes/health"
	moderationroutes "github.com/pasifika-atlas/reef/pkg/routes/moderation"
	runroutes "github.com/pasifika-atlas/reef/pkg/routes/run"
	snapshotroutes "github.com/pasifika-atlas/reef/pkg/routes/snapshot"
	"github.com/pasifika-atlas/reef/pkg/snapshot"
	"github.com/pasifika-atlas/reef/pkg/sources"
	"github.com/pasifika-atlas/reef/pkg/startup"
	"github.com/pasifika-atlas/reef/pkg/tracing"
	"github.com/pasifika-atlas/reef/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger}
	if err := a.run(ctx); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

// app holds everything the boot sequence wires together. Fields are filled
// in dependency order by the startup steps.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlxDB *sqlx.DB
	db     database.DB

	graphClient *graph.Client
	projection  *graph.Projection
	queries     *graph.QueryService

	producer   *kafka.Producer
	consumer   *kafka.Consumer
	runner     *pipeline.Runner
	moderation *pipeline.Moderation
	publisher  *snapshot.Publisher

	entities *canonicalentity.Repository
	runs     *ingestionrun.Repository
	ledgers  *ledger.Service

	echo    *echo.Echo
	checker *health.Checker

	shutdownTracing func(context.Context) error
}

func (a *app) run(ctx context.Context) error {
	boot := startup.New(a.logger, a.cfg.StartupMaxAttempts)

	boot.AddDependency(&bootStep{name: "tracing", start: a.startTracing, stop: a.stopTracing})
	boot.AddDependency(&bootStep{name: "database", start: a.startDatabase, stop: a.stopDatabase})

	pipelineDeps := []string{"database"}
	if a.cfg.GraphDBEnabled {
		boot.AddDependency(&bootStep{name: "graph", start: a.startGraph, stop: a.stopGraph})
		pipelineDeps = append(pipelineDeps, "graph")
	}

	boot.AddDependency(&bootStep{name: "pipeline", dependsOn: pipelineDeps, start: a.startPipeline, stop: a.stopPipeline})

	if a.cfg.KafkaConsumerEnabled {
		boot.AddDependency(&bootStep{name: "kafka-consumer", dependsOn: []string{"pipeline"}, start: a.startConsumer, stop: a.stopConsumer})
	}

	boot.AddDependency(&bootStep{name: "http-server", dependsOn: []string{"pipeline"}, start: a.startHTTPServer, stop: a.stopHTTPServer})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	a.logger.WithField("port", a.cfg.Port).Infof("%s started", a.cfg.AppName)

	<-ctx.Done()
	a.logger.Info("Shutdown signal received")
	a.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(stopCtx)
}

func (a *app) startTracing(ctx context.Context) error {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if a.cfg.TracingEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: a.cfg.OTLPEndpoint,
			Protocol: a.cfg.OTLPProtocol,
			Insecure: a.cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to build OTLP exporter: %w", err)
		}
		exporter = otlp
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(a.cfg.AppName),
			semconv.ServiceVersion(version),
		)),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(a.cfg.AppName))
	a.shutdownTracing = tp.Shutdown
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.shutdownTracing == nil {
		return nil
	}
	return a.shutdownTracing(ctx)
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := sqlx.ConnectContext(ctx, a.cfg.DatabaseDriver, a.cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to build migration driver: %w", err)
	}
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(a.cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.sqlxDB = db
	a.db = database.NewDatabaseInstance(db, a.logger)
	return nil
}

func (a *app) stopDatabase(_ context.Context) error {
	if a.sqlxDB == nil {
		return nil
	}
	return a.sqlxDB.Close()
}

func (a *app) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("graph database unreachable: %w", err)
	}
	a.graphClient = client
	a.queries = graph.NewQueryService(client, a.logger)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.graphClient == nil {
		return nil
	}
	return a.graphClient.Close(ctx)
}

// startPipeline constructs the repositories and domain services. Pure
// construction; the database and graph connections already exist.
func (a *app) startPipeline(_ context.Context) error {
	records := sourcerecord.NewRepository(a.db, a.logger)
	entities := canonicalentity.NewRepository(a.db, a.logger)
	runs := ingestionrun.NewRepository(a.db, a.logger)
	outcomes := outcome.NewRepository(a.db, a.logger)
	entries := ledgerentry.NewRepository(a.db, a.logger)
	snapshots := snapshotrepo.NewRepository(a.db, a.logger)

	// Both the pipeline and the publisher treat a nil sink as "events off",
	// so the interface vars stay untyped-nil when the producer is disabled.
	var pipelineEvents pipeline.EventSink
	var snapshotEvents snapshot.EventSink
	if a.cfg.KafkaEventsEnabled {
		a.producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      a.cfg.KafkaBrokers,
			Topic:        a.cfg.KafkaEventsTopic,
			BatchSize:    a.cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: a.cfg.KafkaRequiredAcks,
			Compression:  a.cfg.KafkaCompression,
		}, a.logger)
		emitter := events.NewEmitter(a.producer, a.logger)
		pipelineEvents = emitter
		snapshotEvents = emitter
	}

	normalizer := geometry.NewNormalizer(nil)
	canonicalizer := canonicalize.New(normalizer, a.logger)
	resolver := matching.NewResolver(entities, a.logger)
	merger := merging.NewMerger(a.logger)
	g := gate.New(entities, outcomes, a.logger)

	p := pipeline.New(canonicalizer, resolver, merger, g, entities, outcomes, pipelineEvents, a.logger)

	a.publisher = snapshot.NewPublisher(entities, entries, snapshots, snapshotEvents, a.logger)

	var syncer pipeline.GraphSyncer
	if a.graphClient != nil {
		a.projection = graph.NewProjection(a.graphClient, entities, a.logger)
		syncer = a.projection
	}

	a.runner = pipeline.NewRunner(p, records, runs, a.publisher, syncer, pipeline.RunnerOptions{
		WorkerCount:      a.cfg.PipelineWorkerCount,
		QueueDepth:       a.cfg.PipelineQueueDepth,
		PublishOnSuccess: a.cfg.PublishOnRunComplete,
		SyncGraph:        a.cfg.GraphSyncOnPublish,
	}, a.logger)
	a.moderation = pipeline.NewModeration(p, outcomes, records, a.logger)

	a.entities = entities
	a.runs = runs
	a.ledgers = ledger.NewService(entries, runs, a.logger)
	return nil
}

func (a *app) stopPipeline(_ context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

// startConsumer subscribes to the community submissions topic. Each
// submission becomes a single-record ingestion run.
func (a *app) startConsumer(ctx context.Context) error {
	a.consumer = kafka.NewConsumer(*a.cfg, a.logger, func(ctx context.Context, msg *kafka.IncomingMessage) error {
		req, err := msg.ToSourceRecordRequest()
		if err != nil {
			return err
		}
		_, err = a.runner.Run(ctx, sources.NewStaticSource(req.SourceSystem, req))
		return err
	})
	return a.consumer.Start(ctx)
}

func (a *app) stopConsumer(_ context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *app) startHTTPServer(_ context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Logger(a.logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(a.logger)

	api := e.Group("/api/v1")
	entityroutes.NewHandler(a.entities, a.ledgers, a.queries).Register(api.Group("/entities"))
	runroutes.NewHandler(a.runner, a.runs).Register(api.Group("/runs"))
	moderationroutes.NewHandler(a.moderation).Register(api.Group("/moderation"))
	snapshotroutes.NewHandler(a.publisher).Register(api.Group("/snapshots"))

	a.checker = health.NewChecker(a.sqlxDB, graphPinger(a.graphClient), version)
	a.checker.RegisterRoutes(e)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.echo = e
	go func() {
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *app) stopHTTPServer(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}

// graphPinger avoids handing the health checker a typed nil when the graph
// projection is disabled.
func graphPinger(c *graph.Client) health.GraphPinger {
	if c == nil {
		return nil
	}
	return c
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zl, nil), nil
}

// bootStep adapts a pair of closures to the startup dependency contract.
type bootStep struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (s *bootStep) GetName() string     { return s.name }
func (s *bootStep) DependsOn() []string { return s.dependsOn }

func (s *bootStep) Start(ctx context.Context) error { return s.start(ctx) }

func (s *bootStep) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}
