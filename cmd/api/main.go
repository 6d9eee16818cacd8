package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/middleware"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/derivative"
	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/internal/repositories/exporter"
	"github.com/Ramsey-B/fern/internal/repositories/importer"
	"github.com/Ramsey-B/fern/internal/repositories/pendingrelationship"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/internal/repositories/status"
	"github.com/Ramsey-B/fern/pkg/builder"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/factory"
	"github.com/Ramsey-B/fern/pkg/files"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/readers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolver"
	entryroutes "github.com/Ramsey-B/fern/pkg/routes/entry"
	exporterroutes "github.com/Ramsey-B/fern/pkg/routes/exporter"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	importerroutes "github.com/Ramsey-B/fern/pkg/routes/importer"
	runroutes "github.com/Ramsey-B/fern/pkg/routes/run"
	"github.com/Ramsey-B/fern/pkg/runner"
	"github.com/Ramsey-B/fern/pkg/scheduler"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger := newLogger(cfg)
	log := logger.WithField("app", cfg.AppName)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := start(ctx, cfg, logger); err != nil {
		log.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func start(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	// PostgreSQL
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlxDB.Close()

	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	if err := sqlxDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Migrations
	migrationDriver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, migrationDriver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db := database.NewDatabaseInstance(sqlxDB, logger)

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	streams := redis.NewStreams(redisClient)
	delayed := redis.NewDelayed(redisClient, cfg.QueueDelayedKey)
	locker := redis.NewLocker(redisClient, "fern:lock:")
	enqueuer := queue.NewEnqueuer(streams, delayed, cfg.QueueStream)

	// Graph database
	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to graph database: %w", err)
	}
	defer graphClient.Close(ctx)

	if err := graphClient.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("failed to verify graph connectivity: %w", err)
	}

	resources := graph.NewResourceService(graphClient, logger)
	memberships := graph.NewMembershipService(graphClient, logger)

	// Kafka lifecycle events. The emitter is nil-safe, so the rest of the
	// pipeline wires identically with events disabled.
	var emitter *events.Emitter
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
		emitter = events.NewEmitter(producer, logger)
	}

	// Repositories
	entries := entry.NewRepository(db, logger)
	importers := importer.NewRepository(db, logger)
	exporters := exporter.NewRepository(db, logger)
	runs := run.NewRepository(db, logger)
	rels := pendingrelationship.NewRepository(db, logger)
	statuses := status.NewRepository(db, logger)
	derivatives := derivative.NewRepository(db, logger)

	// File handling
	fetcher := files.NewHTTPFetcher(&http.Client{Timeout: cfg.FileFetchTimeout}, cfg.FileFetchMaxBytes, logger)
	attacher := files.NewAttacher(fetcher, entries, derivatives, resources, memberships, logger)

	// Readers
	registry := readers.NewRegistry()
	if err := readers.RegisterCSV(registry, fetcher); err != nil {
		return err
	}

	// Pipeline services
	defaults := mapping.Defaults{
		IdentifierColumn: cfg.IdentifierColumn,
		Visibility:       cfg.DefaultVisibility,
		RightsStatement:  cfg.DefaultRightsStatement,
		AdminSetID:       cfg.DefaultAdminSetID,
	}
	policy := files.AttachPolicy{
		ReplaceFiles: cfg.FileReplaceEnabled,
		UpdateFiles:  cfg.FileUpdateEnabled,
	}
	persistence := factory.NewFactory(factory.DefaultRegistry(), resources, attacher, defaults, policy, logger)
	builds := builder.NewService(entries, importers, runs, statuses, rels, persistence, resources, emitter, defaults, logger)
	edges := resolver.NewService(rels, entries, resources, memberships, runs, statuses, enqueuer, emitter, resolver.Config{
		RetryDelay:  cfg.RelationshipRetryDelay,
		MaxAttempts: cfg.RelationshipMaxAttempts,
	}, logger)
	runs2 := runner.NewService(importers, exporters, runs, entries, statuses, registry, resources, memberships, enqueuer, emitter, runner.Config{
		IncrementalEnabled: cfg.IncrementalImportsEnabled,
	}, logger)

	// Background workers
	processor := queue.NewProcessor(streams, delayed, queue.ProcessorConfig{
		Stream:        cfg.QueueStream,
		ConsumerGroup: cfg.QueueConsumerGroup,
		WorkerCount:   cfg.QueueWorkerCount,
		BatchSize:     int64(cfg.QueueBatchSize),
		MaxRetries:    cfg.QueueMaxRetries,
		ClaimMinIdle:  cfg.QueueClaimMinIdle,
		ClaimInterval: cfg.QueueClaimInterval,
		MoverInterval: cfg.QueueDelayedInterval,
	}, logger)
	if err := queue.RegisterHandlers(processor, builds, edges, runs2); err != nil {
		return err
	}
	if err := processor.Start(ctx); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(importers, enqueuer, locker, scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		LockTTL:      cfg.SchedulerLockTTL,
	}, logger)
	if cfg.SchedulerEnabled {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	// Dependency injection for route handlers
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := registerDependencies(container, importers, exporters, entries, runs, rels, statuses, enqueuer); err != nil {
		return err
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker := health.NewChecker(sqlxDB, redisClient, graphClient, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	importerroutes.Register(api.Group("/importers"))
	exporterroutes.Register(api.Group("/exporters"))
	entryroutes.Register(api.Group("/entries"))
	runroutes.Register(api.Group("/runs"))

	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	logger.WithContext(ctx).Infof("%s started on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checker.SetReady(false)

	if cfg.SchedulerEnabled {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Scheduler did not stop cleanly")
		}
	}
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Job processor did not stop cleanly")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not stop cleanly")
	}

	logger.Info("Shutdown complete")
	return nil
}

func registerDependencies(
	container ectocontainer.DIContainer,
	importers *importer.Repository,
	exporters *exporter.Repository,
	entries *entry.Repository,
	runs *run.Repository,
	rels *pendingrelationship.Repository,
	statuses *status.Repository,
	enqueuer *queue.Enqueuer,
) error {
	if err := ectoinject.RegisterInstance[*importer.Repository](container, importers); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*exporter.Repository](container, exporters); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*entry.Repository](container, entries); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*run.Repository](container, runs); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*pendingrelationship.Repository](container, rels); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*status.Repository](container, statuses); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*queue.Enqueuer](container, enqueuer)
}
