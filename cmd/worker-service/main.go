package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/rx-pipeline/internal/config"
	"github.com/cuongbtq/rx-pipeline/internal/extraction"
	"github.com/cuongbtq/rx-pipeline/internal/worker"
	"github.com/cuongbtq/rx-pipeline/internal/worker/storage"
	"github.com/cuongbtq/rx-pipeline/shared/logger"
	"github.com/cuongbtq/rx-pipeline/shared/objectstore"
	"github.com/cuongbtq/rx-pipeline/shared/postgresql"
	"github.com/cuongbtq/rx-pipeline/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	// Initialize object storage
	objectClient, err := initObjectStore(ctx, &cfg.ObjectStore, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	archiver := worker.NewArchiver(objectClient, store, appLogger.Logger)

	workerID := cfg.RabbitMQ.Consumer.Tag
	if workerID == "" {
		workerID = "rx-worker-" + uuid.NewString()[:8]
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:           appLogger.Logger,
		Store:            store,
		Extractor:        initExtractor(&cfg.Extraction, appLogger.Logger),
		PDFReader:        extraction.NewPDFTextReader(),
		Archiver:         archiver,
		Consumer:         rabbitClient,
		WorkerID:         workerID,
		Concurrency:      cfg.Worker.Concurrency,
		PrefetchCount:    cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:       cfg.Worker.JobTimeout,
		MinPDFTextLength: cfg.Extraction.MinPDFTextLength,
	})

	sweeper := worker.NewSweeper(&worker.SweeperConfig{
		Logger:    appLogger.Logger,
		Store:     store,
		Archiver:  archiver,
		UploadDir: cfg.Upload.Dir,
		Interval:  cfg.Worker.ArchiveSweepInterval,
		BatchSize: cfg.Worker.ArchiveSweepBatch,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workerInstance.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerID))

	runErr := g.Wait()
	if runErr != nil {
		appLogger.Error("Worker error", slog.Any("error", runErr))
	} else {
		appLogger.Info("Received signal, shutting down gracefully")
	}

	// Give in-flight jobs time to settle
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initObjectStore initializes the archive bucket client
func initObjectStore(ctx context.Context, cfg *config.ObjectStoreConfig, logger *slog.Logger) (*objectstore.Client, error) {
	return objectstore.NewClient(ctx, &objectstore.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		Prefix:    cfg.Prefix,
	}, logger)
}

// initExtractor builds the model client behind the extraction adapter
func initExtractor(cfg *config.ExtractionConfig, logger *slog.Logger) *extraction.Adapter {
	extractionCfg := extraction.Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		VisionModel:       cfg.VisionModel,
		Temperature:       cfg.Temperature,
		RequestTimeout:    cfg.RequestTimeout,
		RetryMax:          cfg.RetryMax,
		RetryWaitMin:      cfg.RetryWaitMin,
		RetryWaitMax:      cfg.RetryWaitMax,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
		MaxPromptTextSize: cfg.MaxPromptTextSize,
	}

	return extraction.NewAdapter(extraction.NewClient(extractionCfg, logger), extractionCfg, logger)
}
