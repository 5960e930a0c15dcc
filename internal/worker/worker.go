package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// JobStore persists job status transitions and recipe lines
type JobStore interface {
	ClaimJob(ctx context.Context, m domain.JobMetric) error
	FinishJob(ctx context.Context, m domain.JobMetric) error
	InsertRecipeLines(ctx context.Context, lines []domain.RecipeLine) (int64, error)
}

// Extractor classifies and extracts prescriptions through the model
type Extractor interface {
	ClassifyImage(ctx context.Context, path, credential string) (domain.Classification, error)
	ExtractFromImage(ctx context.Context, path, credential string) (domain.Extraction, error)
	ExtractFromText(ctx context.Context, text, credential string) (domain.Extraction, error)
}

// TextReader reads the text layer of a document
type TextReader interface {
	ReadText(ctx context.Context, path string) (string, error)
}

// Archiver moves a processed source file to durable storage
type Archiver interface {
	Archive(ctx context.Context, jobID, filePath string) error
}

// Consumer is the queue side the worker needs
type Consumer interface {
	Qos(prefetch int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Acknowledger settles one delivery; amqp.Delivery satisfies it
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// JobMessage is a decoded task together with its delivery
type JobMessage struct {
	Task        domain.Task
	Redelivered bool
	Delivery    Acknowledger
}

// Config holds worker configuration
type Config struct {
	Logger           *slog.Logger
	Store            JobStore
	Extractor        Extractor
	PDFReader        TextReader
	Archiver         Archiver
	Consumer         Consumer
	WorkerID         string
	Concurrency      int
	PrefetchCount    int
	JobTimeout       time.Duration
	MinPDFTextLength int
}

// Worker consumes queued tasks and runs each through the prescription state machine
type Worker struct {
	logger        *slog.Logger
	store         JobStore
	extractor     Extractor
	pdf           TextReader
	archiver      Archiver
	consumer      Consumer
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	minPDFText    int
	now           func() time.Time

	jobsChan chan *JobMessage
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	minPDFText := cfg.MinPDFTextLength
	if minPDFText <= 0 {
		minPDFText = 30
	}

	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		extractor:     cfg.Extractor,
		pdf:           cfg.PDFReader,
		archiver:      cfg.Archiver,
		consumer:      cfg.Consumer,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		minPDFText:    minPDFText,
		now:           time.Now,
		jobsChan:      make(chan *JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes until ctx is canceled or the broker closes the delivery channel
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	if err := w.consumer.Cancel(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer", slog.Any("error", err))
	}

	if ctx.Err() == nil {
		return fmt.Errorf("delivery channel closed by broker")
	}
	return nil
}

// Stop waits for in-flight jobs to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
