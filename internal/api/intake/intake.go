package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// ReasonEnqueueFailed is recorded when the task could not be published
const ReasonEnqueueFailed = "enqueue failed"

// JobWriter records intake-side job rows
type JobWriter interface {
	CreatePendingJob(ctx context.Context, m domain.JobMetric) error
	FailJob(ctx context.Context, jobID, reason string, endedAt time.Time) error
}

// Publisher enqueues a task body
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Fetcher downloads a remote document
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
}

// Source is either an uploaded file or a URL to download
type Source struct {
	File     io.Reader
	Filename string
	URL      string
}

// Receipt is returned as soon as the job is queued
type Receipt struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Config holds intake configuration
type Config struct {
	UploadDir    string
	MaxSizeBytes int64
}

// Service validates, stores and enqueues uploaded prescriptions
type Service struct {
	uploadDir string
	maxSize   int64
	store     JobWriter
	publisher Publisher
	fetcher   Fetcher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService creates a new intake Service
func NewService(cfg Config, store JobWriter, publisher Publisher, fetcher Fetcher, logger *slog.Logger) *Service {
	return &Service{
		uploadDir: cfg.UploadDir,
		maxSize:   cfg.MaxSizeBytes,
		store:     store,
		publisher: publisher,
		fetcher:   fetcher,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit stores the document, creates the pending job and publishes the task.
// A publish failure marks the job failed and returns a transient error.
func (s *Service) Submit(ctx context.Context, src Source, client *domain.Client) (Receipt, error) {
	if client.IsGlobal {
		return Receipt{}, fmt.Errorf("%w: global identity may not upload", domain.ErrAuthorization)
	}

	body, ext, err := s.open(ctx, src)
	if err != nil {
		return Receipt{}, err
	}
	defer body.Close()

	jobID := s.newID()
	filename := jobID + "." + ext
	filePath := filepath.Join(s.uploadDir, filename)

	if err := s.writeFile(filePath, body); err != nil {
		os.Remove(filePath)
		return Receipt{}, err
	}

	if err := checkContent(filePath, ext); err != nil {
		os.Remove(filePath)
		return Receipt{}, err
	}

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("client_id", client.ID))

	createdAt := s.now()
	if err := s.store.CreatePendingJob(ctx, domain.JobMetric{
		JobID:     jobID,
		ClientID:  client.ID,
		FileType:  ext,
		StartedAt: &createdAt,
	}); err != nil {
		os.Remove(filePath)
		return Receipt{}, err
	}

	task := domain.Task{
		FilePath:   filePath,
		Ext:        ext,
		Filename:   filename,
		JobID:      jobID,
		ClientID:   client.ID,
		Credential: client.Credential(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		os.Remove(filePath)
		return Receipt{}, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := s.publisher.PublishWithRetry(ctx, payload, "application/json"); err != nil {
		logger.Error("Failed to enqueue job", slog.Any("error", err))
		if failErr := s.store.FailJob(context.WithoutCancel(ctx), jobID, ReasonEnqueueFailed, s.now()); failErr != nil {
			logger.Error("Failed to record enqueue failure", slog.Any("error", failErr))
		}
		os.Remove(filePath)
		return Receipt{}, domain.NewRetryableError(fmt.Errorf("%s: %w", ReasonEnqueueFailed, err))
	}

	logger.Info("Job enqueued", slog.String("ext", ext))

	return Receipt{JobID: jobID, Status: domain.JobStatusProcessing}, nil
}

func (s *Service) open(ctx context.Context, src Source) (io.ReadCloser, string, error) {
	switch {
	case src.File != nil:
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(src.Filename), "."))
		if !domain.IsSupportedExt(ext) {
			return nil, "", domain.Validationf("unsupported file format: %q", src.Filename)
		}
		return io.NopCloser(src.File), ext, nil

	case strings.TrimSpace(src.URL) != "":
		return s.fetcher.Fetch(ctx, strings.TrimSpace(src.URL))

	default:
		return nil, "", domain.Validationf("file or file_url is required")
	}
}

// writeFile copies body to path, refusing anything above the size cap
func (s *Service) writeFile(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	reader := body
	if s.maxSize > 0 {
		reader = io.LimitReader(body, s.maxSize+1)
	}

	n, err := io.Copy(f, reader)
	if err != nil {
		return fmt.Errorf("failed to write upload file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return domain.Validationf("file exceeds %d bytes", s.maxSize)
	}
	if n == 0 {
		return domain.Validationf("file is empty")
	}

	return nil
}

// checkContent sniffs the stored bytes and rejects a mismatch with the declared family
func checkContent(path, ext string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}

	var ok bool
	if ext == domain.ExtPDF {
		ok = mtype.Is("application/pdf")
	} else {
		ok = mtype.Is("image/jpeg") || mtype.Is("image/png")
	}
	if !ok {
		return domain.Validationf("content %s does not match .%s", mtype.String(), ext)
	}

	return nil
}
