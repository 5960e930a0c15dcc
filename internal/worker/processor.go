package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/internal/extraction"
)

// Reasons recorded in job_metrics.error_type
const (
	ReasonHandwritten        = "handwritten detected"
	ReasonIllegible          = "illegible/low text"
	ReasonNoMedications      = "no medications extracted"
	ReasonUnparseableVerdict = "unparseable classification response"
	ReasonTimeout            = "processing timeout"

	maxErrorTypeLength = 200
	storeTimeout       = 10 * time.Second
)

// Outcome describes how a delivery should be settled
type Outcome struct {
	Status  string
	Reason  string
	Lines   int
	Requeue bool
	Skipped bool
}

type stepResult struct {
	status string
	reason string
	lines  int
}

// Process runs one task through the state machine. Every path except a
// requeue ends with the job in a terminal status and the source archived.
func (w *Worker) Process(ctx context.Context, task domain.Task, redelivered bool) (out Outcome) {
	logger := w.logger.With(
		slog.String("job_id", task.JobID),
		slog.String("client_id", task.ClientID),
	)
	startedAt := w.now()
	metric := domain.JobMetric{
		JobID:     task.JobID,
		ClientID:  task.ClientID,
		FileType:  taskExt(task),
		StartedAt: &startedAt,
	}

	defer func() {
		if out.Requeue {
			return
		}
		w.archive(ctx, logger, task)
	}()

	if _, err := os.Stat(task.FilePath); err != nil {
		return w.finish(ctx, logger, metric, stepResult{
			status: domain.JobStatusFailed,
			reason: "source file not found: " + task.FilePath,
		}, redelivered)
	}

	if err := w.withStoreContext(ctx, func(storeCtx context.Context) error {
		return w.store.ClaimJob(storeCtx, metric)
	}); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyTerminal) {
			logger.Info("Skipping task for job already in a terminal status")
			return Outcome{Skipped: true}
		}
		if !redelivered {
			logger.Error("Failed to claim job", slog.Any("error", err))
			return Outcome{Requeue: true, Reason: err.Error()}
		}
		return w.finish(ctx, logger, metric, stepResult{
			status: domain.JobStatusFailed,
			reason: truncateReason(err.Error()),
		}, redelivered)
	}

	logger.Info("Processing job", slog.String("ext", metric.FileType), slog.Bool("redelivered", redelivered))

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, err := w.execute(jobCtx, task, metric.FileType)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			logger.Warn("Job interrupted by shutdown", slog.Any("error", err))
			return Outcome{Requeue: true, Reason: "shutdown"}
		case jobCtx.Err() != nil:
			result = stepResult{status: domain.JobStatusFailed, reason: ReasonTimeout}
		case domain.IsTransient(err) && !redelivered:
			logger.Warn("Transient failure, leaving job to redelivery", slog.Any("error", err))
			return Outcome{Requeue: true, Reason: err.Error()}
		default:
			result = stepResult{status: domain.JobStatusFailed, reason: truncateReason(err.Error())}
		}
		logger.Error("Job failed", slog.Any("error", err))
	}

	return w.finish(ctx, logger, metric, result, redelivered)
}

// execute runs the extraction branch; a panic becomes a failed job
func (w *Worker) execute(ctx context.Context, task domain.Task, ext string) (res stepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during processing: %v", r)
		}
	}()

	ex, err := w.extract(ctx, task, ext)
	if err != nil {
		return res, err
	}
	if ex.HumanReview {
		return stepResult{status: domain.JobStatusHuman, reason: ex.Reason}, nil
	}

	lines := buildRecipeLines(task, ex.Result)
	if len(lines) == 0 {
		return stepResult{status: domain.JobStatusHuman, reason: ReasonNoMedications}, nil
	}

	if _, err := w.store.InsertRecipeLines(ctx, lines); err != nil {
		return res, domain.NewRetryableError(err)
	}

	return stepResult{status: domain.JobStatusSuccess, lines: len(lines)}, nil
}

func (w *Worker) extract(ctx context.Context, task domain.Task, ext string) (domain.Extraction, error) {
	switch {
	case domain.IsImageExt(ext):
		cls, err := w.extractor.ClassifyImage(ctx, task.FilePath, task.Credential)
		if errors.Is(err, extraction.ErrParse) {
			return domain.Human(ReasonUnparseableVerdict), nil
		}
		if err != nil {
			return domain.Extraction{}, err
		}
		if cls.Handwritten {
			return domain.Human(ReasonHandwritten), nil
		}
		return w.extractor.ExtractFromImage(ctx, task.FilePath, task.Credential)

	case ext == domain.ExtPDF:
		text, err := w.pdf.ReadText(ctx, task.FilePath)
		if err != nil {
			return domain.Extraction{}, err
		}
		text = strings.TrimSpace(text)
		if utf8.RuneCountInString(text) < w.minPDFText {
			return domain.Human(ReasonIllegible), nil
		}
		return w.extractor.ExtractFromText(ctx, text, task.Credential)

	default:
		return domain.Extraction{}, domain.Permanentf("unsupported format: %s", ext)
	}
}

// finish records the terminal status and maps store failures to a settle decision
func (w *Worker) finish(ctx context.Context, logger *slog.Logger, metric domain.JobMetric, res stepResult, redelivered bool) Outcome {
	endedAt := w.now()
	metric.Status = res.status
	metric.EndedAt = &endedAt
	if res.reason != "" {
		reason := res.reason
		metric.ErrorType = &reason
	}

	err := w.withStoreContext(ctx, func(storeCtx context.Context) error {
		return w.store.FinishJob(storeCtx, metric)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobAlreadyTerminal):
		logger.Info("Job reached a terminal status elsewhere; keeping it")
		return Outcome{Skipped: true}
	case !redelivered:
		logger.Error("Failed to record job status", slog.Any("error", err))
		return Outcome{Requeue: true, Reason: err.Error()}
	default:
		logger.Error("Failed to record job status on redelivery", slog.Any("error", err))
	}

	logger.Info("Job finished",
		slog.String("status", res.status),
		slog.String("reason", res.reason),
		slog.Int("lines", res.lines),
		slog.Duration("duration", endedAt.Sub(*metric.StartedAt)),
	)

	return Outcome{Status: res.status, Reason: res.reason, Lines: res.lines}
}

// archive runs after the job settled, so it must outlive the job context
func (w *Worker) archive(ctx context.Context, logger *slog.Logger, task domain.Task) {
	if w.archiver == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if err := w.archiver.Archive(archiveCtx, task.JobID, task.FilePath); err != nil {
		logger.Warn("Failed to archive source file; the sweeper will retry", slog.Any("error", err))
	}
}

func (w *Worker) withStoreContext(ctx context.Context, fn func(context.Context) error) error {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	return fn(storeCtx)
}

func taskExt(task domain.Task) string {
	ext := task.Ext
	if ext == "" {
		ext = filepath.Ext(task.FilePath)
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func truncateReason(s string) string {
	if utf8.RuneCountInString(s) <= maxErrorTypeLength {
		return s
	}
	return string([]rune(s)[:maxErrorTypeLength])
}
