package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// UnarchivedLister pages through terminal jobs that were never archived
type UnarchivedLister interface {
	ListUnarchived(ctx context.Context, afterID int64, limit int) ([]domain.JobMetric, error)
}

// SweeperConfig holds archive sweeper configuration
type SweeperConfig struct {
	Logger    *slog.Logger
	Store     UnarchivedLister
	Archiver  Archiver
	UploadDir string
	Interval  time.Duration
	BatchSize int
}

// Sweeper retries archival of terminal jobs whose upload failed earlier
type Sweeper struct {
	logger    *slog.Logger
	store     UnarchivedLister
	archiver  Archiver
	uploadDir string
	interval  time.Duration
	batchSize int
	cursor    int64
}

// NewSweeper creates a new Sweeper
func NewSweeper(cfg *SweeperConfig) *Sweeper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{
		logger:    cfg.Logger,
		store:     cfg.Store,
		archiver:  cfg.Archiver,
		uploadDir: cfg.UploadDir,
		interval:  cfg.Interval,
		batchSize: batch,
	}
}

// Run sweeps every interval until ctx is canceled. A zero interval disables it.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("Archive sweeper disabled")
		return nil
	}

	s.logger.Info("Archive sweeper started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Archive sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Archive sweep failed", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce archives one page of jobs and returns how many were archived.
// Jobs without a local file are passed over; the cursor wraps when a page comes back short.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	jobs, err := s.store.ListUnarchived(ctx, s.cursor, s.batchSize)
	if err != nil {
		return 0, err
	}

	if len(jobs) < s.batchSize {
		s.cursor = 0
	} else {
		s.cursor = jobs[len(jobs)-1].ID
	}

	archived := 0
	for _, job := range jobs {
		filePath := filepath.Join(s.uploadDir, job.JobID+"."+job.FileType)
		if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := s.archiver.Archive(ctx, job.JobID, filePath); err != nil {
			s.logger.Warn("Failed to archive job", slog.String("job_id", job.JobID), slog.Any("error", err))
			continue
		}
		archived++
	}

	if archived > 0 {
		s.logger.Info("Archive sweep completed", slog.Int("archived", archived), slog.Int("scanned", len(jobs)))
	}
	return archived, nil
}
