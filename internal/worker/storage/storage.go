package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob upserts the job into processing. It returns
// domain.ErrJobAlreadyTerminal when the row already reached a final status,
// which is how a stale redelivery is detected.
func (s *Storage) ClaimJob(ctx context.Context, m domain.JobMetric) error {
	query := `
		INSERT INTO job_metrics (job_id, client_id, file_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at,
		    error_type = NULL,
		    ended_at = NULL
		WHERE job_metrics.status <> ALL($6::text[])
	`

	result, err := s.db.ExecContext(ctx, query,
		m.JobID, m.ClientID, m.FileType, domain.JobStatusProcessing, m.StartedAt,
		pq.Array(domain.TerminalStatuses),
	)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobAlreadyTerminal
	}

	return nil
}

// FinishJob records a terminal status. A row that is already terminal is
// left untouched and domain.ErrJobAlreadyTerminal is returned.
func (s *Storage) FinishJob(ctx context.Context, m domain.JobMetric) error {
	if !domain.IsTerminal(m.Status) {
		return fmt.Errorf("failed to update job status: %q is not a terminal status", m.Status)
	}

	query := `
		INSERT INTO job_metrics (job_id, client_id, file_type, status, error_type, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    error_type = EXCLUDED.error_type,
		    ended_at = EXCLUDED.ended_at,
		    started_at = COALESCE(job_metrics.started_at, EXCLUDED.started_at)
		WHERE job_metrics.status <> ALL($8::text[])
	`

	result, err := s.db.ExecContext(ctx, query,
		m.JobID, m.ClientID, m.FileType, m.Status, m.ErrorType, m.StartedAt, m.EndedAt,
		pq.Array(domain.TerminalStatuses),
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobAlreadyTerminal
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", m.JobID),
		slog.String("status", m.Status),
	)

	return nil
}

// InsertRecipeLines writes all lines of a job in one transaction. Lines that
// already exist (same job, formula, active, dose and unit) are skipped, so a
// redelivered task never duplicates rows.
func (s *Storage) InsertRecipeLines(ctx context.Context, lines []domain.RecipeLine) (int64, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO recipe_lines (
			job_id, client_id, filename, formula_name, text_block, classification,
			form, type, posology, quantity, active, dose, unity, patient, doctor,
			processed, reviewed
		) VALUES (
			:job_id, :client_id, :filename, :formula_name, :text_block, :classification,
			:form, :type, :posology, :quantity, :active, :dose, :unity, :patient, :doctor,
			:processed, :reviewed
		)
		ON CONFLICT DO NOTHING
	`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted int64
	for _, line := range lines {
		result, err := tx.NamedExecContext(ctx, query, line)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipe line: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit recipe lines: %w", err)
	}

	if skipped := int64(len(lines)) - inserted; skipped > 0 {
		s.logger.Warn("Skipped recipe lines that already exist",
			slog.String("job_id", lines[0].JobID),
			slog.Int64("skipped", skipped),
		)
	}

	return inserted, nil
}

// MarkUploaded flips the archive flag once the source file is in the bucket
func (s *Storage) MarkUploaded(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE job_metrics SET uploaded = TRUE WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job uploaded: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUnarchived returns terminal jobs with id > afterID whose source file was never archived
func (s *Storage) ListUnarchived(ctx context.Context, afterID int64, limit int) ([]domain.JobMetric, error) {
	query := `
		SELECT id, job_id, client_id, file_type, status, error_type, started_at, ended_at, uploaded, created_at
		FROM job_metrics
		WHERE uploaded = FALSE
		  AND status = ANY($1::text[])
		  AND id > $2
		ORDER BY id
		LIMIT $3
	`

	var jobs []domain.JobMetric
	if err := s.db.SelectContext(ctx, &jobs, query, pq.Array(domain.TerminalStatuses), afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list unarchived jobs: %w", err)
	}
	return jobs, nil
}
