package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/shared/postgresql"
)

// Storage serves the API: intake writes plus status and client reads
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreatePendingJob upserts the intake row for a new job
func (s *Storage) CreatePendingJob(ctx context.Context, m domain.JobMetric) error {
	query := `
		INSERT INTO job_metrics (job_id, client_id, file_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET client_id = EXCLUDED.client_id,
		    file_type = EXCLUDED.file_type
		WHERE job_metrics.status <> ALL($6::text[])
	`

	_, err := s.db.ExecContext(ctx, query,
		m.JobID, m.ClientID, m.FileType, domain.JobStatusPending, m.StartedAt,
		pq.Array(domain.TerminalStatuses),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// FailJob records an intake-side failure such as a lost enqueue
func (s *Storage) FailJob(ctx context.Context, jobID, reason string, endedAt time.Time) error {
	query := `
		UPDATE job_metrics
		SET status = $2, error_type = $3, ended_at = $4
		WHERE job_id = $1
		  AND status <> ALL($5::text[])
	`

	_, err := s.db.ExecContext(ctx, query,
		jobID, domain.JobStatusFailed, reason, endedAt,
		pq.Array(domain.TerminalStatuses),
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

// GetJobStatus returns the raw status of a job owned by clientID or
// domain.ErrNotFound; an empty clientID matches any owner
func (s *Storage) GetJobStatus(ctx context.Context, jobID, clientID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status,
		`SELECT status FROM job_metrics WHERE job_id = $1 AND ($2::text = '' OR client_id = $2)`,
		jobID, clientID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}

	return status, nil
}

// ListRecipeLines returns the lines of one job owned by clientID, oldest first;
// an empty clientID matches any owner
func (s *Storage) ListRecipeLines(ctx context.Context, jobID, clientID string) ([]domain.RecipeLine, error) {
	query := `
		SELECT
			id, job_id, client_id, filename, formula_name, text_block, classification,
			form, type, posology, quantity, active, dose, unity, patient, doctor,
			processed, reviewed, created_at
		FROM recipe_lines
		WHERE job_id = $1 AND ($2::text = '' OR client_id = $2)
		ORDER BY created_at ASC, id ASC
	`

	var lines []domain.RecipeLine
	if err := s.db.SelectContext(ctx, &lines, query, jobID, clientID); err != nil {
		return nil, fmt.Errorf("failed to list recipe lines: %w", err)
	}

	return lines, nil
}

const clientColumns = `id, name, api_key, openai_key, active, is_global`

// GetClientByID returns a client or domain.ErrNotFound
func (s *Storage) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	return s.getClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
}

// GetClientByAPIKey returns a client or domain.ErrNotFound
func (s *Storage) GetClientByAPIKey(ctx context.Context, apiKey string) (*domain.Client, error) {
	return s.getClient(ctx, `SELECT `+clientColumns+` FROM clients WHERE api_key = $1`, apiKey)
}

func (s *Storage) getClient(ctx context.Context, query string, arg string) (*domain.Client, error) {
	var client domain.Client
	err := s.db.GetContext(ctx, &client, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &client, nil
}
