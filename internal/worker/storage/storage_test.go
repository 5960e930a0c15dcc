package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/shared/logger"
)

const testJobID = "7b1f5a2e-2d7c-4a53-9a55-0a8f5e0e9f11"

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "postgres"), logger.NewNop().Logger), mock
}

func testMetric() domain.JobMetric {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.JobMetric{JobID: testJobID, ClientID: "client-1", FileType: "pdf", StartedAt: &now}
}

func TestStorage_ClaimJob(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		checkFn func(t *testing.T, err error)
	}{
		{
			name: "claims a new or non-terminal job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO job_metrics").
					WithArgs(testJobID, "client-1", "pdf", domain.JobStatusProcessing, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			checkFn: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "terminal job is not claimed again",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO job_metrics").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrJobAlreadyTerminal)
			},
		},
		{
			name: "database errors are transient",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO job_metrics").WillReturnError(errors.New("connection reset"))
			},
			checkFn: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.True(t, domain.IsTransient(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			tt.setup(mock)

			tt.checkFn(t, s.ClaimJob(context.Background(), testMetric()))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_FinishJob(t *testing.T) {
	s, mock := newMockStorage(t)

	m := testMetric()
	ended := m.StartedAt.Add(5 * time.Second)
	reason := "handwritten detected"
	m.Status = domain.JobStatusHuman
	m.ErrorType = &reason
	m.EndedAt = &ended

	mock.ExpectExec("INSERT INTO job_metrics").
		WithArgs(testJobID, "client-1", "pdf", domain.JobStatusHuman, reason, *m.StartedAt, ended, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.FinishJob(context.Background(), m))

	mock.ExpectExec("INSERT INTO job_metrics").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.FinishJob(context.Background(), m), domain.ErrJobAlreadyTerminal)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FinishJob_RejectsNonTerminalStatus(t *testing.T) {
	s, mock := newMockStorage(t)

	for _, status := range []string{domain.JobStatusPending, domain.JobStatusProcessing} {
		m := testMetric()
		m.Status = status
		err := s.FinishJob(context.Background(), m)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a terminal status")
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_InsertRecipeLines(t *testing.T) {
	lines := []domain.RecipeLine{
		{JobID: testJobID, ClientID: "client-1", FormulaName: "Formula 1", Active: "Minoxidil", Processed: true},
		{JobID: testJobID, ClientID: "client-1", FormulaName: "Formula 1", Active: "Finasterida", Processed: true},
	}

	t.Run("inserts all lines in one transaction", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO recipe_lines").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO recipe_lines").WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		n, err := s.InsertRecipeLines(context.Background(), lines)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivery skips lines that already exist", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO recipe_lines").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO recipe_lines").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		n, err := s.InsertRecipeLines(context.Background(), lines)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO recipe_lines").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := s.InsertRecipeLines(context.Background(), lines)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert recipe line")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no lines is a no-op", func(t *testing.T) {
		s, mock := newMockStorage(t)
		n, err := s.InsertRecipeLines(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_MarkUploaded(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE job_metrics SET uploaded = TRUE").WithArgs(testJobID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkUploaded(context.Background(), testJobID))

	mock.ExpectExec("UPDATE job_metrics SET uploaded = TRUE").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.MarkUploaded(context.Background(), "missing"), domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListUnarchived(t *testing.T) {
	s, mock := newMockStorage(t)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "job_id", "client_id", "file_type", "status", "error_type", "started_at", "ended_at", "uploaded", "created_at",
	}).
		AddRow(11, testJobID, "client-1", "pdf", domain.JobStatusSuccess, nil, created, created, false, created).
		AddRow(12, "job-2", "client-1", "png", domain.JobStatusHuman, "handwritten detected", created, created, false, created)

	mock.ExpectQuery("SELECT (.+) FROM job_metrics").
		WithArgs(sqlmock.AnyArg(), int64(10), 50).
		WillReturnRows(rows)

	jobs, err := s.ListUnarchived(context.Background(), 10, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(11), jobs[0].ID)
	assert.Nil(t, jobs[0].ErrorType)
	require.NotNil(t, jobs[1].ErrorType)
	assert.Equal(t, "handwritten detected", *jobs[1].ErrorType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
