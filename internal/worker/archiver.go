package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// Uploader stores a local file under an object key
type Uploader interface {
	UploadFile(ctx context.Context, key, filePath, contentType string) (string, error)
}

// UploadMarker flips the archived flag of a job
type UploadMarker interface {
	MarkUploaded(ctx context.Context, jobID string) error
}

// FileArchiver uploads processed sources and removes the local copy
type FileArchiver struct {
	uploader Uploader
	store    UploadMarker
	logger   *slog.Logger
}

// NewArchiver creates a new FileArchiver
func NewArchiver(uploader Uploader, store UploadMarker, logger *slog.Logger) *FileArchiver {
	return &FileArchiver{uploader: uploader, store: store, logger: logger}
}

// ObjectKey is the bucket key of a job's source document
func ObjectKey(jobID, filePath string) string {
	return path.Join("jobs", jobID, filepath.Base(filePath))
}

// Archive uploads filePath, marks the job uploaded and deletes the local file.
// The local file is kept whenever a step fails so a later sweep can retry.
func (a *FileArchiver) Archive(ctx context.Context, jobID, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("Nothing to archive", slog.String("job_id", jobID), slog.String("path", filePath))
			return nil
		}
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))
	objectName, err := a.uploader.UploadFile(ctx, ObjectKey(jobID, filePath), filePath, domain.ContentTypeForExt(ext))
	if err != nil {
		return fmt.Errorf("failed to archive source file: %w", err)
	}

	if err := a.store.MarkUploaded(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job %s uploaded: %w", jobID, err)
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("Failed to remove archived source file",
			slog.String("path", filePath),
			slog.Any("error", err),
		)
	}

	a.logger.Info("Source file archived",
		slog.String("job_id", jobID),
		slog.String("object", objectName),
	)
	return nil
}
