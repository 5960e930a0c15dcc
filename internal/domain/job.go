package domain

import "time"

// Job status values as persisted in job_metrics.status
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusSuccess    = "sucesso"
	JobStatusFailed     = "falha"
	JobStatusHuman      = "human"
)

// TerminalStatuses are the states a job never leaves
var TerminalStatuses = []string{JobStatusSuccess, JobStatusFailed, JobStatusHuman}

// IsTerminal reports whether status is one of TerminalStatuses
func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Supported source document extensions
const (
	ExtPDF  = "pdf"
	ExtJPG  = "jpg"
	ExtJPEG = "jpeg"
	ExtPNG  = "png"
)

// IsImageExt reports whether ext is handled by the vision path
func IsImageExt(ext string) bool {
	return ext == ExtJPG || ext == ExtJPEG || ext == ExtPNG
}

// IsSupportedExt reports whether intake accepts ext
func IsSupportedExt(ext string) bool {
	return ext == ExtPDF || IsImageExt(ext)
}

// ContentTypeForExt maps an extension to the MIME type used for archival
func ContentTypeForExt(ext string) string {
	switch ext {
	case ExtPDF:
		return "application/pdf"
	case ExtJPG, ExtJPEG:
		return "image/jpeg"
	case ExtPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// JobMetric is the single status row kept per job id
type JobMetric struct {
	ID        int64      `db:"id"`
	JobID     string     `db:"job_id"`
	ClientID  string     `db:"client_id"`
	FileType  string     `db:"file_type"`
	Status    string     `db:"status"`
	ErrorType *string    `db:"error_type"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	Uploaded  bool       `db:"uploaded"`
	CreatedAt time.Time  `db:"created_at"`
}

// RecipeLine is one (job, formula, raw material) row
type RecipeLine struct {
	ID             int64     `db:"id"`
	JobID          string    `db:"job_id"`
	ClientID       string    `db:"client_id"`
	Filename       string    `db:"filename"`
	FormulaName    string    `db:"formula_name"`
	TextBlock      string    `db:"text_block"`
	Classification string    `db:"classification"`
	Form           string    `db:"form"`
	Type           string    `db:"type"`
	Posology       string    `db:"posology"`
	Quantity       *int      `db:"quantity"`
	Active         string    `db:"active"`
	Dose           *float64  `db:"dose"`
	Unity          *string   `db:"unity"`
	Patient        *string   `db:"patient"`
	Doctor         *string   `db:"doctor"`
	Processed      bool      `db:"processed"`
	Reviewed       bool      `db:"reviewed"`
	CreatedAt      time.Time `db:"created_at"`
}

// ClassificationFormula is the only classification the worker writes today
const ClassificationFormula = "formula"
