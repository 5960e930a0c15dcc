// Package status folds a job's recipe lines into the client-facing report.
package status

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/internal/normalize"
)

// Reader is the read side of the job and recipe line stores
type Reader interface {
	ListRecipeLines(ctx context.Context, jobID, clientID string) ([]domain.RecipeLine, error)
	GetJobStatus(ctx context.Context, jobID, clientID string) (string, error)
}

// Labels are the status words of one endpoint flavor
type Labels struct {
	Processing     string
	Success        string
	NotFound       string
	Failed         string
	SanitizeActive bool
}

var (
	// English labels for /status
	English = Labels{Processing: "in processing", Success: "success", NotFound: "not found", Failed: "failed", SanitizeActive: true}

	// Portuguese labels for /estimate
	Portuguese = Labels{Processing: "em processamento", Success: "concluído", NotFound: "não encontrado", Failed: "falha"}
)

// Label maps a job_metrics status to its client-facing word; human is reported as is
func (l Labels) Label(jobStatus string) string {
	switch jobStatus {
	case domain.JobStatusPending, domain.JobStatusProcessing:
		return l.Processing
	case domain.JobStatusSuccess:
		return l.Success
	case domain.JobStatusFailed:
		return l.Failed
	case domain.JobStatusHuman:
		return domain.JobStatusHuman
	default:
		return l.NotFound
	}
}

// RawMaterial is one active of a reported formula
type RawMaterial struct {
	Active string   `json:"active"`
	Dose   *float64 `json:"dose"`
	Unity  *string  `json:"unity"`
}

// Medication is one reported formula
type Medication struct {
	RawMaterials []RawMaterial `json:"raw_materials"`
	Form         string        `json:"form"`
	Type         string        `json:"type"`
	Posology     string        `json:"posology"`
	Quantity     *int          `json:"quantity"`
}

// Report is the status payload; Complete is set only when lines were folded in
type Report struct {
	JobID       string                `json:"job_id"`
	Status      string                `json:"status"`
	Patient     *string               `json:"patient"`
	Doctor      *string               `json:"doctor"`
	Medications map[string]Medication `json:"medications"`
	Complete    bool                  `json:"-"`
}

// Service builds reports
type Service struct {
	reader Reader
}

// NewService creates a new status Service
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Report returns the job's status for clientID using labels; an empty
// clientID reads across tenants
func (s *Service) Report(ctx context.Context, jobID, clientID string, labels Labels) (Report, error) {
	lines, err := s.reader.ListRecipeLines(ctx, jobID, clientID)
	if err != nil {
		return Report{}, err
	}

	if len(lines) == 0 {
		status, err := s.reader.GetJobStatus(ctx, jobID, clientID)
		if errors.Is(err, domain.ErrNotFound) {
			return Report{JobID: jobID, Status: labels.NotFound}, nil
		}
		if err != nil {
			return Report{}, err
		}
		return Report{JobID: jobID, Status: labels.Label(status)}, nil
	}

	if lo.SomeBy(lines, func(l domain.RecipeLine) bool { return !l.Processed }) {
		return Report{JobID: jobID, Status: labels.Processing}, nil
	}

	return Report{
		JobID:       jobID,
		Status:      labels.Success,
		Patient:     lines[0].Patient,
		Doctor:      lines[0].Doctor,
		Medications: fold(lines, labels.SanitizeActive),
		Complete:    true,
	}, nil
}

// fold groups lines by formula; the first line of a formula supplies its shared fields
func fold(lines []domain.RecipeLine, sanitize bool) map[string]Medication {
	groups := lo.GroupBy(lines, formulaName)

	medications := make(map[string]Medication, len(groups))
	for name, group := range groups {
		first := group[0]
		medications[name] = Medication{
			RawMaterials: lo.Map(group, func(l domain.RecipeLine, _ int) RawMaterial {
				active := l.Active
				if sanitize {
					active = normalize.SanitizeActive(active)
				}
				return RawMaterial{Active: active, Dose: l.Dose, Unity: l.Unity}
			}),
			Form:     first.Form,
			Type:     first.Type,
			Posology: first.Posology,
			Quantity: first.Quantity,
		}
	}
	return medications
}

func formulaName(l domain.RecipeLine) string {
	if l.FormulaName != "" {
		return l.FormulaName
	}
	name, _, _ := strings.Cut(l.TextBlock, " - ")
	return strings.TrimSpace(name)
}
