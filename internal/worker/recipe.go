package worker

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/internal/normalize"
)

// buildRecipeLines flattens an extraction into one line per raw material.
// Formulas are visited in name order so redeliveries produce identical rows.
func buildRecipeLines(task domain.Task, res *domain.ExtractionResult) []domain.RecipeLine {
	if res == nil || len(res.Medications) == 0 {
		return nil
	}

	patient := optional(normalize.Text(deref(res.Patient)))
	doctor := optional(normalize.StripProfessionalTitle(deref(res.Doctor)))

	names := make([]string, 0, len(res.Medications))
	for name := range res.Medications {
		names = append(names, name)
	}
	sort.Strings(names)

	filename := task.Filename
	if filename == "" {
		filename = task.JobID + "." + taskExt(task)
	}

	var lines []domain.RecipeLine
	for _, name := range names {
		med := res.Medications[name]
		formula := strings.Join(strings.Fields(name), " ")
		if formula == "" {
			continue
		}

		form := normalize.Text(med.Form)
		medType := normalize.Text(med.Type)
		posology := normalize.Text(med.Posology)
		quantity := normalize.ParseQuantity(med.Quantity)
		if quantity == nil {
			quantity = normalize.EstimateQuantity(med.Posology)
		}

		for _, rm := range med.RawMaterials {
			active := normalize.Text(rm.Active)
			if active == "" {
				continue
			}
			dose := normalize.ParseDose(rm.Dose)
			unity := optional(strings.ToLower(strings.TrimSpace(rm.Unity)))

			lines = append(lines, domain.RecipeLine{
				JobID:          task.JobID,
				ClientID:       task.ClientID,
				Filename:       filename,
				FormulaName:    formula,
				TextBlock:      textBlock(formula, active, dose, deref(unity), form),
				Classification: domain.ClassificationFormula,
				Form:           form,
				Type:           medType,
				Posology:       posology,
				Quantity:       quantity,
				Active:         active,
				Dose:           dose,
				Unity:          unity,
				Patient:        patient,
				Doctor:         doctor,
				Processed:      true,
			})
		}
	}

	return lines
}

// textBlock renders "<formula> - <active> <dose><unit> <form>"
func textBlock(formula, active string, dose *float64, unity, form string) string {
	var doseText string
	if dose != nil {
		doseText = strconv.FormatFloat(*dose, 'f', -1, 64)
	}
	line := formula + " - " + active + " " + doseText + unity + " " + form
	return strings.Join(strings.Fields(line), " ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
