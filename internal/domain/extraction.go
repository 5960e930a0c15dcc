package domain

// RawMaterial is one active ingredient of a formula as returned by the model.
// Dose is left untyped since models return numbers, numeric strings and prose.
type RawMaterial struct {
	Active string `json:"active"`
	Dose   any    `json:"dose"`
	Unity  string `json:"unity"`
}

// Medication groups the raw materials of one formula
type Medication struct {
	RawMaterials []RawMaterial `json:"raw_materials"`
	Form         string        `json:"form"`
	Type         string        `json:"type"`
	Posology     string        `json:"posology"`
	Quantity     any           `json:"quantity"`
}

// ExtractionResult is the structured payload extracted from one prescription
type ExtractionResult struct {
	Patient     *string               `json:"patient"`
	Doctor      *string               `json:"doctor"`
	Medications map[string]Medication `json:"medications"`
}

// Extraction is either a result or a request for manual review
type Extraction struct {
	Result      *ExtractionResult
	HumanReview bool
	Reason      string
}

// Human builds a manual-review extraction
func Human(reason string) Extraction {
	return Extraction{HumanReview: true, Reason: reason}
}

// Classification is the outcome of the image triage step
type Classification struct {
	Handwritten bool
	Text        string
}
