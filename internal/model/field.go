package model

// FieldSource identifies which extraction path produced a field value.
type FieldSource string

const (
	SourceOCR     FieldSource = "ocr"
	SourcePattern FieldSource = "pattern"
	SourceModel   FieldSource = "model"
)

// FieldResult is a single extracted field with its provenance. A nil Value
// means "not found"; sentinel strings are never used for absence.
type FieldResult struct {
	Value      any         `json:"value"`
	Confidence int         `json:"confidence"`
	Source     FieldSource `json:"source"`
	RawText    string      `json:"raw_text,omitempty"`
}

// ClampConfidence forces a confidence into the [0,100] range.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Clamped returns a copy of the result with its confidence clamped to [0,100].
func (f FieldResult) Clamped() FieldResult {
	f.Confidence = ClampConfidence(f.Confidence)
	return f
}

// Classification is the classifier's verdict for a document.
type Classification struct {
	Category     Category              `json:"document_type"`
	Confidence   int                   `json:"confidence"`
	Alternatives []AlternativeCategory `json:"alternative_types,omitempty"`
	Language     string                `json:"language"`
	HasPhoto     bool                  `json:"has_photo"`
}

// AlternativeCategory is a runner-up classification candidate.
type AlternativeCategory struct {
	Category   Category `json:"document_type"`
	Confidence int      `json:"confidence"`
}

// MatchType describes how a raw field name was resolved to a canonical one.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchAlias    MatchType = "alias"
	MatchPattern  MatchType = "pattern"
	MatchSemantic MatchType = "semantic"
	MatchUnmapped MatchType = "unmapped"
)

// MappingDetail records one mapping decision for audit.
type MappingDetail struct {
	OriginalField  string    `json:"original_field"`
	CanonicalField string    `json:"canonical_field,omitempty"`
	Value          any       `json:"value"`
	Confidence     int       `json:"confidence"`
	MatchType      MatchType `json:"match_type"`
}

// MappingResult is the mapper's output: canonical field map plus audit trail.
type MappingResult struct {
	Mapped      map[string]any    `json:"mapped_fields"`
	Unmapped    []string          `json:"unmapped_fields"`
	AliasesUsed map[string]string `json:"aliases_used,omitempty"`
	Confidence  int               `json:"confidence"`
	Details     []MappingDetail   `json:"mapping_details"`
}

// Severity grades a quality issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// QAIssue is one finding from the validator.
type QAIssue struct {
	Field        string   `json:"field"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	Type         string   `json:"issue_type"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// QASummary aggregates per-field validation outcomes.
type QASummary struct {
	TotalFields       int `json:"total_fields"`
	PassedFields      int `json:"passed_fields"`
	WarningFields     int `json:"warning_fields"`
	ErrorFields       int `json:"error_fields"`
	AverageConfidence int `json:"average_confidence"`
}

// QAResult is the validator's verdict for a document.
type QAResult struct {
	Passed              bool      `json:"passed"`
	Score               int       `json:"score"`
	Issues              []QAIssue `json:"issues"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	Summary             QASummary `json:"summary"`
}

// HasErrors reports whether any issue carries error severity.
func (r *QAResult) HasErrors() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}
