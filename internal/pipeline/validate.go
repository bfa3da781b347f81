package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
)

// Validator applies the per-category rule set to the mapped fields and
// produces a quality score plus the human-review flag.
type Validator struct {
	registry *schema.Registry
	now      func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(registry *schema.Registry) *Validator {
	return &Validator{registry: registry, now: time.Now}
}

var placeholderValues = map[string]bool{
	"n/a":           true,
	"not available": true,
	"unknown":       true,
	"test":          true,
	"sample":        true,
}

var placeholderXRe = regexp.MustCompile(`^x{3,}$`)

// Validate runs required/format/length/custom rules, the placeholder scan,
// and computes the score. Never fatal to the run.
func (v *Validator) Validate(rec *model.Record) *model.QAResult {
	cs := v.registry.ByCategory(rec.Category)

	mapped := map[string]any{}
	confidences := map[string]int{}
	if rec.Mapping != nil {
		mapped = rec.Mapping.Mapped
		for _, d := range rec.Mapping.Details {
			if d.CanonicalField == "" {
				continue
			}
			if fr, ok := rec.Extracted[d.OriginalField]; ok {
				confidences[d.CanonicalField] = fr.Confidence
			}
		}
	}

	var issues []model.QAIssue
	missingRequired := false

	if cs != nil {
		for i := range cs.Fields {
			f := &cs.Fields[i]
			value, present := mapped[f.Name]
			if !present || value == nil || valueString(value) == "" {
				if f.Required {
					missingRequired = true
					issues = append(issues, model.QAIssue{
						Field:        f.Name,
						Severity:     model.SeverityError,
						Type:         "missing_required",
						Message:      fmt.Sprintf("required field %s is missing", f.Name),
						SuggestedFix: "re-scan the document or enter the value manually",
					})
				}
				continue
			}

			issues = append(issues, v.validateField(f, value, confidences[f.Name], mapped)...)
		}
	}

	// Placeholder scan across every present field, mapped or not.
	for name, value := range mapped {
		s := strings.ToLower(valueString(value))
		if placeholderValues[s] || placeholderXRe.MatchString(s) {
			issues = append(issues, model.QAIssue{
				Field:    name,
				Severity: model.SeverityWarning,
				Type:     "placeholder_value",
				Message:  fmt.Sprintf("field %s holds a placeholder value %q", name, s),
			})
		}
	}

	result := v.assemble(rec, mapped, confidences, issues, missingRequired)
	zap.L().Info("validate: assessment complete",
		zap.String("document_id", rec.DocumentID),
		zap.String("category", string(rec.Category)),
		zap.Int("score", result.Score),
		zap.Bool("passed", result.Passed),
		zap.Bool("review", result.RequiresHumanReview),
		zap.Int("issues", len(result.Issues)),
	)
	return result
}

func (v *Validator) validateField(f *schema.Field, value any, confidence int, mapped map[string]any) []model.QAIssue {
	var issues []model.QAIssue
	s := valueString(value)

	// Zero means the extraction never vouched for this value at all, so it
	// lands in the error tier with every other confidence below 50.
	switch {
	case confidence < 50:
		issues = append(issues, model.QAIssue{
			Field:    f.Name,
			Severity: model.SeverityError,
			Type:     "low_confidence",
			Message:  fmt.Sprintf("field %s extracted at confidence %d", f.Name, confidence),
		})
	case confidence < 70:
		issues = append(issues, model.QAIssue{
			Field:    f.Name,
			Severity: model.SeverityWarning,
			Type:     "low_confidence",
			Message:  fmt.Sprintf("field %s extracted at confidence %d", f.Name, confidence),
		})
	}

	if f.ValidationRegex != nil && !f.ValidationRegex.MatchString(s) && !f.ValidationRegex.MatchString(strings.ToUpper(s)) {
		msg := fmt.Sprintf("field %s does not match expected format", f.Name)
		if f.Description != "" {
			msg += ": " + f.Description
		}
		issues = append(issues, model.QAIssue{
			Field:    f.Name,
			Severity: model.SeverityError,
			Type:     "format_mismatch",
			Message:  msg,
		})
	}

	if f.MinLength > 0 && len(s) < f.MinLength {
		issues = append(issues, model.QAIssue{
			Field:    f.Name,
			Severity: model.SeverityWarning,
			Type:     "length_constraint",
			Message:  fmt.Sprintf("field %s shorter than %d characters", f.Name, f.MinLength),
		})
	}
	if f.MaxLength > 0 && len(s) > f.MaxLength {
		issues = append(issues, model.QAIssue{
			Field:    f.Name,
			Severity: model.SeverityWarning,
			Type:     "length_constraint",
			Message:  fmt.Sprintf("field %s longer than %d characters", f.Name, f.MaxLength),
		})
	}

	issues = append(issues, v.runCustomValidator(f, s, mapped)...)
	return issues
}

func (v *Validator) runCustomValidator(f *schema.Field, s string, mapped map[string]any) []model.QAIssue {
	switch f.Validator {
	case "":
		return nil
	case "date":
		if issue := v.checkDateSanity(f.Name, s); issue != nil {
			return []model.QAIssue{*issue}
		}
	case "expiry_date":
		return v.checkExpiry(f.Name, s, mapped)
	case "amount":
		if _, err := parseAmount(s); err != nil {
			return []model.QAIssue{{
				Field:    f.Name,
				Severity: model.SeverityError,
				Type:     "invalid_amount",
				Message:  fmt.Sprintf("field %s: %v", f.Name, err),
			}}
		}
	case "mrz":
		doc, _ := mapped["passport_number"].(string)
		return validateMRZ(s, doc)
	default:
		zap.L().Warn("validate: unknown custom validator", zap.String("validator", f.Validator))
	}
	return nil
}

func (v *Validator) checkDateSanity(field, s string) *model.QAIssue {
	t, err := parseFlexibleDate(s)
	if err != nil {
		return &model.QAIssue{
			Field:    field,
			Severity: model.SeverityError,
			Type:     "invalid_date",
			Message:  fmt.Sprintf("field %s is not a recognizable date: %q", field, s),
		}
	}
	now := v.now()
	if t.Year() < 1900 || t.After(now.AddDate(50, 0, 0)) {
		return &model.QAIssue{
			Field:    field,
			Severity: model.SeverityError,
			Type:     "invalid_date",
			Message:  fmt.Sprintf("field %s date %s is outside the plausible range", field, t.Format("2006-01-02")),
		}
	}
	return nil
}

func (v *Validator) checkExpiry(field, s string, mapped map[string]any) []model.QAIssue {
	if issue := v.checkDateSanity(field, s); issue != nil {
		return []model.QAIssue{*issue}
	}
	expiry, _ := parseFlexibleDate(s)

	var issues []model.QAIssue
	if expiry.Before(v.now().Truncate(24 * time.Hour)) {
		issues = append(issues, model.QAIssue{
			Field:    field,
			Severity: model.SeverityError,
			Type:     "expired_document",
			Message:  fmt.Sprintf("document expired on %s", expiry.Format("2006-01-02")),
		})
	}
	if issueRaw, ok := mapped["date_of_issue"]; ok {
		if issueDate, err := parseFlexibleDate(valueString(issueRaw)); err == nil && !expiry.After(issueDate) {
			issues = append(issues, model.QAIssue{
				Field:    field,
				Severity: model.SeverityError,
				Type:     "date_order",
				Message:  "expiry date is not after the issue date",
			})
		}
	}
	return issues
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2 January 2006",
	"02 Jan 2006",
}

func parseFlexibleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

var amountCleanRe = regexp.MustCompile(`[^\d.\-]`)

func parseAmount(s string) (float64, error) {
	cleaned := amountCleanRe.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, fmt.Errorf("no numeric content in %q", s)
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %v", amount)
	}
	return amount, nil
}

var crossFieldIssueTypes = map[string]bool{
	"cross_field_mismatch": true,
	"date_order":           true,
}

func (v *Validator) assemble(rec *model.Record, mapped map[string]any, confidences map[string]int, issues []model.QAIssue, missingRequired bool) *model.QAResult {
	errorFields := map[string]bool{}
	warningFields := map[string]bool{}
	errorCount, warningCount := 0, 0
	crossFieldMismatch := false

	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityError:
			errorCount++
			errorFields[issue.Field] = true
		case model.SeverityWarning:
			warningCount++
			warningFields[issue.Field] = true
		}
		if crossFieldIssueTypes[issue.Type] {
			crossFieldMismatch = true
		}
	}

	var avg int
	if len(confidences) > 0 {
		sum := 0
		for _, c := range confidences {
			sum += c
		}
		avg = sum / len(confidences)
	}

	score := 45
	if !missingRequired {
		score += 20
	}
	if errorCount == 0 {
		score += 15
	}
	switch {
	case avg >= 90:
		score += 10
	case avg >= 80:
		score += 5
	}
	if !crossFieldMismatch {
		score += 10
	}
	score -= 10 * errorCount
	score -= 3 * warningCount
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	total := len(mapped)
	errs := len(errorFields)
	warns := 0
	for f := range warningFields {
		if !errorFields[f] {
			warns++
		}
	}
	passedFields := total - errs - warns
	if passedFields < 0 {
		passedFields = 0
	}

	return &model.QAResult{
		Passed:              errorCount == 0 && score >= 60,
		Score:               score,
		Issues:              issues,
		RequiresHumanReview: errorCount > 0 || avg < 70 || len(issues) >= 3 || missingRequired,
		Summary: model.QASummary{
			TotalFields:       total,
			PassedFields:      passedFields,
			WarningFields:     warns,
			ErrorFields:       errs,
			AverageConfidence: avg,
		},
	}
}
