package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/model"
)

var validateNow = time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(testRegistry(t))
	v.now = func() time.Time { return validateNow }
	return v
}

func passportExtraction() map[string]model.FieldResult {
	return map[string]model.FieldResult{
		"passport_number": {Value: "A12345678", Confidence: 92, Source: model.SourceModel},
		"full_name":       {Value: "JANE MARY DOE", Confidence: 95, Source: model.SourceModel},
		"nationality":     {Value: "UTOPIAN", Confidence: 90, Source: model.SourceModel},
		"date_of_birth":   {Value: "15/06/1990", Confidence: 93, Source: model.SourceModel},
		"date_of_expiry":  {Value: "01/01/2034", Confidence: 91, Source: model.SourceModel},
		"date_of_issue":   {Value: "01/01/2024", Confidence: 90, Source: model.SourceModel},
		"gender":          {Value: "F", Confidence: 95, Source: model.SourceModel},
	}
}

func validatePassport(t *testing.T, extracted map[string]model.FieldResult) *model.QAResult {
	t.Helper()
	rec := model.NewRecord("doc-1")
	rec.Category = model.CategoryPassport
	rec.Extracted = extracted
	rec.Mapping = NewMapper(testRegistry(t)).Map(rec)
	return newTestValidator(t).Validate(rec)
}

func issueTypes(qa *model.QAResult) []string {
	var types []string
	for _, is := range qa.Issues {
		types = append(types, is.Type)
	}
	return types
}

func TestValidateCleanPassportPasses(t *testing.T) {
	qa := validatePassport(t, passportExtraction())

	assert.True(t, qa.Passed)
	assert.Equal(t, 100, qa.Score)
	assert.False(t, qa.RequiresHumanReview)
	assert.Empty(t, qa.Issues)
	assert.Equal(t, 7, qa.Summary.TotalFields)
	assert.Equal(t, 7, qa.Summary.PassedFields)
	assert.GreaterOrEqual(t, qa.Summary.AverageConfidence, 90)
}

func TestValidateEmptyPassportFailsEveryRequiredField(t *testing.T) {
	qa := validatePassport(t, map[string]model.FieldResult{})

	assert.False(t, qa.Passed)
	assert.True(t, qa.RequiresHumanReview)

	missing := map[string]bool{}
	for _, is := range qa.Issues {
		require.Equal(t, "missing_required", is.Type)
		require.Equal(t, model.SeverityError, is.Severity)
		assert.NotEmpty(t, is.SuggestedFix)
		missing[is.Field] = true
	}
	for _, f := range []string{"passport_number", "full_name", "nationality", "date_of_birth", "date_of_expiry"} {
		assert.True(t, missing[f], "expected missing_required for %s", f)
	}
	assert.GreaterOrEqual(t, qa.Score, 0)
	assert.Less(t, qa.Score, 60)
}

func TestValidateErrorsForceFailureDespiteScore(t *testing.T) {
	extracted := passportExtraction()
	extracted["passport_number"] = model.FieldResult{Value: "12", Confidence: 92, Source: model.SourceModel}

	qa := validatePassport(t, extracted)

	assert.Contains(t, issueTypes(qa), "format_mismatch")
	assert.GreaterOrEqual(t, qa.Score, 60)
	assert.False(t, qa.Passed, "any error severity issue fails the document regardless of score")
	assert.True(t, qa.RequiresHumanReview)
}

func TestValidateExpiredDocument(t *testing.T) {
	extracted := passportExtraction()
	extracted["date_of_expiry"] = model.FieldResult{Value: "01/01/2020", Confidence: 91, Source: model.SourceModel}

	qa := validatePassport(t, extracted)

	assert.Contains(t, issueTypes(qa), "expired_document")
	assert.False(t, qa.Passed)
}

func TestValidateExpiryBeforeIssueDate(t *testing.T) {
	extracted := passportExtraction()
	extracted["date_of_expiry"] = model.FieldResult{Value: "01/01/2030", Confidence: 91, Source: model.SourceModel}
	extracted["date_of_issue"] = model.FieldResult{Value: "01/02/2031", Confidence: 90, Source: model.SourceModel}

	qa := validatePassport(t, extracted)

	assert.Contains(t, issueTypes(qa), "date_order")
	assert.NotContains(t, issueTypes(qa), "expired_document")
	assert.False(t, qa.Passed)
}

func TestValidateImplausibleDate(t *testing.T) {
	extracted := passportExtraction()
	extracted["date_of_birth"] = model.FieldResult{Value: "01/01/1850", Confidence: 93, Source: model.SourceModel}

	qa := validatePassport(t, extracted)
	assert.Contains(t, issueTypes(qa), "invalid_date")

	extracted["date_of_birth"] = model.FieldResult{Value: "31/31/2020", Confidence: 93, Source: model.SourceModel}
	qa = validatePassport(t, extracted)
	assert.Contains(t, issueTypes(qa), "invalid_date")
}

func TestValidatePlaceholderValues(t *testing.T) {
	extracted := passportExtraction()
	extracted["full_name"] = model.FieldResult{Value: "N/A", Confidence: 95, Source: model.SourceModel}

	qa := validatePassport(t, extracted)
	assert.Contains(t, issueTypes(qa), "placeholder_value")

	extracted["full_name"] = model.FieldResult{Value: "XXXX", Confidence: 95, Source: model.SourceModel}
	qa = validatePassport(t, extracted)
	assert.Contains(t, issueTypes(qa), "placeholder_value")
}

func TestValidateLowConfidenceSeverity(t *testing.T) {
	extracted := passportExtraction()
	extracted["nationality"] = model.FieldResult{Value: "UTOPIAN", Confidence: 40, Source: model.SourcePattern}

	qa := validatePassport(t, extracted)
	require.NotEmpty(t, qa.Issues)
	assert.Equal(t, "low_confidence", qa.Issues[0].Type)
	assert.Equal(t, model.SeverityError, qa.Issues[0].Severity)
	assert.False(t, qa.Passed)

	extracted["nationality"] = model.FieldResult{Value: "UTOPIAN", Confidence: 60, Source: model.SourcePattern}
	qa = validatePassport(t, extracted)
	require.NotEmpty(t, qa.Issues)
	assert.Equal(t, model.SeverityWarning, qa.Issues[0].Severity)
}

func TestValidateZeroConfidenceLandsInErrorTier(t *testing.T) {
	extracted := passportExtraction()
	extracted["nationality"] = model.FieldResult{Value: "UTOPIAN", Confidence: 0, Source: model.SourcePattern}

	qa := validatePassport(t, extracted)

	var found bool
	for _, is := range qa.Issues {
		if is.Field == "nationality" && is.Type == "low_confidence" {
			found = true
			assert.Equal(t, model.SeverityError, is.Severity)
		}
	}
	assert.True(t, found, "confidence 0 must raise an error-tier low_confidence issue")
	assert.False(t, qa.Passed)

	// Same tier when the mapped value carries no extraction detail at all.
	rec := model.NewRecord("doc-2")
	rec.Category = model.CategoryPassport
	rec.Extracted = passportExtraction()
	rec.Mapping = NewMapper(testRegistry(t)).Map(rec)
	delete(rec.Extracted, "nationality")

	qa = newTestValidator(t).Validate(rec)
	found = false
	for _, is := range qa.Issues {
		if is.Field == "nationality" && is.Type == "low_confidence" {
			found = true
			assert.Equal(t, model.SeverityError, is.Severity)
		}
	}
	assert.True(t, found, "unbacked mapped value must raise an error-tier low_confidence issue")
	assert.False(t, qa.Passed)
}

func TestValidateLengthConstraints(t *testing.T) {
	extracted := passportExtraction()
	extracted["full_name"] = model.FieldResult{Value: "J", Confidence: 95, Source: model.SourceModel}

	qa := validatePassport(t, extracted)
	assert.Contains(t, issueTypes(qa), "length_constraint")
}

func TestValidateScoreStaysInRange(t *testing.T) {
	// Pile up errors: every required field missing plus placeholders.
	qa := validatePassport(t, map[string]model.FieldResult{
		"gender": {Value: "zzz", Confidence: 20, Source: model.SourcePattern},
	})
	assert.GreaterOrEqual(t, qa.Score, 0)
	assert.LessOrEqual(t, qa.Score, 100)
}

func TestValidateUnknownCategoryHasNoSchemaRules(t *testing.T) {
	rec := model.NewRecord("doc-1")
	rec.Category = model.CategoryUnknown
	rec.Extracted = map[string]model.FieldResult{
		"anything": {Value: "x", Confidence: 90, Source: model.SourcePattern},
	}
	rec.Mapping = NewMapper(testRegistry(t)).Map(rec)

	qa := newTestValidator(t).Validate(rec)
	assert.NotNil(t, qa)
	for _, is := range qa.Issues {
		assert.NotEqual(t, "missing_required", is.Type)
	}
}

func TestParseFlexibleDate(t *testing.T) {
	for _, s := range []string{"2034-01-01", "01/01/2034", "01-01-2034", "01.01.2034", "2 January 2034", "01 Jan 2034"} {
		got, err := parseFlexibleDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2034, got.Year(), s)
	}
	_, err := parseFlexibleDate("first of never")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	got, err := parseAmount("AED 1,250.75")
	require.NoError(t, err)
	assert.InDelta(t, 1250.75, got, 0.001)

	_, err = parseAmount("free of charge")
	assert.Error(t, err)

	_, err = parseAmount("-50.00")
	assert.Error(t, err)
}
