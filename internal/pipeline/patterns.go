package pipeline

import (
	"regexp"
	"strings"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
)

// basePatternConfidence is assigned to regex-bank hits before the validation
// boost; labelScanConfidence to generic "label: value" hits.
const (
	basePatternConfidence = 70
	labelScanConfidence   = 55
	validationBoost       = 10
)

// labelValueRe matches a generic "Label: value" or "Label - value" line.
var labelValueRe = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z0-9 ./_-]{1,40}?)\s*[:\-]\s+(\S.*?)\s*$`)

// extractPatterns runs the per-field regex bank plus the generic label
// scanner against the text. It is the second, model-independent extraction
// source and the fallback when the model path fails entirely.
func extractPatterns(text string, cs *schema.CategorySchema) map[string]model.FieldResult {
	out := make(map[string]model.FieldResult)
	if text == "" {
		return out
	}

	if cs != nil {
		for i := range cs.Fields {
			f := &cs.Fields[i]
			for _, re := range f.PatternRegexes {
				m := re.FindStringSubmatch(text)
				if m == nil {
					continue
				}
				value := strings.TrimSpace(m[len(m)-1])
				if value == "" {
					continue
				}
				out[f.Name] = model.FieldResult{
					Value:      value,
					Confidence: boostIfValid(basePatternConfidence, value, f),
					Source:     model.SourcePattern,
					RawText:    strings.TrimSpace(m[0]),
				}
				break
			}
		}
	}

	// Generic label scanner fills fields the regex bank missed.
	for _, m := range labelValueRe.FindAllStringSubmatch(text, -1) {
		label := schema.NormalizeName(m[1])
		value := strings.TrimSpace(m[2])
		if label == "" || value == "" {
			continue
		}

		name := label
		var field *schema.Field
		if cs != nil {
			field = matchFieldName(label, cs)
			if field != nil {
				name = field.Name
			}
		}
		if _, exists := out[name]; exists {
			continue
		}
		out[name] = model.FieldResult{
			Value:      value,
			Confidence: boostIfValid(labelScanConfidence, value, field),
			Source:     model.SourcePattern,
			RawText:    strings.TrimSpace(m[0]),
		}
	}

	return out
}

// matchFieldName resolves a normalized label to a schema field by exact name
// or alias.
func matchFieldName(normalized string, cs *schema.CategorySchema) *schema.Field {
	if f := cs.FieldByName(normalized); f != nil {
		return f
	}
	for i := range cs.Fields {
		f := &cs.Fields[i]
		for _, alias := range f.Aliases {
			if schema.NormalizeName(alias) == normalized {
				return f
			}
		}
	}
	return nil
}

// boostIfValid adds the validation boost when the value satisfies the
// field's validation regex, capped at 100.
func boostIfValid(confidence int, value string, f *schema.Field) int {
	if f != nil && f.ValidationRegex != nil && f.ValidationRegex.MatchString(value) {
		confidence += validationBoost
	}
	return model.ClampConfidence(confidence)
}
