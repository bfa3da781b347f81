package pipeline

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
)

// Mapper canonicalizes raw extracted field names onto the per-category
// schema through three ordered tiers: exact, alias, semantic.
type Mapper struct {
	registry *schema.Registry
}

// NewMapper creates a Mapper.
func NewMapper(registry *schema.Registry) *Mapper {
	return &Mapper{registry: registry}
}

// Map canonicalizes rec.Extracted. Nil-valued fields are skipped before
// mapping; unmapped names are retained for audit. When two raw fields land
// on the same canonical name the higher-confidence mapping wins and the
// loser is recorded as unmapped.
func (m *Mapper) Map(rec *model.Record) *model.MappingResult {
	cs := m.registry.ByCategory(rec.Category)

	result := &model.MappingResult{
		Mapped:      make(map[string]any),
		AliasesUsed: make(map[string]string),
	}

	names := make([]string, 0, len(rec.Extracted))
	for name, fr := range rec.Extracted {
		if fr.Value == nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	// canonical name -> index into result.Details of the current winner
	winners := make(map[string]int)

	for _, raw := range names {
		fr := rec.Extracted[raw]
		detail := m.mapOne(raw, cs)
		detail.Value = fr.Value

		if detail.CanonicalField == "" {
			result.Unmapped = append(result.Unmapped, raw)
			result.Details = append(result.Details, detail)
			continue
		}

		if prev, ok := winners[detail.CanonicalField]; ok {
			loser := detail
			if detail.Confidence > result.Details[prev].Confidence {
				loser = result.Details[prev]
				result.Details[prev] = detail
				result.Mapped[detail.CanonicalField] = detail.Value
				winners[detail.CanonicalField] = prev
				if detail.MatchType == model.MatchAlias {
					result.AliasesUsed[detail.OriginalField] = detail.CanonicalField
				}
			}
			zap.L().Debug("mapping: canonical conflict",
				zap.String("canonical", detail.CanonicalField),
				zap.String("loser", loser.OriginalField),
			)
			delete(result.AliasesUsed, loser.OriginalField)
			loser.CanonicalField = ""
			loser.MatchType = model.MatchUnmapped
			loser.Confidence = 0
			result.Unmapped = append(result.Unmapped, loser.OriginalField)
			result.Details = append(result.Details, loser)
			continue
		}

		result.Mapped[detail.CanonicalField] = detail.Value
		winners[detail.CanonicalField] = len(result.Details)
		if detail.MatchType == model.MatchAlias {
			result.AliasesUsed[detail.OriginalField] = detail.CanonicalField
		}
		result.Details = append(result.Details, detail)
	}

	// Overall confidence: mean over mapped details.
	var sum, n int
	for _, d := range result.Details {
		if d.CanonicalField != "" {
			sum += d.Confidence
			n++
		}
	}
	if n > 0 {
		result.Confidence = sum / n
	}
	return result
}

func (m *Mapper) mapOne(raw string, cs *schema.CategorySchema) model.MappingDetail {
	normalized := schema.NormalizeName(raw)
	detail := model.MappingDetail{OriginalField: raw, MatchType: model.MatchUnmapped}

	// Tier 1: exact normalized-name match.
	if cs.FieldByName(normalized) != nil {
		detail.CanonicalField = normalized
		detail.Confidence = 100
		detail.MatchType = model.MatchExact
		return detail
	}

	// Tier 2: alias tables, category first, then cross-category.
	if cs != nil {
		for i := range cs.Fields {
			f := &cs.Fields[i]
			for _, alias := range f.Aliases {
				if schema.NormalizeName(alias) == normalized {
					detail.CanonicalField = f.Name
					detail.Confidence = 90
					detail.MatchType = model.MatchAlias
					return detail
				}
			}
		}
	}
	// Common aliases and alias patterns only resolve when the category
	// schema actually carries the canonical field; without a schema there
	// is no target to map onto.
	if canonical, ok := m.registry.CommonAlias(normalized); ok {
		if cs.FieldByName(canonical) != nil {
			detail.CanonicalField = canonical
			detail.Confidence = 90
			detail.MatchType = model.MatchAlias
			return detail
		}
	}
	for _, ap := range m.registry.AliasPatterns() {
		if !ap.Regex.MatchString(normalized) {
			continue
		}
		if cs.FieldByName(ap.Canonical) == nil {
			continue
		}
		detail.CanonicalField = ap.Canonical
		detail.Confidence = 85
		detail.MatchType = model.MatchPattern
		return detail
	}

	// Tier 3: semantic fallback over the schema's canonical names.
	if cs != nil {
		best, bestScore := "", 0.0
		for i := range cs.Fields {
			score := semanticSimilarity(normalized, cs.Fields[i].Name)
			if score > bestScore {
				best, bestScore = cs.Fields[i].Name, score
			}
		}
		if bestScore >= 0.6 {
			detail.CanonicalField = best
			detail.MatchType = model.MatchSemantic
			switch {
			case bestScore >= 0.9:
				detail.Confidence = 80
			case bestScore >= 0.75:
				detail.Confidence = 70
			default:
				detail.Confidence = 60
			}
			return detail
		}
	}

	return detail
}

// semanticSimilarity is edit-distance similarity with a containment bonus.
func semanticSimilarity(a, b string) float64 {
	score := similarity(a, b)
	if a != b && (strings.Contains(a, b) || strings.Contains(b, a)) {
		score += 0.2
		if score > 1 {
			score = 1
		}
	}
	return score
}
