package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/pkg/anthropic"
)

const classifySystemPrompt = `You classify scanned identity and commercial documents into exactly one of these categories: PASSPORT, EMIRATES_ID, VISA, TRADE_LICENSE, LABOR_CARD, ESTABLISHMENT_CARD, MOA, BANK_STATEMENT, INVOICE, CONTRACT, ID_CARD, UNKNOWN. Respond with a valid JSON object:
{"documentType": "<category>", "confidence": <0-100>, "alternativeTypes": ["<category>", ...], "language": "<iso 639-1>", "hasPhoto": <bool>}`

const classifyUserPrompt = `Document text (may contain OCR noise):
%s`

// Classifier assigns a document category from text plus an optional image.
// Model-backed with weighted pattern fallback; never fatal to the run.
type Classifier struct {
	client   anthropic.Client
	registry *schema.Registry
	model    string
}

// NewClassifier creates a Classifier.
func NewClassifier(client anthropic.Client, registry *schema.Registry, modelName string) *Classifier {
	return &Classifier{client: client, registry: registry, model: modelName}
}

// Classify determines the document category. Model failure falls back to
// pattern scoring and is never returned as an error.
func (c *Classifier) Classify(ctx context.Context, rec *model.Record) *model.Classification {
	cls, err := c.classifyModel(ctx, rec)
	if err != nil {
		zap.L().Warn("classify: model call failed, falling back to patterns",
			zap.String("document_id", rec.DocumentID),
			zap.Error(err),
		)
		cls = c.classifyPatterns(rec.Text)
	}

	cls.Language = detectLanguage(rec.Text)
	if !cls.HasPhoto {
		cls.HasPhoto = detectPhoto(rec.Text) || rec.Image != nil
	}
	return cls
}

func (c *Classifier) classifyModel(ctx context.Context, rec *model.Record) (*model.Classification, error) {
	msg := anthropic.Message{
		Role:    "user",
		Content: fmt.Sprintf(classifyUserPrompt, truncateText(rec.Text, 4000)),
	}
	if rec.Image != nil {
		msg.Image = &anthropic.Image{MediaType: rec.Image.MediaType, Data: rec.Image.Data}
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 256,
		System:    classifySystemPrompt,
		Messages:  []anthropic.Message{msg},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(c.model, "classify")

	return parseClassification(extractText(resp))
}

func parseClassification(text string) (*model.Classification, error) {
	text = cleanJSON(text)

	var result struct {
		DocumentType     string   `json:"documentType"`
		Confidence       int      `json:"confidence"`
		AlternativeTypes []string `json:"alternativeTypes"`
		Language         string   `json:"language"`
		HasPhoto         bool     `json:"hasPhoto"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, eris.Wrap(err, "classify: parse model output")
	}

	cls := &model.Classification{
		Category:   model.NormalizeCategory(result.DocumentType),
		Confidence: model.ClampConfidence(result.Confidence),
		Language:   result.Language,
		HasPhoto:   result.HasPhoto,
	}
	for _, alt := range result.AlternativeTypes {
		if len(cls.Alternatives) >= 2 {
			break
		}
		cat := model.NormalizeCategory(alt)
		if cat == model.CategoryUnknown || cat == cls.Category {
			continue
		}
		cls.Alternatives = append(cls.Alternatives, model.AlternativeCategory{
			Category:   cat,
			Confidence: model.ClampConfidence(cls.Confidence / 2),
		})
	}
	return cls, nil
}

// classifyPatterns scores every category's weighted regex list against the
// text: score = matched/total x weight x 100, capped at 95.
func (c *Classifier) classifyPatterns(text string) *model.Classification {
	type scored struct {
		category model.Category
		score    int
	}

	var scores []scored
	for _, cs := range c.registry.Categories() {
		if len(cs.ClassifyRegexes) == 0 {
			continue
		}
		matched := 0
		for _, re := range cs.ClassifyRegexes {
			if re.MatchString(text) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := int(float64(matched) / float64(len(cs.ClassifyRegexes)) * cs.ClassifyWeight * 100)
		if score > 95 {
			score = 95
		}
		scores = append(scores, scored{category: cs.Category, score: score})
	}

	if len(scores) == 0 {
		// Distinct from a confident UNKNOWN: nothing matched at all.
		return &model.Classification{Category: model.CategoryUnknown, Confidence: 10}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].category < scores[j].category
	})

	cls := &model.Classification{
		Category:   scores[0].category,
		Confidence: scores[0].score,
	}
	for _, s := range scores[1:] {
		if len(cls.Alternatives) >= 2 {
			break
		}
		cls.Alternatives = append(cls.Alternatives, model.AlternativeCategory{
			Category:   s.category,
			Confidence: s.score,
		})
	}
	return cls
}

// detectLanguage guesses the dominant script from Unicode block ranges.
func detectLanguage(text string) string {
	var arabic, cjk, devanagari, latin int
	for _, r := range text {
		switch {
		case r >= 0x0600 && r <= 0x06FF || r >= 0x0750 && r <= 0x077F:
			arabic++
		case r >= 0x4E00 && r <= 0x9FFF || r >= 0x3040 && r <= 0x30FF:
			cjk++
		case r >= 0x0900 && r <= 0x097F:
			devanagari++
		case r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z':
			latin++
		}
	}

	best, lang := latin, "en"
	if arabic > best {
		best, lang = arabic, "ar"
	}
	if cjk > best {
		best, lang = cjk, "zh"
	}
	if devanagari > best {
		lang = "hi"
	}
	return lang
}

var photoKeywords = []string{"photo", "photograph", "portrait", "holder's image"}

func detectPhoto(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range photoKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
