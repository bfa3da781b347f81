package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/internal/store"
	"github.com/sells-group/docintel/pkg/anthropic"
)

const extractSystemPrompt = `You extract structured fields from scanned document text. Respond ONLY with a JSON object keyed by field name. Each value is an object {"value": <string|number|boolean|null>, "confidence": <0-100>, "rawText": "<source snippet>"}. Use null for fields that are not present. Do not invent values.`

const genericExtractPrompt = `Extract every labeled field you can find in this document (names, numbers, dates, amounts).`

// extractionOutputSchema validates the model's response shape at the
// boundary; anything non-conforming is rejected as a parse error.
const extractionOutputSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"properties": {
			"value": {"type": ["string", "number", "boolean", "null"]},
			"confidence": {"type": "integer", "minimum": 0, "maximum": 100},
			"rawText": {"type": "string"}
		},
		"required": ["value"],
		"additionalProperties": false
	}
}`

var extractionSchema = jsonschema.MustCompileString("extraction.json", extractionOutputSchema)

// crossValidationBoost rewards two independent sources agreeing on a value.
const crossValidationBoost = 10

// ExtractorOptions tunes the extraction stage.
type ExtractorOptions struct {
	Model        string
	MaxTextChars int
	UseCache     bool
}

// Extractor pulls category-specific fields with per-field confidence. The
// model path and the pattern bank run as independent sources and their
// results are merged deterministically.
type Extractor struct {
	client   anthropic.Client
	registry *schema.Registry
	cache    store.Store
	policy   resilience.Policy
	opts     ExtractorOptions
}

// NewExtractor creates an Extractor. cache may be nil to disable reuse.
func NewExtractor(client anthropic.Client, registry *schema.Registry, cache store.Store, policy resilience.Policy, opts ExtractorOptions) *Extractor {
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = 8000
	}
	return &Extractor{client: client, registry: registry, cache: cache, policy: policy, opts: opts}
}

// Extract runs both sources and merges. The returned error reports a failed
// model path; the field map still carries the pattern salvage in that case,
// so extraction failure degrades rather than blocks.
func (e *Extractor) Extract(ctx context.Context, rec *model.Record) (map[string]model.FieldResult, error) {
	cs := e.registry.ByCategory(rec.Category)

	patternFields := extractPatterns(rec.Text, cs)
	discountPatternConfidence(patternFields, rec.OCRConfidence)

	modelFields, err := e.extractModel(ctx, rec, cs)
	if err != nil {
		zap.L().Warn("extract: model path failed, keeping pattern salvage",
			zap.String("document_id", rec.DocumentID),
			zap.String("category", string(rec.Category)),
			zap.Int("pattern_fields", len(patternFields)),
			zap.Error(err),
		)
		return patternFields, err
	}

	return mergeFields(modelFields, patternFields), nil
}

// ExtractPatternsOnly is the fallback path selected by recovery: no model
// call at all.
func (e *Extractor) ExtractPatternsOnly(rec *model.Record) map[string]model.FieldResult {
	cs := e.registry.ByCategory(rec.Category)
	fields := extractPatterns(rec.Text, cs)
	discountPatternConfidence(fields, rec.OCRConfidence)
	return fields
}

func (e *Extractor) extractModel(ctx context.Context, rec *model.Record, cs *schema.CategorySchema) (map[string]model.FieldResult, error) {
	textHash := store.HashText(rec.Text)
	if e.opts.UseCache && e.cache != nil {
		cached, err := e.cache.GetExtraction(ctx, textHash, rec.Category)
		if err != nil {
			zap.L().Warn("extract: cache lookup failed", zap.Error(err))
		} else if cached != nil {
			zap.L().Info("extract: cache hit",
				zap.String("document_id", rec.DocumentID),
				zap.String("category", string(rec.Category)),
				zap.String("model", cached.Model),
			)
			return cached.Fields, nil
		}
	}

	prompt := buildExtractPrompt(rec, cs, e.opts.MaxTextChars)
	msg := anthropic.Message{Role: "user", Content: prompt}
	if rec.Image != nil {
		msg.Image = &anthropic.Image{MediaType: rec.Image.MediaType, Data: rec.Image.Data}
	}

	policy := e.policy
	if s := rec.Control.TimeoutScale; s > 1 && policy.CallTimeout > 0 {
		policy.CallTimeout = time.Duration(s) * policy.CallTimeout
	}

	start := time.Now()
	fields, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (map[string]model.FieldResult, error) {
		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.opts.Model,
			MaxTokens: 2048,
			System:    extractSystemPrompt,
			Messages:  []anthropic.Message{msg},
		})
		if err != nil {
			return nil, err
		}
		resp.Usage.LogUsage(e.opts.Model, "extract")
		return parseExtraction(extractText(resp))
	})
	if err != nil {
		return nil, err
	}

	if e.opts.UseCache && e.cache != nil {
		entry := store.CachedExtraction{
			TextHash:  textHash,
			Category:  rec.Category,
			Fields:    fields,
			Model:     e.opts.Model,
			ElapsedMS: time.Since(start).Milliseconds(),
		}
		if err := e.cache.PutExtraction(ctx, entry); err != nil {
			zap.L().Warn("extract: cache write failed", zap.Error(err))
		}
	}

	return fields, nil
}

func buildExtractPrompt(rec *model.Record, cs *schema.CategorySchema, maxChars int) string {
	var b strings.Builder
	if cs != nil {
		b.WriteString(cs.Prompt)
		b.WriteString("\n\nFields to extract:\n")
		for i := range cs.Fields {
			f := &cs.Fields[i]
			fmt.Fprintf(&b, "- %s: %s", f.Name, f.Description)
			if f.Required {
				b.WriteString(" (required)")
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString(genericExtractPrompt)
		b.WriteString("\n")
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(truncateText(rec.Text, maxChars))
	return b.String()
}

// parseExtraction decodes and schema-validates the model output. Violations
// are retryable parse errors.
func parseExtraction(text string) (map[string]model.FieldResult, error) {
	text = cleanJSON(text)

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "extract: parse model output"), 0)
	}
	if err := extractionSchema.Validate(raw); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "extract: model output violates schema"), 0)
	}

	obj := raw.(map[string]any)
	fields := make(map[string]model.FieldResult, len(obj))
	for name, v := range obj {
		entry := v.(map[string]any)

		fr := model.FieldResult{Source: model.SourceModel, Confidence: 75}
		fr.Value = entry["value"]
		if c, ok := entry["confidence"].(float64); ok {
			fr.Confidence = model.ClampConfidence(int(c))
		}
		if rt, ok := entry["rawText"].(string); ok {
			fr.RawText = rt
		}
		fields[schema.NormalizeName(name)] = fr
	}
	return fields, nil
}

// discountPatternConfidence applies the OCR-quality discount to
// pattern-sourced confidences. Model confidences are untouched.
func discountPatternConfidence(fields map[string]model.FieldResult, ocrConfidence int) {
	if ocrConfidence <= 0 || ocrConfidence >= 100 {
		return
	}
	for name, fr := range fields {
		if fr.Source != model.SourcePattern {
			continue
		}
		fr.Confidence = model.ClampConfidence(fr.Confidence * ocrConfidence / 100)
		fields[name] = fr
	}
}

// mergeFields combines the model and pattern sources:
//  1. a field present in only one source is taken verbatim
//  2. value agreement (equal normalized, containment at length>5, or
//     similarity >0.85 at length>3) keeps the model value with a
//     cross-validation boost of +10
//  3. near-equal confidences (<10 apart) discount the pattern side by 0.85
//     and take the higher
//  4. otherwise the strictly higher-confidence source wins
//  5. a nil winner loses to a non-nil loser
func mergeFields(modelFields, patternFields map[string]model.FieldResult) map[string]model.FieldResult {
	out := make(map[string]model.FieldResult, len(modelFields)+len(patternFields))

	for name, mf := range modelFields {
		pf, ok := patternFields[name]
		if !ok {
			out[name] = mf.Clamped()
			continue
		}
		out[name] = mergeOne(mf, pf)
	}
	for name, pf := range patternFields {
		if _, ok := modelFields[name]; !ok {
			out[name] = pf.Clamped()
		}
	}
	return out
}

func mergeOne(mf, pf model.FieldResult) model.FieldResult {
	mv, pv := stringifyValue(mf.Value), stringifyValue(pf.Value)

	if valuesAgree(mv, pv) {
		mf.Confidence = model.ClampConfidence(mf.Confidence + crossValidationBoost)
		return mf
	}

	var winner, loser model.FieldResult
	diff := mf.Confidence - pf.Confidence
	if diff < 0 {
		diff = -diff
	}
	if diff < 10 {
		discounted := pf
		discounted.Confidence = int(float64(pf.Confidence) * 0.85)
		if mf.Confidence >= discounted.Confidence {
			winner, loser = mf, discounted
		} else {
			winner, loser = discounted, mf
		}
	} else if mf.Confidence > pf.Confidence {
		winner, loser = mf, pf
	} else {
		winner, loser = pf, mf
	}

	if winner.Value == nil && loser.Value != nil {
		winner = loser
	}
	return winner.Clamped()
}

func valuesAgree(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	if a == b {
		return true
	}
	if len(a) > 5 && len(b) > 5 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	if len(a) > 3 && len(b) > 3 && similarity(a, b) > 0.85 {
		return true
	}
	return false
}
