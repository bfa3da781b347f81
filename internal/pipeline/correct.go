package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/pkg/anthropic"
)

const correctSystemPrompt = `You re-examine specific fields that were extracted from a document with low confidence. Respond ONLY with a JSON object keyed by the requested field names, each value an object {"value": <string|number|boolean|null>, "confidence": <0-100>, "rawText": "<source snippet>"}. Only include the requested fields.`

// CorrectorOptions bounds the self-correction pass.
type CorrectorOptions struct {
	Enabled   bool
	Threshold int // fields below this confidence are candidates; default 70
	MaxFields int // per pass; default 3
	MaxPasses int // default 2
	Model     string
}

// Corrector re-extracts low-confidence fields with focused prompts carrying
// a few lines of surrounding context. A correction is accepted only when its
// confidence strictly exceeds the old one.
type Corrector struct {
	client   anthropic.Client
	registry *schema.Registry
	opts     CorrectorOptions
}

// NewCorrector creates a Corrector.
func NewCorrector(client anthropic.Client, registry *schema.Registry, opts CorrectorOptions) *Corrector {
	if opts.Threshold <= 0 {
		opts.Threshold = 70
	}
	if opts.MaxFields <= 0 {
		opts.MaxFields = 3
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 2
	}
	return &Corrector{client: client, registry: registry, opts: opts}
}

// Correct runs bounded correction passes over fields, mutating nothing on
// failure. Passes stop when one yields zero improvements.
func (c *Corrector) Correct(ctx context.Context, rec *model.Record, fields map[string]model.FieldResult) map[string]model.FieldResult {
	if !c.opts.Enabled {
		return fields
	}
	cs := c.registry.ByCategory(rec.Category)

	for pass := 0; pass < c.opts.MaxPasses; pass++ {
		candidates := lowConfidenceFields(fields, c.opts.Threshold, c.opts.MaxFields)
		if len(candidates) == 0 {
			return fields
		}

		corrected, err := c.reExtract(ctx, rec, cs, candidates, fields)
		if err != nil {
			zap.L().Warn("correct: re-extraction failed",
				zap.String("document_id", rec.DocumentID),
				zap.Int("pass", pass),
				zap.Error(err),
			)
			return fields
		}

		improved := 0
		for name, fr := range corrected {
			old, ok := fields[name]
			if !ok {
				continue
			}
			if fr.Confidence > old.Confidence && fr.Value != nil {
				fields[name] = fr
				improved++
			}
		}
		zap.L().Info("correct: pass complete",
			zap.String("document_id", rec.DocumentID),
			zap.Int("pass", pass),
			zap.Int("candidates", len(candidates)),
			zap.Int("improved", improved),
		)
		if improved == 0 {
			return fields
		}
	}
	return fields
}

// lowConfidenceFields returns up to max non-nil fields below threshold,
// lowest confidence first.
func lowConfidenceFields(fields map[string]model.FieldResult, threshold, max int) []string {
	var names []string
	for name, fr := range fields {
		if fr.Value != nil && fr.Confidence < threshold {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if fields[names[i]].Confidence != fields[names[j]].Confidence {
			return fields[names[i]].Confidence < fields[names[j]].Confidence
		}
		return names[i] < names[j]
	})
	if len(names) > max {
		names = names[:max]
	}
	return names
}

func (c *Corrector) reExtract(ctx context.Context, rec *model.Record, cs *schema.CategorySchema, names []string, fields map[string]model.FieldResult) (map[string]model.FieldResult, error) {
	var b strings.Builder
	b.WriteString("Re-examine these fields:\n")
	for _, name := range names {
		fr := fields[name]
		fmt.Fprintf(&b, "- %s (current value %q, confidence %d)\n", name, stringifyValue(fr.Value), fr.Confidence)
	}
	b.WriteString("\nRelevant document context:\n")
	for _, name := range names {
		b.WriteString(fieldContext(rec.Text, name, cs, fields[name]))
		b.WriteString("\n---\n")
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.opts.Model,
		MaxTokens: 1024,
		System:    correctSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(c.opts.Model, "correct")

	return parseExtraction(extractText(resp))
}

// fieldContext returns the lines around the first mention of the field's
// name, an alias, or its raw source text; failing that, the document head.
func fieldContext(text, name string, cs *schema.CategorySchema, fr model.FieldResult) string {
	lines := strings.Split(text, "\n")

	needles := []string{strings.ReplaceAll(name, "_", " "), name}
	if f := cs.FieldByName(name); f != nil {
		needles = append(needles, f.Aliases...)
	}
	if fr.RawText != "" {
		needles = append(needles, fr.RawText)
	}

	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if n == "" || !strings.Contains(lower, strings.ToLower(n)) {
				continue
			}
			start := max(0, i-3)
			end := min(len(lines), i+4)
			return strings.Join(lines[start:end], "\n")
		}
	}
	return truncateText(text, 500)
}
