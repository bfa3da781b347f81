// Package ocr turns input files into the text and image payloads the
// pipeline consumes. PDFs go through pdftotext or the Mistral OCR API;
// images are passed to the model directly as base64 payloads.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/resilience"
)

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

type guardedExtractor struct {
	inner   Extractor
	breaker *resilience.CircuitBreaker
}

// WithBreaker puts a circuit breaker in front of a remote extractor, so an
// OCR provider outage rejects fast instead of stalling every document in a
// batch.
func WithBreaker(inner Extractor, cb *resilience.CircuitBreaker) Extractor {
	return &guardedExtractor{inner: inner, breaker: cb}
}

func (g *guardedExtractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.inner.ExtractText(ctx, pdfPath)
	})
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
