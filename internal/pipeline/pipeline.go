package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/internal/store"
	"github.com/sells-group/docintel/pkg/anthropic"
)

// Request describes one document to process. Text may be supplied directly
// or loaded from FilePath through the OCR collaborator.
type Request struct {
	DocumentID string
	UserID     string
	JobID      string

	Text     string
	FilePath string
	Image    *model.ImagePayload

	FileName string
	FileType string
	FileSize int64

	// OCRConfidence in [0,100]; below 100 it discounts pattern-sourced
	// field confidences.
	OCRConfidence int
}

// Pipeline is the single entry point into the document-understanding core.
type Pipeline struct {
	orchestrator *Orchestrator
	ocr          ocr.Extractor
	store        store.Store
}

// New wires the full pipeline from config. st and ocrExt may be nil; the
// cache and file loading are then disabled.
func New(cfg *config.Config, client anthropic.Client, registry *schema.Registry, st store.Store, ocrExt ocr.Extractor) *Pipeline {
	policy := resilience.FromPolicyConfig(
		cfg.Anthropic.MaxAttempts,
		cfg.Anthropic.RetryInitialBackoffMs,
		cfg.Anthropic.RetryMaxBackoffMs,
		0, 0,
	)
	policy.CallTimeout = cfg.Anthropic.CallTimeout()
	policy.OnRetry = resilience.RetryLogger("anthropic", "extract")

	classifier := NewClassifier(client, registry, cfg.Anthropic.ClassifyModel)
	extractor := NewExtractor(client, registry, st, policy, ExtractorOptions{
		Model:        cfg.Anthropic.ExtractModel,
		MaxTextChars: cfg.Pipeline.MaxTextChars,
		UseCache:     cfg.Pipeline.CacheExtractions,
	})
	corrector := NewCorrector(client, registry, CorrectorOptions{
		Enabled:   cfg.Pipeline.SelfCorrection,
		Threshold: cfg.Pipeline.SelfCorrectionThreshold,
		Model:     cfg.Anthropic.ExtractModel,
	})

	orch := NewOrchestrator(
		classifier,
		extractor,
		corrector,
		NewMapper(registry),
		NewValidator(registry),
		NewRecoveryCoordinator(),
		cfg.Pipeline.DocumentTimeout(),
	)

	return &Pipeline{orchestrator: orch, ocr: ocrExt, store: st}
}

// Process runs one document to its terminal record. The error return covers
// only input problems; stage failures are carried inside the record.
func (p *Pipeline) Process(ctx context.Context, req Request) (*model.Record, error) {
	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}

	rec := model.NewRecord(req.DocumentID)
	rec.UserID = req.UserID
	rec.JobID = req.JobID
	rec.FileName = req.FileName
	rec.FileType = req.FileType
	rec.FileSize = req.FileSize
	rec.Text = req.Text
	rec.Image = req.Image
	rec.OCRConfidence = req.OCRConfidence

	if rec.Text == "" && req.FilePath != "" {
		doc, err := ocr.LoadDocument(ctx, p.ocr, req.FilePath)
		if err != nil {
			return nil, err
		}
		rec.Text = doc.Text
		if rec.Image == nil {
			rec.Image = doc.Image
		}
		if rec.FileName == "" {
			rec.FileName = doc.FileName
		}
		if rec.FileType == "" {
			rec.FileType = doc.FileType
		}
		if rec.FileSize == 0 {
			rec.FileSize = doc.FileSize
		}
	}

	if rec.Text == "" && rec.Image == nil {
		return nil, eris.New("pipeline: invalid input: empty document, no text or image")
	}

	zap.L().Info("pipeline: processing document",
		zap.String("document_id", rec.DocumentID),
		zap.String("file_name", rec.FileName),
		zap.Int("text_len", len(rec.Text)),
	)

	rec = p.orchestrator.Run(ctx, rec)

	if p.store != nil {
		if err := p.store.SaveRecord(ctx, rec); err != nil {
			zap.L().Warn("pipeline: record persistence failed",
				zap.String("document_id", rec.DocumentID),
				zap.Error(err),
			)
		}
	}
	return rec, nil
}

// ProcessBatch runs independent traversals concurrently. Each document is
// internally sequential; failures do not cancel siblings.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request, concurrency int) ([]*model.Record, error) {
	if concurrency <= 0 {
		concurrency = 5
	}

	records := make([]*model.Record, len(reqs))
	var mu sync.Mutex
	var firstErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			rec, err := p.Process(gCtx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Error("pipeline: document failed",
					zap.String("file", req.FilePath),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	return records, firstErr
}
