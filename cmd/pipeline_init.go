package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/pipeline"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/internal/store"
	anthropicpkg "github.com/sells-group/docintel/pkg/anthropic"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the process and batch commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Registry *schema.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, the gated Anthropic client, OCR, loads the
// schema registry, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakers := resilience.NewProviderBreakers(resilience.FromCircuitConfig(
		cfg.Anthropic.CircuitFailureThreshold,
		cfg.Anthropic.CircuitResetSecs,
	))
	client := anthropicpkg.NewGated(anthropicpkg.NewClient(cfg.Anthropic.Key), anthropicpkg.GateOptions{
		MaxConcurrent:     cfg.Anthropic.MaxConcurrent,
		CallTimeout:       cfg.Anthropic.CallTimeout(),
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		Breaker:           breakers.Get("anthropic"),
	})

	ocrExt, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init ocr")
	}
	if cfg.OCR.Provider == "mistral" {
		ocrExt = ocr.WithBreaker(ocrExt, breakers.Get("mistral-ocr"))
	}

	registry, err := schema.Load()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load schema registry")
	}

	zap.L().Info("schema registry loaded",
		zap.Int("categories", len(registry.Categories())),
	)

	p := pipeline.New(cfg, client, registry, st, ocrExt)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Registry: registry,
	}, nil
}
