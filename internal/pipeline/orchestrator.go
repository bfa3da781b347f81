package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
)

// DefaultRunTimeout bounds a whole document run end to end.
const DefaultRunTimeout = 5 * time.Minute

// Orchestrator drives the state machine classify -> extract -> map -> qa ->
// {finalize | errorRecover}. Stages return deltas; only the orchestrator
// mutates the record.
type Orchestrator struct {
	classifier *Classifier
	extractor  *Extractor
	corrector  *Corrector
	mapper     *Mapper
	validator  *Validator
	recovery   *RecoveryCoordinator
	timeout    time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the stages together. A zero timeout selects the
// default 5 minutes.
func NewOrchestrator(classifier *Classifier, extractor *Extractor, corrector *Corrector, mapper *Mapper, validator *Validator, recovery *RecoveryCoordinator, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Orchestrator{
		classifier: classifier,
		extractor:  extractor,
		corrector:  corrector,
		mapper:     mapper,
		validator:  validator,
		recovery:   recovery,
		timeout:    timeout,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives rec to its terminal state. It always returns a well-formed
// terminal record, including on wall-clock timeout.
func (o *Orchestrator) Run(ctx context.Context, rec *model.Record) *model.Record {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	for !rec.Terminal() {
		node := rec.Control.CurrentNode

		if runCtx.Err() != nil && node != model.NodeFinalize {
			rec.AppendError(node, "workflow_timeout",
				fmt.Sprintf("run aborted after %s", o.timeout), true)
			rec.Control.CurrentNode = model.NodeFinalize
			continue
		}

		switch node {
		case model.NodeClassify:
			o.runClassify(runCtx, rec)
		case model.NodeExtract:
			o.runExtract(runCtx, rec)
		case model.NodeMap:
			o.runMap(rec)
		case model.NodeQA:
			o.runQA(rec)
		case model.NodeErrorRecover:
			o.runRecover(runCtx, rec)
		case model.NodeFinalize:
			o.runFinalize(rec)
		default:
			rec.AppendError(node, "workflow_error",
				fmt.Sprintf("unknown node %q", node), true)
			rec.Control.CurrentNode = model.NodeFinalize
		}
	}
	return rec
}

func (o *Orchestrator) runClassify(ctx context.Context, rec *model.Record) {
	cls := o.classifier.Classify(ctx, rec)
	rec.Classification = cls
	rec.Category = cls.Category
	rec.AppendHistory(model.NodeClassify, "classified",
		fmt.Sprintf("%s at confidence %d", cls.Category, cls.Confidence))
	rec.CompleteNode(model.NodeClassify, model.NodeExtract)
}

func (o *Orchestrator) runExtract(ctx context.Context, rec *model.Record) {
	fields, err := o.extractor.Extract(ctx, rec)
	rec.Control.TimeoutScale = 0
	if err != nil {
		class := ClassifyError(err)
		rec.AppendError(model.NodeExtract, string(class), err.Error(), false)
		rec.Control.FailedStage = model.NodeExtract
		rec.Extracted = fields
		rec.AppendHistory(model.NodeExtract, "degraded",
			fmt.Sprintf("model path failed (%s), %d pattern fields salvaged", class, len(fields)))
	} else {
		rec.Control.FailedStage = ""
		rec.Extracted = o.corrector.Correct(ctx, rec, fields)
		rec.AppendHistory(model.NodeExtract, "extracted",
			fmt.Sprintf("%d fields", len(rec.Extracted)))
	}
	rec.CompleteNode(model.NodeExtract, model.NodeMap)
}

func (o *Orchestrator) runMap(rec *model.Record) {
	rec.Mapping = o.mapper.Map(rec)
	rec.AppendHistory(model.NodeMap, "mapped",
		fmt.Sprintf("%d canonical, %d unmapped", len(rec.Mapping.Mapped), len(rec.Mapping.Unmapped)))
	rec.CompleteNode(model.NodeMap, model.NodeQA)
}

func (o *Orchestrator) runQA(rec *model.Record) {
	rec.QA = o.validator.Validate(rec)
	rec.AppendHistory(model.NodeQA, "validated",
		fmt.Sprintf("score %d, passed %t", rec.QA.Score, rec.QA.Passed))

	switch {
	case rec.QA.Passed:
		rec.CompleteNode(model.NodeQA, model.NodeFinalize)
	case rec.Control.RetryCount < model.MaxRetries:
		rec.CompleteNode(model.NodeQA, model.NodeErrorRecover)
	default:
		rec.CompleteNode(model.NodeQA, model.NodeFinalize)
	}
}

func (o *Orchestrator) runRecover(ctx context.Context, rec *model.Record) {
	rec.Control.RetryCount++

	if rec.Control.RetryCount >= model.MaxRetries {
		rec.AppendHistory(model.NodeErrorRecover, "exhausted",
			fmt.Sprintf("retry cap %d reached", model.MaxRetries))
		rec.CompleteNode(model.NodeErrorRecover, model.NodeFinalize)
		return
	}

	failed := rec.Control.FailedStage
	if failed == "" {
		failed = model.NodeExtract
	}
	action, _ := o.recovery.Plan(o.lastStageError(rec, failed), failed, rec.Control.RetryCount)
	rec.AppendHistory(model.NodeErrorRecover, string(action.Type), action.Reason)

	switch action.Type {
	case model.RecoveryRetry:
		if scale, ok := action.Parameters["timeout_scale"].(int); ok {
			rec.Control.TimeoutScale = scale
		}
		if delay := action.EstimatedTime; delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				rec.AppendError(model.NodeErrorRecover, "workflow_timeout", err.Error(), true)
				rec.CompleteNode(model.NodeErrorRecover, model.NodeFinalize)
				return
			}
		}
		rec.CompleteNode(model.NodeErrorRecover, failed)
	case model.RecoveryFallback:
		rec.Extracted = o.extractor.ExtractPatternsOnly(rec)
		rec.AppendHistory(model.NodeErrorRecover, "fallback",
			fmt.Sprintf("pattern-only extraction produced %d fields", len(rec.Extracted)))
		rec.CompleteNode(model.NodeErrorRecover, model.NodeMap)
	default: // skip or manual escalation
		rec.CompleteNode(model.NodeErrorRecover, model.NodeFinalize)
	}
}

// lastStageError rebuilds an error from the most recent failure logged for
// the stage, so recovery classification sees the original message.
func (o *Orchestrator) lastStageError(rec *model.Record, stage model.Node) error {
	for i := len(rec.Errors) - 1; i >= 0; i-- {
		if rec.Errors[i].Stage == stage {
			return errors.New(rec.Errors[i].Message)
		}
	}
	if rec.QA != nil && !rec.QA.Passed {
		return fmt.Errorf("validation failed with score %d", rec.QA.Score)
	}
	return errors.New("unknown failure")
}

func (o *Orchestrator) runFinalize(rec *model.Record) {
	summary := &model.Summary{
		Fields:          map[string]any{},
		FieldConfidence: map[string]int{},
		ProcessingTime:  time.Since(rec.Control.StartedAt),
	}

	if rec.Mapping != nil {
		for k, v := range rec.Mapping.Mapped {
			summary.Fields[k] = v
		}
		for _, d := range rec.Mapping.Details {
			if d.CanonicalField == "" {
				continue
			}
			if fr, ok := rec.Extracted[d.OriginalField]; ok {
				summary.FieldConfidence[d.CanonicalField] = fr.Confidence
			}
		}
	}

	fatal := false
	for _, e := range rec.Errors {
		if e.Fatal {
			fatal = true
			break
		}
	}

	if rec.QA != nil {
		summary.OverallConfidence = rec.QA.Summary.AverageConfidence
		summary.ReviewReasons = reviewReasons(rec.QA)
	}
	if fatal {
		summary.ReviewReasons = append(summary.ReviewReasons, "workflow aborted before completion")
	}
	summary.Success = !fatal && rec.QA != nil && rec.QA.Passed

	rec.Result = summary
	rec.CompleteNode(model.NodeFinalize, model.NodeEnd)

	zap.L().Info("finalize: run complete",
		zap.String("document_id", rec.DocumentID),
		zap.String("category", string(rec.Category)),
		zap.Bool("success", summary.Success),
		zap.Duration("elapsed", summary.ProcessingTime),
		zap.Int("retries", rec.Control.RetryCount),
	)
}

func reviewReasons(qa *model.QAResult) []string {
	if !qa.RequiresHumanReview {
		return nil
	}
	var reasons []string
	if qa.HasErrors() {
		reasons = append(reasons, "validation errors present")
	}
	if qa.Summary.AverageConfidence < 70 {
		reasons = append(reasons, fmt.Sprintf("average confidence %d below 70", qa.Summary.AverageConfidence))
	}
	if len(qa.Issues) >= 3 {
		reasons = append(reasons, fmt.Sprintf("%d issues raised", len(qa.Issues)))
	}
	for _, issue := range qa.Issues {
		if issue.Type == "missing_required" {
			reasons = append(reasons, "required fields missing")
			break
		}
	}
	return reasons
}
