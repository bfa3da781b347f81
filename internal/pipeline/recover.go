package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

// ErrorClass buckets a stage failure for recovery planning.
type ErrorClass string

const (
	ErrClassNetwork    ErrorClass = "network_error"
	ErrClassRateLimit  ErrorClass = "api_rate_limit"
	ErrClassQuota      ErrorClass = "api_quota_exceeded"
	ErrClassTimeout    ErrorClass = "timeout"
	ErrClassParse      ErrorClass = "parse_error"
	ErrClassInput      ErrorClass = "invalid_input"
	ErrClassModel      ErrorClass = "model_error"
	ErrClassValidation ErrorClass = "validation_error"
	ErrClassUnknown    ErrorClass = "unknown"
)

// errorClassPatterns is checked in order; first match wins.
var errorClassPatterns = []struct {
	class ErrorClass
	re    *regexp.Regexp
}{
	{ErrClassQuota, regexp.MustCompile(`(?i)quota|credit.?(exhaust|limit)|billing`)},
	{ErrClassRateLimit, regexp.MustCompile(`(?i)rate.?limit|too many requests|429|overloaded`)},
	{ErrClassTimeout, regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded|context canceled`)},
	{ErrClassNetwork, regexp.MustCompile(`(?i)network|connection|econnre|dns|no such host|broken pipe|tls`)},
	{ErrClassParse, regexp.MustCompile(`(?i)parse|unmarshal|malformed|invalid json|unexpected end|violates schema`)},
	{ErrClassInput, regexp.MustCompile(`(?i)invalid input|empty (text|document)|unsupported file`)},
	{ErrClassModel, regexp.MustCompile(`(?i)model|api error|invalid x-api-key|authentication|overcapacity`)},
	{ErrClassValidation, regexp.MustCompile(`(?i)validation failed|required field`)},
}

var retryableClasses = map[ErrorClass]bool{
	ErrClassNetwork:   true,
	ErrClassRateLimit: true,
	ErrClassTimeout:   true,
	ErrClassParse:     true,
}

// ClassifyError buckets err by message patterns, consulting the resilience
// package's transient check as a secondary signal.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}
	msg := err.Error()
	for _, p := range errorClassPatterns {
		if p.re.MatchString(msg) {
			return p.class
		}
	}
	if resilience.IsTransient(err) {
		return ErrClassNetwork
	}
	return ErrClassUnknown
}

// Retryable reports whether the class permits another attempt at all.
func (c ErrorClass) Retryable() bool {
	return retryableClasses[c]
}

// RecoveryCoordinator turns a stage failure into a bounded remediation.
type RecoveryCoordinator struct{}

// NewRecoveryCoordinator creates a RecoveryCoordinator.
func NewRecoveryCoordinator() *RecoveryCoordinator {
	return &RecoveryCoordinator{}
}

// Plan builds the priority-ordered candidate actions for a failure at stage
// with the given retry count, and returns the selected first candidate plus
// the full list for the record's history.
func (rc *RecoveryCoordinator) Plan(err error, stage model.Node, retryCount int) (model.RecoveryAction, []model.RecoveryAction) {
	class := ClassifyError(err)
	candidates := rc.candidates(class, stage, retryCount)
	selected := candidates[0]

	zap.L().Info("recover: action selected",
		zap.String("stage", string(stage)),
		zap.String("error_class", string(class)),
		zap.Int("retry_count", retryCount),
		zap.String("action", string(selected.Type)),
	)
	return selected, candidates
}

func (rc *RecoveryCoordinator) candidates(class ErrorClass, stage model.Node, retryCount int) []model.RecoveryAction {
	var out []model.RecoveryAction

	// Quota exhaustion and invalid input skip straight to fallback and
	// escalation; retrying cannot help.
	if class.Retryable() && retryCount < model.MaxRetries {
		delay := retryBackoff(class, retryCount)
		params := map[string]any{"delay_ms": delay.Milliseconds()}
		if class == ErrClassTimeout {
			// Widen the next attempt's own call timeout.
			params["timeout_scale"] = retryCount + 2
		}
		out = append(out, model.RecoveryAction{
			Type:               model.RecoveryRetry,
			TargetStage:        stage,
			Reason:             fmt.Sprintf("%s is retryable at attempt %d", class, retryCount+1),
			SuccessProbability: 0.6,
			EstimatedTime:      delay,
			Parameters:         params,
		})
	}

	if stage == model.NodeExtract {
		out = append(out, model.RecoveryAction{
			Type:               model.RecoveryFallback,
			TargetStage:        stage,
			Reason:             "pattern-only extraction needs no model call",
			SuccessProbability: 0.4,
			EstimatedTime:      time.Second,
		})
	}

	out = append(out,
		model.RecoveryAction{
			Type:               model.RecoverySkip,
			TargetStage:        stage,
			Reason:             "skip the stage and flag for human review",
			SuccessProbability: 0.2,
			EstimatedTime:      0,
		},
		model.RecoveryAction{
			Type:               model.RecoveryManual,
			TargetStage:        stage,
			Reason:             "escalate to manual review",
			SuccessProbability: 1.0,
			EstimatedTime:      0,
		},
	)
	return out
}

// retryBackoff is 1s x 2^retryCount capped at 30s; rate limiting doubles it.
func retryBackoff(class ErrorClass, retryCount int) time.Duration {
	delay := time.Second * (1 << retryCount)
	if class == ErrClassRateLimit {
		delay *= 2
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
