package model

import "time"

// Node names for the orchestrator state machine. NodeEnd is the only
// terminal node; every run reaches it exactly once.
type Node string

const (
	NodeClassify     Node = "classify"
	NodeExtract      Node = "extract"
	NodeMap          Node = "map"
	NodeQA           Node = "qa"
	NodeErrorRecover Node = "errorRecover"
	NodeFinalize     Node = "finalize"
	NodeEnd          Node = "end"
)

// MaxRetries caps Control.RetryCount for a single run.
const MaxRetries = 3

// RecoveryType enumerates the remediations the recovery coordinator can pick.
type RecoveryType string

const (
	RecoveryRetry    RecoveryType = "retry"
	RecoveryFallback RecoveryType = "fallback"
	RecoverySkip     RecoveryType = "skip"
	RecoveryManual   RecoveryType = "manual"
)

// RecoveryAction is a single remediation candidate selected by the
// recovery coordinator and executed by the orchestrator.
type RecoveryAction struct {
	Type               RecoveryType   `json:"type"`
	TargetStage        Node           `json:"target_stage"`
	Reason             string         `json:"reason"`
	SuccessProbability float64        `json:"success_probability"`
	EstimatedTime      time.Duration  `json:"estimated_time_ms"`
	Parameters         map[string]any `json:"parameters,omitempty"`
}

// Control tracks the orchestrator's position within a run.
type Control struct {
	CurrentNode    Node      `json:"current_node"`
	CompletedNodes []Node    `json:"completed_nodes"`
	RetryCount     int       `json:"retry_count"`
	StartedAt      time.Time `json:"started_at"`
	// FailedStage is the stage whose failure routed the run into
	// errorRecover; recovery retries resume there.
	FailedStage Node `json:"failed_stage,omitempty"`
	// TimeoutScale widens the per-call timeout of the next extract attempt
	// after a timeout failure. Zero means no widening; the extract stage
	// consumes and resets it.
	TimeoutScale int `json:"timeout_scale,omitempty"`
}

// HistoryEntry is an append-only trace of stage activity.
type HistoryEntry struct {
	Stage     Node      `json:"stage"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StageError is an append-only record of a stage failure.
type StageError struct {
	Stage     Node      `json:"stage"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the terminal result attached to a finished record.
type Summary struct {
	Success           bool           `json:"success"`
	Fields            map[string]any `json:"fields"`
	FieldConfidence   map[string]int `json:"field_confidence"`
	OverallConfidence int            `json:"overall_confidence"`
	ProcessingTime    time.Duration  `json:"processing_time_ms"`
	ReviewReasons     []string       `json:"review_reasons,omitempty"`
}

// ImagePayload carries an optional document image for multimodal calls.
type ImagePayload struct {
	MediaType string `json:"media_type"` // e.g. "image/jpeg"
	Data      string `json:"data"`       // base64-encoded bytes
}

// Record is the single mutable processing record threaded through a run.
// Stages never mutate it directly; they return deltas the orchestrator merges.
type Record struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`

	Text  string        `json:"-"`
	Image *ImagePayload `json:"-"`
	// OCRConfidence is the overall OCR quality in [0,100]; 100 (or unset)
	// means no discount is applied to pattern-sourced confidences.
	OCRConfidence int `json:"ocr_confidence,omitempty"`

	Category       Category               `json:"category"`
	Classification *Classification        `json:"classification,omitempty"`
	Extracted      map[string]FieldResult `json:"extracted_fields,omitempty"`
	Mapping        *MappingResult         `json:"mapped_fields,omitempty"`
	QA             *QAResult              `json:"quality_assessment,omitempty"`

	Control Control        `json:"control"`
	History []HistoryEntry `json:"agent_history"`
	Errors  []StageError   `json:"errors"`
	Result  *Summary       `json:"results,omitempty"`
}

// NewRecord creates a record positioned at the initial node.
func NewRecord(documentID string) *Record {
	return &Record{
		DocumentID: documentID,
		Category:   CategoryUnknown,
		Control: Control{
			CurrentNode: NodeClassify,
			StartedAt:   time.Now().UTC(),
		},
	}
}

// AppendHistory adds a timestamped trace entry. History is never truncated.
func (r *Record) AppendHistory(stage Node, action, detail string) {
	r.History = append(r.History, HistoryEntry{
		Stage:     stage,
		Action:    action,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// AppendError adds a timestamped stage error. Errors are never truncated.
func (r *Record) AppendError(stage Node, kind, message string, fatal bool) {
	r.Errors = append(r.Errors, StageError{
		Stage:     stage,
		Kind:      kind,
		Message:   message,
		Fatal:     fatal,
		Timestamp: time.Now().UTC(),
	})
}

// CompleteNode marks a node finished and moves the cursor.
func (r *Record) CompleteNode(node, next Node) {
	r.Control.CompletedNodes = append(r.Control.CompletedNodes, node)
	r.Control.CurrentNode = next
}

// Terminal reports whether the run has reached its end state.
func (r *Record) Terminal() bool {
	return r.Control.CurrentNode == NodeEnd
}
