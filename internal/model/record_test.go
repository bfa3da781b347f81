package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	rec := NewRecord("doc-1")

	assert.Equal(t, "doc-1", rec.DocumentID)
	assert.Equal(t, CategoryUnknown, rec.Category)
	assert.Equal(t, NodeClassify, rec.Control.CurrentNode)
	assert.False(t, rec.Control.StartedAt.IsZero())
	assert.False(t, rec.Terminal())
}

func TestAppendHistoryAndErrors(t *testing.T) {
	rec := NewRecord("doc-1")

	rec.AppendHistory(NodeClassify, "classified", "PASSPORT")
	rec.AppendHistory(NodeExtract, "extracted", "")
	rec.AppendError(NodeExtract, "network_error", "connection refused", false)

	require.Len(t, rec.History, 2)
	assert.Equal(t, NodeClassify, rec.History[0].Stage)
	assert.Equal(t, "classified", rec.History[0].Action)
	assert.False(t, rec.History[0].Timestamp.IsZero())

	require.Len(t, rec.Errors, 1)
	assert.Equal(t, "network_error", rec.Errors[0].Kind)
	assert.False(t, rec.Errors[0].Fatal)
}

func TestCompleteNode(t *testing.T) {
	rec := NewRecord("doc-1")

	rec.CompleteNode(NodeClassify, NodeExtract)
	rec.CompleteNode(NodeExtract, NodeMap)

	assert.Equal(t, []Node{NodeClassify, NodeExtract}, rec.Control.CompletedNodes)
	assert.Equal(t, NodeMap, rec.Control.CurrentNode)
	assert.False(t, rec.Terminal())

	rec.Control.CurrentNode = NodeEnd
	assert.True(t, rec.Terminal())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-5))
	assert.Equal(t, 0, ClampConfidence(0))
	assert.Equal(t, 55, ClampConfidence(55))
	assert.Equal(t, 100, ClampConfidence(100))
	assert.Equal(t, 100, ClampConfidence(140))
}

func TestFieldResultClamped(t *testing.T) {
	f := FieldResult{Value: "A12345678", Confidence: 120, Source: SourceModel}
	clamped := f.Clamped()

	assert.Equal(t, 100, clamped.Confidence)
	// Original is untouched.
	assert.Equal(t, 120, f.Confidence)
	assert.Equal(t, f.Value, clamped.Value)
}

func TestQAResultHasErrors(t *testing.T) {
	r := &QAResult{Issues: []QAIssue{
		{Field: "a", Severity: SeverityWarning},
		{Field: "b", Severity: SeverityInfo},
	}}
	assert.False(t, r.HasErrors())

	r.Issues = append(r.Issues, QAIssue{Field: "c", Severity: SeverityError})
	assert.True(t, r.HasErrors())
}
