package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/docintel/pkg/anthropic"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose wrapper", `Here is the result: {"a":1} Hope that helps.`, `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestExtractTextJoinsBlocks(t *testing.T) {
	resp := &anthropic.MessageResponse{Content: []anthropic.ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", extractText(resp))
	assert.Equal(t, "", extractText(nil))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", truncateText("abc", 10))
	assert.Equal(t, "ab", truncateText("abcdef", 2))
	assert.Equal(t, "abcdef", truncateText("abcdef", 0))
}

func TestStringifyValue(t *testing.T) {
	assert.Equal(t, "", stringifyValue(nil))
	assert.Equal(t, "a12345678", stringifyValue("  A12345678 "))
	assert.Equal(t, "42", stringifyValue(float64(42)))
	assert.Equal(t, "42.5", stringifyValue(42.5))
	assert.Equal(t, "true", stringifyValue(true))
}

func TestValueStringKeepsCase(t *testing.T) {
	assert.Equal(t, "A12345678", valueString(" A12345678 "))
	assert.Equal(t, "7", valueString(float64(7)))
	assert.Equal(t, "", valueString(nil))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("same", "same"))
	assert.Equal(t, 1.0, similarity("", ""))
	assert.InDelta(t, 0.8, similarity("abcde", "abcdx"), 0.001)
	assert.Less(t, similarity("abc", "xyz"), 0.01)
}
