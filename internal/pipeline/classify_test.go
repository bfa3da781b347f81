package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/model"
)

func TestClassifyModelPath(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(jsonResponse(t, map[string]any{
		"documentType":     "PASSPORT",
		"confidence":       92,
		"alternativeTypes": []string{"ID_CARD"},
		"language":         "en",
		"hasPhoto":         true,
	}), nil)

	c := NewClassifier(client, testRegistry(t), "test-model")
	rec := model.NewRecord("doc-1")
	rec.Text = passportText

	cls := c.Classify(context.Background(), rec)
	assert.Equal(t, model.CategoryPassport, cls.Category)
	assert.Equal(t, 92, cls.Confidence)
	require.Len(t, cls.Alternatives, 1)
	assert.Equal(t, model.CategoryIDCard, cls.Alternatives[0].Category)
	assert.Equal(t, "en", cls.Language)
	assert.True(t, cls.HasPhoto)
	client.AssertExpectations(t)
}

func TestClassifyNormalizesLooseCategoryNames(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(jsonResponse(t, map[string]any{
		"documentType": "emirates id",
		"confidence":   80,
	}), nil)

	c := NewClassifier(client, testRegistry(t), "test-model")
	rec := model.NewRecord("doc-1")
	rec.Text = "ID text"

	cls := c.Classify(context.Background(), rec)
	assert.Equal(t, model.CategoryEmiratesID, cls.Category)
}

func TestClassifyFallsBackToPatternsOnModelError(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	c := NewClassifier(client, testRegistry(t), "test-model")
	rec := model.NewRecord("doc-1")
	rec.Text = passportText

	cls := c.Classify(context.Background(), rec)
	assert.Equal(t, model.CategoryPassport, cls.Category)
	assert.Greater(t, cls.Confidence, 10)
	assert.LessOrEqual(t, cls.Confidence, 95)
}

func TestClassifyFallsBackToPatternsOnMalformedJSON(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("not json at all"), nil)

	c := NewClassifier(client, testRegistry(t), "test-model")
	rec := model.NewRecord("doc-1")
	rec.Text = passportText

	cls := c.Classify(context.Background(), rec)
	assert.Equal(t, model.CategoryPassport, cls.Category)
}

func TestClassifyPatternsZeroMatches(t *testing.T) {
	c := NewClassifier(nil, testRegistry(t), "test-model")

	cls := c.classifyPatterns("completely unrelated grocery list: milk, eggs, bread")
	assert.Equal(t, model.CategoryUnknown, cls.Category)
	assert.Equal(t, 10, cls.Confidence)
	assert.Empty(t, cls.Alternatives)
}

func TestClassifyPatternsCapsAt95(t *testing.T) {
	c := NewClassifier(nil, testRegistry(t), "test-model")

	cls := c.classifyPatterns(passportText + "\nMachine Readable Zone\nP<UTOJANE<<DOE\nSurname: DOE")
	assert.LessOrEqual(t, cls.Confidence, 95)
	assert.Equal(t, model.CategoryPassport, cls.Category)
}

func TestClassifyAlternativesCappedAtTwo(t *testing.T) {
	c := NewClassifier(nil, testRegistry(t), "test-model")

	// Text matching several categories at once.
	text := passportText + "\nInvoice Total: 100 AED\nTrade License No: 12345\nVisa Number: 99\nIBAN AE07"
	cls := c.classifyPatterns(text)
	assert.LessOrEqual(t, len(cls.Alternatives), 2)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "Passport Number A123", "en"},
		{"arabic", "الإمارات العربية المتحدة", "ar"},
		{"chinese", "中华人民共和国护照", "zh"},
		{"devanagari", "भारत गणराज्य", "hi"},
		{"empty", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectLanguage(tt.text))
		})
	}
}

func TestDetectPhoto(t *testing.T) {
	assert.True(t, detectPhoto("Holder's photograph appears on the left"))
	assert.False(t, detectPhoto("no imagery mentioned here"))
}
