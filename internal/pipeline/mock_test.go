package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/schema"
	"github.com/sells-group/docintel/internal/store"
	"github.com/sells-group/docintel/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// textResponse wraps text in a single-block message response.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// jsonResponse marshals v and wraps it in a message response.
func jsonResponse(t *testing.T, v any) *anthropic.MessageResponse {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return textResponse(string(data))
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetExtraction(ctx context.Context, textHash string, category model.Category) (*store.CachedExtraction, error) {
	args := m.Called(ctx, textHash, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.CachedExtraction), args.Error(1)
}

func (m *mockStore) PutExtraction(ctx context.Context, entry store.CachedExtraction) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockStore) PurgeExtractions(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ExtractionStats(ctx context.Context) (*store.CacheStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.CacheStats), args.Error(1)
}

func (m *mockStore) SaveRecord(ctx context.Context, rec *model.Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) GetRecord(ctx context.Context, documentID string) (*model.Record, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *mockStore) ListRecords(ctx context.Context, filter store.RecordFilter) ([]model.Record, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Record), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockStore) Close() error { return m.Called().Error(0) }

// --- Shared helpers ---

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	return reg
}

// passportText is a plausible OCR dump of a passport biodata page.
const passportText = `REPUBLIC OF UTOPIA
PASSPORT

Passport No: A12345678
Full Name: JANE MARY DOE
Nationality: UTOPIAN
Date of Birth: 15/06/1990
Date of Issue: 01/01/2024
Date of Expiry: 01/01/2034
Place of Birth: NEW HAVEN
Gender: F
`
