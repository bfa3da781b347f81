package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresGetExtractionHit(t *testing.T) {
	s, mock := newMockStore(t)

	fields := map[string]model.FieldResult{
		"iban": {Value: "AE070331234567890123456", Confidence: 85, Source: model.SourceModel},
	}
	fieldsJSON, err := json.Marshal(fields)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT text_hash, category, fields").
		WithArgs("abc123", "BANK_STATEMENT").
		WillReturnRows(pgxmock.NewRows([]string{"text_hash", "category", "fields", "model", "elapsed_ms", "created_at"}).
			AddRow("abc123", "BANK_STATEMENT", fieldsJSON, "claude-sonnet-4-5-20250929", int64(900), now))

	got, err := s.GetExtraction(context.Background(), "abc123", model.CategoryBankStatement)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.CategoryBankStatement, got.Category)
	assert.Equal(t, "AE070331234567890123456", got.Fields["iban"].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetExtractionMiss(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT text_hash, category, fields").
		WithArgs("missing", "VISA").
		WillReturnRows(pgxmock.NewRows([]string{"text_hash", "category", "fields", "model", "elapsed_ms", "created_at"}))

	got, err := s.GetExtraction(context.Background(), "missing", model.CategoryVisa)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutExtraction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO extraction_cache").
		WithArgs("abc123", "PASSPORT", pgxmock.AnyArg(), "m", int64(100), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutExtraction(context.Background(), CachedExtraction{
		TextHash:  "abc123",
		Category:  model.CategoryPassport,
		Fields:    map[string]model.FieldResult{},
		Model:     "m",
		ElapsedMS: 100,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeExtractions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM extraction_cache").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.PurgeExtractions(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRecord(t *testing.T) {
	s, mock := newMockStore(t)

	rec := model.NewRecord("doc-9")
	rec.Category = model.CategoryEmiratesID
	rec.QA = &model.QAResult{Passed: false, RequiresHumanReview: true}

	mock.ExpectExec("INSERT INTO records").
		WithArgs("doc-9", "EMIRATES_ID", false, true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRecords(t *testing.T) {
	s, mock := newMockStore(t)

	rec := model.NewRecord("doc-7")
	rec.Category = model.CategoryTradeLicense
	recJSON, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM records").
		WithArgs("TRADE_LICENSE", 100).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(recJSON))

	got, err := s.ListRecords(context.Background(), RecordFilter{Category: model.CategoryTradeLicense})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-7", got[0].DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
