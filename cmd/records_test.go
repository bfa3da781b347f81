package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docintel/internal/model"
)

func TestWriteWorkbook(t *testing.T) {
	records := []model.Record{
		{
			DocumentID: "doc-1",
			FileName:   "passport.pdf",
			Category:   model.CategoryPassport,
			Result: &model.Summary{
				Success:           true,
				OverallConfidence: 92,
				Fields: map[string]any{
					"passport_number": "A12345678",
					"full_name":       "JANE MARY DOE",
				},
				FieldConfidence: map[string]int{
					"passport_number": 95,
					"full_name":       90,
				},
			},
		},
		{
			DocumentID: "doc-2",
			FileName:   "blurry.jpg",
			Category:   model.CategoryUnknown,
		},
	}

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, writeWorkbook(path, records))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	summary, ok := f.Sheet["Records"]
	require.True(t, ok)
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, "Document ID", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "doc-1", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "PASSPORT", summary.Rows[1].Cells[2].String())
	assert.Equal(t, "true", summary.Rows[1].Cells[3].String())
	assert.Equal(t, "92", summary.Rows[1].Cells[4].String())
	// Record without a result still appears, with empty outcome columns.
	assert.Equal(t, "doc-2", summary.Rows[2].Cells[0].String())
	assert.Equal(t, "", summary.Rows[2].Cells[3].String())

	fields, ok := f.Sheet["Fields"]
	require.True(t, ok)
	require.Len(t, fields.Rows, 3)
	// Field rows are sorted by name.
	assert.Equal(t, "full_name", fields.Rows[1].Cells[1].String())
	assert.Equal(t, "JANE MARY DOE", fields.Rows[1].Cells[2].String())
	assert.Equal(t, "passport_number", fields.Rows[2].Cells[1].String())
	assert.Equal(t, "95", fields.Rows[2].Cells[3].String())
}
