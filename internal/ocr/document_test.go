package ocr

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) ExtractText(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

func TestLoadDocumentText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("PASSPORT\nName: JANE"), 0644))

	doc, err := LoadDocument(context.Background(), &stubExtractor{}, path)
	require.NoError(t, err)
	assert.Equal(t, "text", doc.FileType)
	assert.Equal(t, "doc.txt", doc.FileName)
	assert.Equal(t, "PASSPORT\nName: JANE", doc.Text)
	assert.Nil(t, doc.Image)
}

func TestLoadDocumentPDFUsesExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))

	doc, err := LoadDocument(context.Background(), &stubExtractor{text: "extracted"}, path)
	require.NoError(t, err)
	assert.Equal(t, "pdf", doc.FileType)
	assert.Equal(t, "extracted", doc.Text)
}

func TestLoadDocumentImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.jpg")
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	require.NoError(t, os.WriteFile(path, raw, 0644))

	doc, err := LoadDocument(context.Background(), &stubExtractor{}, path)
	require.NoError(t, err)
	assert.Equal(t, "image", doc.FileType)
	require.NotNil(t, doc.Image)
	assert.Equal(t, "image/jpeg", doc.Image.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), doc.Image.Data)
	assert.Empty(t, doc.Text)
}

func TestLoadDocumentUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0644))

	_, err := LoadDocument(context.Background(), &stubExtractor{}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
