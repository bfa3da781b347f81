package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.pdf")
	touch(t, dir, "a.txt")
	touch(t, dir, "photo.JPG")
	touch(t, dir, "notes.docx")
	touch(t, dir, "data.csv")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	files, err := collectFiles(dir, 0)
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "a.txt"), files[0])
	assert.Equal(t, filepath.Join(dir, "b.pdf"), files[1])
	assert.Equal(t, filepath.Join(dir, "photo.JPG"), files[2])
}

func TestCollectFilesLimit(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.txt")
	touch(t, dir, "b.txt")
	touch(t, dir, "c.txt")

	files, err := collectFiles(dir, 2)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCollectFilesMissingDir(t *testing.T) {
	_, err := collectFiles(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
