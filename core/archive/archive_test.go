package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func TestPackIsDeterministic(t *testing.T) {
	files := map[string]string{
		"project.json":           `{"id":"demo"}`,
		"data/labels.csv":        "record_id\n1\n",
		"reviews/r1/results.sql": "sqlite",
	}
	var first, second bytes.Buffer
	require.NoError(t, Pack(writeTree(t, files), &first))
	require.NoError(t, Pack(writeTree(t, files), &second))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestWriteDirAndExtract(t *testing.T) {
	src := writeTree(t, map[string]string{
		"project.json":    `{"id":"demo"}`,
		"data/labels.csv": "record_id\n1\n",
		"tmp/data.cache":  "cache",
	})
	bundle := filepath.Join(t.TempDir(), "demo.asreview")
	require.NoError(t, WriteDir(src, bundle))
	assert.True(t, IsArchive(bundle))

	ok, err := Contains(bundle, "project.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Contains(bundle, "data")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := List(bundle)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "data/labels.csv", entries[0].Path)
	assert.Len(t, entries[0].SHA256, 64)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Extract(bundle, dst, func(name string) bool {
		return strings.HasPrefix(name, "tmp/")
	}))
	content, err := os.ReadFile(filepath.Join(dst, "data", "labels.csv"))
	require.NoError(t, err)
	assert.Equal(t, "record_id\n1\n", string(content))
	assert.NoFileExists(t, filepath.Join(dst, "tmp", "data.cache"))

	require.Error(t, WriteDir(src, bundle), "existing destination must not be overwritten")
}

func TestRejectsNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.asreview")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0o600))
	assert.False(t, IsArchive(path))

	_, err := Contains(path, "project.json")
	assert.ErrorIs(t, err, ErrNotArchive)
	assert.ErrorIs(t, Extract(path, t.TempDir(), nil), ErrNotArchive)
}

func TestExtractRejectsTraversal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.zip")
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	entry, err := writer.Create("../escape.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))

	dst := filepath.Join(t.TempDir(), "out")
	assert.ErrorIs(t, Extract(path, dst, nil), ErrUnsafeEntry)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dst), "escape.txt"))
}
