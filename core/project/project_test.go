package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/lock"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

const (
	fullyLabeledCSV = "record_id,title,abstract,label_included\n" +
		"1,Alpha,first abstract,1\n" +
		"2,Beta,second abstract,0\n" +
		"3,Gamma,third abstract,0\n" +
		"4,Delta,fourth abstract,1\n"
	partlyLabeledCSV = "record_id,title,abstract,label_included\n" +
		"1,Alpha,first abstract,1\n" +
		"2,Beta,second abstract,\n" +
		"3,Gamma,third abstract,0\n"
	unlabeledCSV = "record_id,title,abstract\n" +
		"1,Alpha,first abstract\n" +
		"2,Beta,second abstract\n"
)

// testOptions pins the clock and hands out sequential ids.
func testOptions(t *testing.T) Options {
	t.Helper()
	var counter atomic.Int64
	return Options{
		Logger:  zaptest.NewLogger(t),
		Version: "1.2.3",
		Lock:    lock.Options{Timeout: time.Second, Retry: 5 * time.Millisecond},
		Now:     func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			return "id" + string(rune('a'+counter.Add(1)-1))
		},
	}
}

func createProject(t *testing.T, mode Mode) *Project {
	t.Helper()
	project, err := Create(filepath.Join(t.TempDir(), "demo"), CreateOptions{Mode: mode}, testOptions(t))
	require.NoError(t, err)
	return project
}

// withDataset creates a project, copies content in as data.csv and adds it.
func withDataset(t *testing.T, mode Mode, content string) (*Project, Review) {
	t.Helper()
	project := createProject(t, mode)
	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o600))
	filename, err := project.CopyDataset(src)
	require.NoError(t, err)
	review, err := project.AddDataset(context.Background(), filename)
	require.NoError(t, err)
	return project, review
}

func TestCreateWritesLayoutAndDocument(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)

	assert.True(t, Exists(project.Path()))
	for _, dir := range []string{DataDir, FeatureMatricesDir, ReviewsDir} {
		info, err := os.Stat(filepath.Join(project.Path(), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
	document, err := project.Document()
	require.NoError(t, err)
	assert.Equal(t, "demo", document.ID)
	assert.Equal(t, "demo", document.Name)
	assert.Equal(t, schemaproject.ModeOracle, document.Mode)
	assert.Equal(t, "1.2.3", document.Version)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(), document.CreatedAtUnix)
	assert.Empty(t, document.Reviews)
	assert.Empty(t, document.FeatureMatrices)
	assert.NoFileExists(t, filepath.Join(project.Path(), LockFileName))
}

func TestCreateRejectsInvalidModeWithoutLeavingFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo")
	_, err := Create(path, CreateOptions{Mode: "lab"}, testOptions(t))
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.NoDirExists(t, path)
}

func TestCreateRollsBackInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo")
	_, err := Create(path, CreateOptions{ID: `a\b`, Mode: schemaproject.ModeOracle}, testOptions(t))
	require.ErrorIs(t, err, ErrInvalidDocument)
	assert.NoDirExists(t, path)
}

func TestCreateRefusesExistingPath(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	_, err := Create(project.Path(), CreateOptions{Mode: schemaproject.ModeOracle}, testOptions(t))
	require.ErrorIs(t, err, ErrProjectExists)
}

func TestOpenMissingProject(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nothing"), Options{})
	require.ErrorIs(t, err, ErrProjectNotFound)
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nothing")))
}

func TestListAndOpenByID(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"beta", "alpha"} {
		_, err := Create(filepath.Join(root, id), CreateOptions{Mode: schemaproject.ModeExplore}, testOptions(t))
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-project"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".sift-import-123"), 0o750))

	documents, err := List(root, Options{})
	require.NoError(t, err)
	require.Len(t, documents, 2)
	assert.Equal(t, "alpha", documents[0].ID)
	assert.Equal(t, "beta", documents[1].ID)

	project, err := OpenByID(root, "beta", Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "beta"), project.Path())

	_, err = OpenByID(root, "../beta", Options{})
	require.ErrorIs(t, err, ErrProjectNotFound)

	documents, err = List(filepath.Join(root, "missing"), Options{})
	require.NoError(t, err)
	assert.Empty(t, documents)
}

func TestNewIDIsHex(t *testing.T) {
	id := NewID()
	assert.Regexp(t, `^[0-9a-f]{32}$`, id)
	assert.NotEqual(t, id, NewID())
}

func TestClassify(t *testing.T) {
	err := Classify(errors.Join(errors.New("context"), ErrConflict))
	assert.Equal(t, coreerrors.CategoryStateContention, coreerrors.CategoryOf(err))
	assert.Equal(t, "document_conflict", coreerrors.CodeOf(err))
	assert.True(t, coreerrors.RetryableOf(err))
	require.ErrorIs(t, err, ErrConflict)

	err = Classify(ErrInvalidMode)
	assert.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
	assert.NotEmpty(t, coreerrors.HintOf(err))

	plain := errors.New("plain")
	assert.Equal(t, plain, Classify(plain))
	assert.NoError(t, Classify(nil))
}
