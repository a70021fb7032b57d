package simulate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidahmann/sift/core/archive"
	"github.com/davidahmann/sift/core/dataset"
	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/project"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
	"github.com/davidahmann/sift/core/settings"
	"github.com/davidahmann/sift/core/state"
)

const labeledCSV = "record_id,title,abstract,label_included\n" +
	"10,Alpha,first,0\n" +
	"11,Beta,second,1\n" +
	"12,Gamma,third,0\n" +
	"13,Delta,fourth,0\n" +
	"14,Epsilon,fifth,1\n" +
	"15,Zeta,sixth,0\n"

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labeled.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testDataset() *dataset.Dataset {
	return &dataset.Dataset{
		RecordIDs: []int64{10, 11, 12, 13, 14, 15},
		Titles:    make([]string, 6),
		Abstracts: make([]string, 6),
		Authors:   make([]string, 6),
		Labels:    []int{0, 1, 0, 0, 1, 0},
	}
}

func TestSelectPriorsByIndexAndRecordID(t *testing.T) {
	data := testDataset()

	ids, labels, err := SelectPriors(data, PriorSelection{Indices: []int{1, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 10}, ids)
	assert.Equal(t, []int{1, 0}, labels)

	ids, labels, err = SelectPriors(data, PriorSelection{RecordIDs: []int64{14, 15}})
	require.NoError(t, err)
	assert.Equal(t, []int64{14, 15}, ids)
	assert.Equal(t, []int{1, 0}, labels)
}

func TestSelectPriorsErrors(t *testing.T) {
	data := testDataset()

	_, _, err := SelectPriors(data, PriorSelection{Indices: []int{0}, RecordIDs: []int64{10}})
	require.ErrorIs(t, err, ErrPriorConflict)
	_, _, err = SelectPriors(data, PriorSelection{Indices: []int{6}})
	require.ErrorIs(t, err, ErrPriorNotFound)
	_, _, err = SelectPriors(data, PriorSelection{RecordIDs: []int64{99}})
	require.ErrorIs(t, err, ErrPriorNotFound)
	_, _, err = SelectPriors(data, PriorSelection{NIncluded: 3, NExcluded: 1})
	require.ErrorIs(t, err, ErrNotEnoughPriors)

	data.Labels[2] = dataset.LabelNA
	_, _, err = SelectPriors(data, PriorSelection{Indices: []int{2}})
	require.ErrorIs(t, err, ErrNotEnoughPriors)
}

func TestSelectPriorsSamplingIsSeeded(t *testing.T) {
	data := testDataset()
	selection := PriorSelection{NIncluded: 1, NExcluded: 2, Seed: 42}

	first, labels, err := SelectPriors(data, selection)
	require.NoError(t, err)
	second, _, err := SelectPriors(data, selection)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []int{1, 0, 0}, labels)
}

func TestSimulateWritesFinishedBundle(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "run.asreview")
	reviewSettings := settings.Default()
	reviewSettings.StopIf = settings.StopIfNever
	reviewSettings.NInstances = 2

	summary, err := Simulate(ctx, Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   out,
		Settings:    reviewSettings,
		Priors:      PriorSelection{RecordIDs: []int64{11, 10}},
		Options:     project.Options{Logger: zaptest.NewLogger(t)},
	})
	require.NoError(t, err)
	assert.Equal(t, "run", summary.ProjectID)
	assert.Equal(t, 2, summary.Priors)
	assert.Equal(t, 4, summary.Labeled)
	assert.FileExists(t, out)
	assert.NoDirExists(t, out+".tmp")

	imported, err := project.Import(out, t.TempDir(), project.ImportOptions{}, project.Options{})
	require.NoError(t, err)
	document, err := imported.Document()
	require.NoError(t, err)
	assert.Equal(t, schemaproject.ModeSimulate, document.Mode)
	require.Len(t, document.Reviews, 1)
	assert.Equal(t, schemaproject.StatusFinished, document.Reviews[0].Status)
	assert.NotNil(t, document.Reviews[0].EndTime)

	stored, err := imported.ReviewSettings(summary.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, reviewSettings, stored)

	store, err := state.Open(ctx, imported.Path(), summary.ReviewID)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	results, err := store.Results(ctx)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, state.QueryStrategyPrior, results[0].QueryStrategy)
	assert.Equal(t, int64(11), results[0].RecordID)
	replayed := []int64{}
	for _, result := range results[2:] {
		replayed = append(replayed, result.RecordID)
		assert.Equal(t, reviewSettings.Classifier, result.Classifier)
	}
	assert.Equal(t, []int64{12, 13, 14, 15}, replayed)
	assert.Equal(t, 2, results[2].TrainingSet)
	assert.Equal(t, 4, results[4].TrainingSet)
}

func TestSimulateStopsWhenAllRelevantFound(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "min.asreview")
	reviewSettings := settings.Default()

	summary, err := Simulate(ctx, Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   out,
		Settings:    reviewSettings,
		Priors:      PriorSelection{Indices: []int{0, 1}},
	})
	require.NoError(t, err)
	// Record 14 is the last relevant one.
	assert.Equal(t, 3, summary.Labeled)
}

func TestSimulateStopsAfterQueries(t *testing.T) {
	reviewSettings := settings.Default()
	reviewSettings.StopIf = 3
	reviewSettings.NInstances = 2

	summary, err := Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   filepath.Join(t.TempDir(), "three.asreview"),
		Settings:    reviewSettings,
		Priors:      PriorSelection{NIncluded: 1, NExcluded: 1, Seed: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Labeled)
}

func TestSimulateRecordsEngineFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "broken.asreview")
	failure := errors.New("engine exploded")

	_, err := Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   out,
		Settings:    settings.Default(),
		Engine: EngineFunc(func(context.Context, Run) error {
			return failure
		}),
	})
	require.ErrorIs(t, err, failure)
	assert.NoFileExists(t, out)

	scratch, err := project.Open(out+".tmp", project.Options{})
	require.NoError(t, err)
	document, err := scratch.Document()
	require.NoError(t, err)
	assert.Equal(t, schemaproject.StatusError, document.Reviews[0].Status)
	record, ok, err := scratch.ErrorRecord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "engine exploded", record.Message)
	assert.Equal(t, "errorString", record.Type)
}

func TestSimulateRejectsBadRequests(t *testing.T) {
	dir := t.TempDir()
	_, err := Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   filepath.Join(dir, "out.zip"),
		Settings:    settings.Default(),
	})
	require.ErrorIs(t, err, project.ErrInvalidExportPath)

	existing := filepath.Join(dir, "taken.asreview")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o600))
	_, err = Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   existing,
		Settings:    settings.Default(),
	})
	require.ErrorIs(t, err, ErrOutputExists)

	partly := "record_id,title,label_included\n1,a,1\n2,b,\n"
	_, err = Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, partly),
		StateFile:   filepath.Join(dir, "partly.asreview"),
		Settings:    settings.Default(),
	})
	require.ErrorIs(t, err, project.ErrLabelRequirement)
}

func TestReplayRejectsUnlabeledRecords(t *testing.T) {
	ctx := context.Background()
	simulation, err := project.Create(filepath.Join(t.TempDir(), "oracle"), project.CreateOptions{Mode: schemaproject.ModeOracle}, project.Options{})
	require.NoError(t, err)
	src := writeDataset(t, "record_id,title\n1,a\n2,b\n")
	filename, err := simulation.CopyDataset(src)
	require.NoError(t, err)
	review, err := simulation.AddDataset(ctx, filename)
	require.NoError(t, err)
	data, err := simulation.ReadData(project.DefaultReadDataOptions())
	require.NoError(t, err)

	reviewSettings := settings.Default()
	reviewSettings.StopIf = settings.StopIfNever
	err = Replay{}.Review(ctx, Run{Project: simulation, ReviewID: review.ID, Dataset: data, Settings: reviewSettings})
	require.ErrorIs(t, err, ErrUnlabeledRecord)
}

func TestArchiveOfSimulationHasNoScratchFiles(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clean.asreview")
	_, err := Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   out,
		Settings:    settings.Default(),
	})
	require.NoError(t, err)
	entries, err := archive.List(out)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Path, project.TmpDir+"/")
		assert.NotEqual(t, project.ErrorFileName, entry.Path)
	}
}

func TestClassify(t *testing.T) {
	err := Classify(fmt.Errorf("select: %w", ErrPriorNotFound))
	assert.Equal(t, coreerrors.CategoryInvalidInput, coreerrors.CategoryOf(err))
	assert.Equal(t, "prior_not_found", coreerrors.CodeOf(err))

	err = Classify(ErrOutputExists)
	assert.Equal(t, coreerrors.CategoryAlreadyExists, coreerrors.CategoryOf(err))

	err = Classify(project.ErrLabelRequirement)
	assert.Equal(t, "label_requirement", coreerrors.CodeOf(err))
}

func TestSimulateEngineFailureIsLifecycle(t *testing.T) {
	_, err := Simulate(context.Background(), Request{
		DatasetPath: writeDataset(t, labeledCSV),
		StateFile:   filepath.Join(t.TempDir(), "fails.asreview"),
		Settings:    settings.Default(),
		Engine: EngineFunc(func(context.Context, Run) error {
			return errors.New("boom")
		}),
	})
	assert.Equal(t, coreerrors.CategoryLifecycle, coreerrors.CategoryOf(err))
	assert.Equal(t, "review_failed", coreerrors.CodeOf(err))
}
