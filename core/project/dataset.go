package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/dataset"
	"github.com/davidahmann/sift/core/fsx"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
	"github.com/davidahmann/sift/core/settings"
	"github.com/davidahmann/sift/core/state"
)

// CopyDataset copies the file at src into the data directory and returns
// the file name to pass to AddDataset.
func (project *Project) CopyDataset(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", src, ErrDatasetNotFound)
	}
	filename := filepath.Base(src)
	if err := fsx.CopyFile(src, filepath.Join(project.path, DataDir, filename)); err != nil {
		return "", fmt.Errorf("copy dataset: %w", err)
	}
	return filename, nil
}

// AddDataset registers data/<filename> as the project dataset and starts
// the first review. simulate projects need every record labeled, explore
// projects need at least one label. In oracle mode existing labels become
// prior knowledge of the new review.
func (project *Project) AddDataset(ctx context.Context, filename string) (Review, error) {
	if filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return Review{}, fmt.Errorf("%w: dataset file name %q", ErrDatasetNotFound, filename)
	}
	document, err := project.Document()
	if err != nil {
		return Review{}, err
	}
	data, err := project.loadDataset(filename)
	if err != nil {
		return Review{}, err
	}
	switch document.Mode {
	case schemaproject.ModeSimulate:
		if !data.FullyLabeled() {
			return Review{}, fmt.Errorf("%w: simulate projects need a fully labeled dataset", ErrLabelRequirement)
		}
	case schemaproject.ModeExplore:
		if !data.HasLabels() {
			return Review{}, fmt.Errorf("%w: explore projects need a partially or fully labeled dataset", ErrLabelRequirement)
		}
	}

	if _, err := project.UpdateConfig(map[string]any{
		"dataset_path": filename,
		"name":         strings.TrimSuffix(filename, filepath.Ext(filename)),
	}); err != nil {
		return Review{}, err
	}
	project.CleanTmpFiles()

	reviewID := project.options.NewID()
	reviewDir := filepath.Join(project.path, ReviewsDir, reviewID)
	// Only a directory this call creates is removed on failure.
	removeDir := ""
	if _, err := os.Stat(reviewDir); errors.Is(err, fs.ErrNotExist) {
		removeDir = reviewDir
	}
	store, err := state.Create(ctx, project.path, reviewID)
	if err != nil {
		project.rollbackDataset(document, "", removeDir)
		return Review{}, fmt.Errorf("create review state: %w", err)
	}

	review, err := project.seedReview(ctx, store, reviewID, document.Mode, data)
	if closeErr := store.Close(); closeErr != nil {
		project.logger.Warn("close review state", zap.String("review_id", reviewID), zap.Error(closeErr))
	}
	if err != nil {
		addedReview := ""
		if review.ID != "" {
			addedReview = reviewID
		}
		project.rollbackDataset(document, addedReview, removeDir)
		return Review{}, err
	}
	project.logger.Info("dataset added",
		zap.String("dataset", filename),
		zap.Int("records", data.Len()),
		zap.String("review_id", reviewID))
	return review, nil
}

// seedReview adds the review record and fills its state. The returned
// review has an ID once the record was added, even when seeding failed.
func (project *Project) seedReview(ctx context.Context, store *state.Store, reviewID string, mode Mode, data *dataset.Dataset) (Review, error) {
	review, err := project.AddReview(reviewID, AddReviewOptions{})
	if err != nil {
		return Review{}, err
	}
	if err := store.AddRecordTable(ctx, data.RecordIDs); err != nil {
		return review, err
	}
	if mode == schemaproject.ModeOracle && data.HasLabels() {
		ids, labels := data.Labeled()
		if err := store.AddLabelingData(ctx, ids, labels, nil, true); err != nil {
			return review, err
		}
	}
	return review, nil
}

// rollbackDataset restores the dataset fields of previous and drops the
// review added by a failed AddDataset. Failures are logged.
func (project *Project) rollbackDataset(previous Document, reviewID, reviewDir string) {
	if reviewDir != "" {
		if err := os.RemoveAll(reviewDir); err != nil {
			project.logger.Error("remove review directory", zap.String("path", reviewDir), zap.Error(err))
		}
	}
	_, err := project.Update(func(document *Document) error {
		document.DatasetPath = previous.DatasetPath
		document.Name = previous.Name
		if reviewID != "" {
			if index := document.ReviewIndex(reviewID); index >= 0 {
				document.Reviews = slices.Delete(document.Reviews, index, index+1)
			}
		}
		return nil
	})
	if err != nil {
		project.logger.Error("restore dataset fields", zap.Error(err))
	}
}

// DatasetPath returns the absolute path of the imported dataset, or "" when
// none is registered.
func (project *Project) DatasetPath() (string, error) {
	document, err := project.Document()
	if err != nil {
		return "", err
	}
	if document.DatasetPath == "" {
		return "", nil
	}
	return filepath.Join(project.path, DataDir, document.DatasetPath), nil
}

// RemoveDataset unregisters and deletes the dataset together with the parse
// cache and, if any exist, all reviews.
func (project *Project) RemoveDataset() error {
	if _, err := project.UpdateConfig(map[string]any{"dataset_path": nil}); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(project.path, DataDir)); err != nil {
		return fmt.Errorf("remove dataset: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(project.path, DataDir), 0o750); err != nil {
		return fmt.Errorf("recreate data directory: %w", err)
	}
	project.CleanTmpFiles()

	entries, err := os.ReadDir(filepath.Join(project.path, ReviewsDir))
	if err == nil && len(entries) > 0 {
		return project.DeleteReview(false)
	}
	return nil
}

func (project *Project) loadDataset(filename string) (*dataset.Dataset, error) {
	path := filepath.Join(project.path, DataDir, filename)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, ErrDatasetNotFound)
	}
	data, err := project.options.Loader.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filename, ErrDatasetNotFound)
		}
		return nil, fmt.Errorf("load dataset %s: %w", filename, err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", filename, err)
	}
	return data, nil
}

// ReviewSettings reads the settings snapshot of a review.
func (project *Project) ReviewSettings(reviewID string) (settings.ReviewSettings, error) {
	return settings.ReadFile(filepath.Join(project.path, ReviewsDir, reviewID, settings.FileName))
}

// SetReviewSettings validates reviewSettings and replaces the settings
// snapshot of an existing review.
func (project *Project) SetReviewSettings(reviewID string, reviewSettings settings.ReviewSettings) error {
	if _, err := project.Review(reviewID); err != nil {
		return err
	}
	if err := reviewSettings.Validate(); err != nil {
		return fmt.Errorf("review settings: %w", err)
	}
	return reviewSettings.WriteFile(filepath.Join(project.path, ReviewsDir, reviewID, settings.FileName))
}
