package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
	"github.com/davidahmann/sift/core/settings"
)

// transitions lists the statuses reachable from each status. running and
// review are both active states and may alternate. Leaving error is only
// possible through RemoveError.
var transitions = map[ReviewStatus][]ReviewStatus{
	schemaproject.StatusSetup:    {schemaproject.StatusRunning, schemaproject.StatusReview, schemaproject.StatusError},
	schemaproject.StatusRunning:  {schemaproject.StatusReview, schemaproject.StatusFinished, schemaproject.StatusError},
	schemaproject.StatusReview:   {schemaproject.StatusRunning, schemaproject.StatusFinished, schemaproject.StatusError},
	schemaproject.StatusFinished: {schemaproject.StatusReview, schemaproject.StatusError},
	schemaproject.StatusError:    {},
}

// CanTransition reports whether a review may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to ReviewStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from == to || slices.Contains(transitions[from], to)
}

type AddReviewOptions struct {
	// StartTime defaults to now.
	StartTime time.Time
	// Status defaults to setup.
	Status ReviewStatus
	// Settings defaults to settings.Default().
	Settings *settings.ReviewSettings
}

// AddReview snapshots the review settings to reviews/<id>/ and appends a
// review record.
func (project *Project) AddReview(id string, options AddReviewOptions) (Review, error) {
	if err := checkID(id); err != nil {
		return Review{}, fmt.Errorf("review id: %w", err)
	}
	status := options.Status
	if status == "" {
		status = schemaproject.StatusSetup
	}
	if !status.Valid() {
		return Review{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	start := options.StartTime
	if start.IsZero() {
		start = project.options.Now()
	}
	reviewSettings := settings.Default()
	if options.Settings != nil {
		reviewSettings = *options.Settings
	}
	if err := reviewSettings.Validate(); err != nil {
		return Review{}, fmt.Errorf("review settings: %w", err)
	}

	document, err := project.Document()
	if err != nil {
		return Review{}, err
	}
	if document.ReviewIndex(id) >= 0 {
		return Review{}, fmt.Errorf("%s: %w", id, ErrReviewExists)
	}
	reviewDir := filepath.Join(project.path, ReviewsDir, id)
	if err := os.MkdirAll(reviewDir, 0o750); err != nil {
		return Review{}, fmt.Errorf("create review directory: %w", err)
	}
	if err := reviewSettings.WriteFile(filepath.Join(reviewDir, settings.FileName)); err != nil {
		return Review{}, err
	}

	review := Review{ID: id, StartTime: start, Status: status}
	_, err = project.Update(func(document *Document) error {
		if document.ReviewIndex(id) >= 0 {
			return fmt.Errorf("%s: %w", id, ErrReviewExists)
		}
		document.Reviews = append(document.Reviews, review)
		return nil
	})
	if err != nil {
		return Review{}, err
	}
	project.logger.Info("review added", zap.String("review_id", id), zap.String("status", string(status)))
	return review, nil
}

// ReviewUpdate lists the fields to change; zero fields are left alone.
type ReviewUpdate struct {
	Status    ReviewStatus
	StartTime *time.Time
	EndTime   *time.Time
}

// UpdateReview changes the review with id, or the first review when id is
// empty. Other reviews and the order of the list are not touched.
func (project *Project) UpdateReview(id string, update ReviewUpdate) (Review, error) {
	if update.Status != "" && !update.Status.Valid() {
		return Review{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, update.Status)
	}
	return project.updateReview(id, func(review *Review) error {
		if update.Status != "" {
			if !CanTransition(review.Status, update.Status) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, review.Status, update.Status)
			}
			review.Status = update.Status
		}
		if update.StartTime != nil {
			review.StartTime = *update.StartTime
		}
		if update.EndTime != nil {
			end := *update.EndTime
			review.EndTime = &end
		}
		return nil
	})
}

func (project *Project) updateReview(id string, fn func(*Review) error) (Review, error) {
	var updated Review
	_, err := project.Update(func(document *Document) error {
		index := document.ReviewIndex(id)
		if index < 0 {
			if id == "" {
				return fmt.Errorf("project has no reviews: %w", ErrReviewNotFound)
			}
			return fmt.Errorf("%s: %w", id, ErrReviewNotFound)
		}
		review := document.Reviews[index]
		if err := fn(&review); err != nil {
			return err
		}
		document.Reviews[index] = review
		updated = review
		return nil
	})
	if err != nil {
		return Review{}, err
	}
	return updated, nil
}

// MarkReviewFinished sets status finished and the end time to now.
func (project *Project) MarkReviewFinished(id string) (Review, error) {
	end := project.options.Now()
	return project.UpdateReview(id, ReviewUpdate{Status: schemaproject.StatusFinished, EndTime: &end})
}

// DeleteReview removes all reviews, feature matrices and the error record.
// Removal failures are logged and skipped so the project stays usable; the
// directories are recreated empty unless removeFolders is set.
func (project *Project) DeleteReview(removeFolders bool) error {
	for _, dir := range []string{FeatureMatricesDir, ReviewsDir} {
		path := filepath.Join(project.path, dir)
		if err := os.RemoveAll(path); err != nil {
			project.logger.Error("remove review data", zap.String("path", path), zap.Error(err))
			continue
		}
		if !removeFolders {
			if err := os.MkdirAll(path, 0o750); err != nil {
				project.logger.Error("recreate review data directory", zap.String("path", path), zap.Error(err))
			}
		}
	}
	if err := os.Remove(project.errorPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		project.logger.Error("remove error record", zap.Error(err))
	}
	_, err := project.Update(func(document *Document) error {
		document.Reviews = []Review{}
		document.FeatureMatrices = []FeatureMatrix{}
		return nil
	})
	return err
}

func (project *Project) Reviews() ([]Review, error) {
	document, err := project.Document()
	if err != nil {
		return nil, err
	}
	return document.Reviews, nil
}

// Review returns the review with id, or the first review when id is empty.
func (project *Project) Review(id string) (Review, error) {
	document, err := project.Document()
	if err != nil {
		return Review{}, err
	}
	index := document.ReviewIndex(id)
	if index < 0 {
		return Review{}, fmt.Errorf("%q: %w", id, ErrReviewNotFound)
	}
	return document.Reviews[index], nil
}
