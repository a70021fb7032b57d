package project

import (
	"errors"

	"github.com/davidahmann/sift/core/archive"
	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/lock"
	"github.com/davidahmann/sift/core/state"
)

var (
	ErrProjectExists         = errors.New("project already exists")
	ErrProjectNotFound       = errors.New("project not found")
	ErrConflict              = errors.New("project document changed concurrently")
	ErrInvalidMode           = errors.New("invalid project mode")
	ErrInvalidDocument       = errors.New("project document failed validation")
	ErrImmutableField        = errors.New("project field cannot be changed")
	ErrDatasetNotFound       = errors.New("dataset not found")
	ErrLabelRequirement      = errors.New("dataset labels do not meet the project mode requirement")
	ErrInvalidMatrix         = errors.New("invalid feature matrix")
	ErrFeatureMatrixNotFound = errors.New("feature matrix not found")
	ErrReviewNotFound        = errors.New("review not found")
	ErrReviewExists          = errors.New("review already exists")
	ErrInvalidTransition     = errors.New("invalid review status transition")
	ErrInvalidExportPath     = errors.New("invalid export destination")
	ErrInvalidArchive        = errors.New("invalid project archive")
)

var classifications = []struct {
	target   error
	category coreerrors.Category
	code     string
	hint     string
}{
	{ErrProjectExists, coreerrors.CategoryAlreadyExists, "project_exists", "choose another project id or remove the existing project"},
	{ErrReviewExists, coreerrors.CategoryAlreadyExists, "review_exists", "use a new review id"},
	{ErrProjectNotFound, coreerrors.CategoryNotFound, "project_not_found", "check the project path or id"},
	{ErrDatasetNotFound, coreerrors.CategoryNotFound, "dataset_not_found", "add a dataset to the project first"},
	{ErrFeatureMatrixNotFound, coreerrors.CategoryNotFound, "feature_matrix_not_found", ""},
	{ErrReviewNotFound, coreerrors.CategoryNotFound, "review_not_found", "list reviews with sift project info"},
	{state.ErrStateNotFound, coreerrors.CategoryNotFound, "state_not_found", ""},
	{ErrConflict, coreerrors.CategoryStateContention, "document_conflict", "retry the operation"},
	{lock.ErrTimeout, coreerrors.CategoryStateContention, "lock_timeout", "another process holds the project lock; retry"},
	{ErrInvalidMode, coreerrors.CategoryInvalidInput, "invalid_mode", "use oracle, explore or simulate"},
	{ErrInvalidDocument, coreerrors.CategoryInvalidInput, "invalid_document", ""},
	{ErrImmutableField, coreerrors.CategoryInvalidInput, "immutable_field", ""},
	{ErrLabelRequirement, coreerrors.CategoryInvalidInput, "label_requirement", ""},
	{ErrInvalidMatrix, coreerrors.CategoryInvalidInput, "invalid_matrix", ""},
	{ErrInvalidTransition, coreerrors.CategoryInvalidInput, "invalid_transition", ""},
	{ErrInvalidExportPath, coreerrors.CategoryInvalidInput, "invalid_export_path", "export to a path ending in " + ArchiveExtension},
	{ErrInvalidArchive, coreerrors.CategoryInvalidInput, "invalid_archive", ""},
	{archive.ErrNotArchive, coreerrors.CategoryInvalidInput, "invalid_archive", ""},
	{archive.ErrUnsafeEntry, coreerrors.CategoryInvalidInput, "unsafe_archive_entry", ""},
	{state.ErrUnknownTable, coreerrors.CategoryInvalidInput, "unknown_table", ""},
}

// Classify attaches a core/errors category to the sentinel errors of this
// package. Already classified and unknown errors are returned unchanged.
func Classify(err error) error {
	if err == nil || coreerrors.CategoryOf(err) != "" {
		return err
	}
	for _, classification := range classifications {
		if errors.Is(err, classification.target) {
			return coreerrors.Wrap(err, classification.category, classification.code, classification.hint,
				coreerrors.DefaultRetryable(classification.category))
		}
	}
	return err
}
