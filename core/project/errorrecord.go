package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/fsx"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

// ErrorTypeName names the concrete type of err without package or pointer,
// e.g. "PathError" for *fs.PathError.
func ErrorTypeName(err error) string {
	if err == nil {
		return ""
	}
	errorType := reflect.TypeOf(err)
	for errorType.Kind() == reflect.Pointer {
		errorType = errorType.Elem()
	}
	if errorType.Name() == "" {
		return errorType.String()
	}
	return errorType.Name()
}

// SetError puts the review in error status and, when saveMessage is set,
// records cause in error.json. The caller still owns cause and is expected
// to return it.
func (project *Project) SetError(reviewID string, cause error, saveMessage bool) error {
	if _, err := project.updateReview(reviewID, func(review *Review) error {
		review.Status = schemaproject.StatusError
		return nil
	}); err != nil {
		return err
	}
	if !saveMessage || cause == nil {
		return nil
	}
	record := ErrorRecord{
		Message:  cause.Error(),
		Type:     ErrorTypeName(cause),
		Datetime: project.options.Now(),
	}
	if err := fsx.WriteJSONAtomic(project.errorPath(), record, 0o600); err != nil {
		return fmt.Errorf("write error record: %w", err)
	}
	project.logger.Error("review failed",
		zap.String("review_id", reviewID), zap.String("error_type", record.Type), zap.Error(cause))
	return nil
}

// RunReview calls fn and, when it fails, puts the review in error status
// with an error record before returning fn's error. A failure to record
// the error is logged and does not replace fn's error.
func (project *Project) RunReview(reviewID string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if recordErr := project.SetError(reviewID, err, true); recordErr != nil {
		project.logger.Error("record review failure",
			zap.String("review_id", reviewID), zap.NamedError("cause", err), zap.Error(recordErr))
	}
	return err
}

// RemoveError deletes error.json if present and sets the review to status.
func (project *Project) RemoveError(reviewID string, status ReviewStatus) error {
	if !status.Valid() || status == schemaproject.StatusError {
		return fmt.Errorf("%w: cannot clear an error to status %q", ErrInvalidTransition, status)
	}
	if err := os.Remove(project.errorPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear error record: %w", err)
	}
	_, err := project.updateReview(reviewID, func(review *Review) error {
		review.Status = status
		return nil
	})
	return err
}

// ErrorRecord returns the stored error record; ok is false when none exists.
func (project *Project) ErrorRecord() (record ErrorRecord, ok bool, err error) {
	// #nosec G304 -- path is inside the project tree.
	raw, err := os.ReadFile(project.errorPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrorRecord{}, false, nil
		}
		return ErrorRecord{}, false, fmt.Errorf("read error record: %w", err)
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return ErrorRecord{}, false, fmt.Errorf("parse error record: %w", err)
	}
	return record, true, nil
}

func (project *Project) errorPath() string {
	return filepath.Join(project.path, ErrorFileName)
}
