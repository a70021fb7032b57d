// Package simulate replays a fully labeled dataset through a review so the
// resulting labeling history can be benchmarked or inspected.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/dataset"
	"github.com/davidahmann/sift/core/logging"
	"github.com/davidahmann/sift/core/project"
	"github.com/davidahmann/sift/core/settings"
	"github.com/davidahmann/sift/core/state"
)

var ErrUnlabeledRecord = errors.New("record has no label to replay")

// Run is one review handed to an engine. Priors are already in the state
// store when the engine starts.
type Run struct {
	Project  *project.Project
	ReviewID string
	Dataset  *dataset.Dataset
	Settings settings.ReviewSettings
}

// Engine labels the pool of a review and writes the decisions to its state
// store.
type Engine interface {
	Review(ctx context.Context, run Run) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, run Run) error

func (fn EngineFunc) Review(ctx context.Context, run Run) error {
	return fn(ctx, run)
}

// Replay labels the pool in record order using the dataset labels, in
// batches of n_instances, until the stop rule of the settings is met. It
// trains no model; the strategy names are stored as metadata only.
type Replay struct {
	Logger *zap.Logger
	Now    func() time.Time
}

func (replay Replay) Review(ctx context.Context, run Run) error {
	logger := logging.OrNop(replay.Logger).With(zap.String("review_id", run.ReviewID))
	now := replay.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if run.Project == nil || run.Dataset == nil {
		return fmt.Errorf("replay needs a project and a dataset")
	}
	if err := run.Settings.Validate(); err != nil {
		return fmt.Errorf("replay settings: %w", err)
	}

	store, err := state.Open(ctx, run.Project.Path(), run.ReviewID)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close review state", zap.Error(closeErr))
		}
	}()

	pool, err := store.Pool(ctx)
	if err != nil {
		return err
	}
	labeled, err := store.Results(ctx)
	if err != nil {
		return err
	}
	found := 0
	for _, result := range labeled {
		if result.Label == dataset.LabelIncluded {
			found++
		}
	}
	relevant := 0
	for _, label := range run.Dataset.Labels {
		if label == dataset.LabelIncluded {
			relevant++
		}
	}

	queried := 0
	for len(pool) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stopped(run.Settings.StopIf, queried, found, relevant) {
			break
		}
		size := min(run.Settings.NInstances, len(pool))
		if run.Settings.StopIf > 0 {
			size = min(size, run.Settings.StopIf-queried)
		}
		batch := make([]state.Result, 0, size)
		for _, recordID := range pool[:size] {
			record, err := run.Dataset.Record(recordID)
			if err != nil {
				return err
			}
			if record.Label != dataset.LabelIncluded && record.Label != dataset.LabelExcluded {
				return fmt.Errorf("record %d: %w", recordID, ErrUnlabeledRecord)
			}
			if record.Label == dataset.LabelIncluded {
				found++
			}
			batch = append(batch, state.Result{
				RecordID:          recordID,
				Label:             record.Label,
				Classifier:        run.Settings.Classifier,
				QueryStrategy:     run.Settings.QueryStrategy,
				BalanceStrategy:   run.Settings.BalanceStrategy,
				FeatureExtraction: run.Settings.FeatureExtraction,
				TrainingSet:       len(labeled) + queried,
				LabelingTime:      now(),
			})
		}
		if err := store.AddResults(ctx, batch); err != nil {
			return fmt.Errorf("write replay results: %w", err)
		}
		queried += len(batch)
		pool = slices.Delete(pool, 0, len(batch))
	}
	logger.Info("replay finished",
		zap.Int("queried", queried), zap.Int("found", found), zap.Int("relevant", relevant), zap.Int("remaining", len(pool)))
	return nil
}

// stopped applies the stop_if rule: -1 never stops early, 0 stops once
// every relevant record is found, n stops after n queried records.
func stopped(stopIf, queried, found, relevant int) bool {
	switch {
	case stopIf == settings.StopIfMin:
		return found >= relevant
	case stopIf > 0:
		return queried >= stopIf
	default:
		return false
	}
}
