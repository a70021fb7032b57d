package simulate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/logging"
	"github.com/davidahmann/sift/core/project"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
	"github.com/davidahmann/sift/core/settings"
	"github.com/davidahmann/sift/core/state"
)

var ErrOutputExists = errors.New("simulation output already exists")

var classifications = []struct {
	target error
	code   string
}{
	{ErrPriorConflict, "prior_conflict"},
	{ErrPriorNotFound, "prior_not_found"},
	{ErrNotEnoughPriors, "not_enough_priors"},
}

// Classify categorizes simulation input errors and defers everything else
// to project.Classify.
func Classify(err error) error {
	if err == nil || coreerrors.CategoryOf(err) != "" {
		return err
	}
	if errors.Is(err, ErrOutputExists) {
		return coreerrors.Wrap(err, coreerrors.CategoryAlreadyExists, "output_exists", "choose a new --state-file", false)
	}
	for _, classification := range classifications {
		if errors.Is(err, classification.target) {
			return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, classification.code, "", false)
		}
	}
	return project.Classify(err)
}

// Request describes one simulation: a labeled dataset file, the review
// settings and the bundle to write.
type Request struct {
	DatasetPath string
	// StateFile is the .asreview bundle written on success.
	StateFile string
	Settings  settings.ReviewSettings
	Priors    PriorSelection
	// Engine defaults to Replay.
	Engine       Engine
	Options      project.Options
	DisableCache bool
}

type Summary struct {
	ProjectID string
	ReviewID  string
	Priors    int
	Labeled   int
	StateFile string
}

// Simulate builds a simulate-mode project in <StateFile>.tmp, runs the
// engine over it and exports the result to StateFile. The scratch project
// is removed after a successful export. When the review fails the error is
// recorded in the scratch project, which is kept for inspection.
func Simulate(ctx context.Context, request Request) (Summary, error) {
	logger := logging.OrNop(request.Options.Logger)
	if filepath.Ext(request.StateFile) != project.ArchiveExtension {
		return Summary{}, fmt.Errorf("%w: state file must end in %s", project.ErrInvalidExportPath, project.ArchiveExtension)
	}
	if _, err := os.Stat(request.StateFile); err == nil {
		return Summary{}, fmt.Errorf("%s: %w", request.StateFile, ErrOutputExists)
	}
	if err := request.Settings.Validate(); err != nil {
		return Summary{}, fmt.Errorf("simulation settings: %w", err)
	}
	engine := request.Engine
	if engine == nil {
		engine = Replay{Logger: logger, Now: request.Options.Now}
	}

	scratch := request.StateFile + ".tmp"
	id := strings.TrimSuffix(filepath.Base(request.StateFile), project.ArchiveExtension)
	simulation, err := project.Create(scratch, project.CreateOptions{ID: id, Mode: schemaproject.ModeSimulate}, request.Options)
	if err != nil {
		return Summary{}, err
	}
	summary, err := run(ctx, simulation, engine, request)
	if err != nil {
		logger.Warn("simulation failed, scratch project kept", zap.String("path", scratch), zap.Error(err))
		return Summary{}, err
	}
	if err := os.RemoveAll(scratch); err != nil {
		logger.Warn("remove simulation scratch project", zap.String("path", scratch), zap.Error(err))
	}
	summary.ProjectID = id
	summary.StateFile = request.StateFile
	return summary, nil
}

func run(ctx context.Context, simulation *project.Project, engine Engine, request Request) (Summary, error) {
	filename, err := simulation.CopyDataset(request.DatasetPath)
	if err != nil {
		return Summary{}, err
	}
	review, err := simulation.AddDataset(ctx, filename)
	if err != nil {
		return Summary{}, err
	}
	if err := simulation.SetReviewSettings(review.ID, request.Settings); err != nil {
		return Summary{}, err
	}
	if _, err := simulation.UpdateReview(review.ID, project.ReviewUpdate{Status: schemaproject.StatusReview}); err != nil {
		return Summary{}, err
	}

	readOptions := project.DefaultReadDataOptions()
	if request.DisableCache {
		readOptions = project.ReadDataOptions{}
	}
	data, err := simulation.ReadData(readOptions)
	if err != nil {
		return Summary{}, err
	}
	priors := request.Priors
	if len(priors.Indices) == 0 && len(priors.RecordIDs) == 0 {
		priors.NIncluded = request.Settings.NPriorIncluded
		priors.NExcluded = request.Settings.NPriorExcluded
	}
	ids, labels, err := SelectPriors(data, priors)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{ReviewID: review.ID, Priors: len(ids)}
	err = simulation.RunReview(review.ID, func() error {
		if err := pushPriors(ctx, simulation, review.ID, ids, labels); err != nil {
			return err
		}
		return engine.Review(ctx, Run{Project: simulation, ReviewID: review.ID, Dataset: data, Settings: request.Settings})
	})
	if err != nil {
		if coreerrors.CategoryOf(err) == "" {
			err = coreerrors.Wrap(err, coreerrors.CategoryLifecycle, "review_failed",
				"the review is in error status; see error.json in the scratch project", false)
		}
		return Summary{}, err
	}

	labeled, err := countResults(ctx, simulation, review.ID)
	if err != nil {
		return Summary{}, err
	}
	summary.Labeled = labeled - summary.Priors
	if _, err := simulation.MarkReviewFinished(review.ID); err != nil {
		return Summary{}, err
	}
	simulation.CleanTmpFiles()
	if err := simulation.Export(request.StateFile); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func pushPriors(ctx context.Context, simulation *project.Project, reviewID string, ids []int64, labels []int) error {
	store, err := state.Open(ctx, simulation.Path(), reviewID)
	if err != nil {
		return err
	}
	if err := store.AddLabelingData(ctx, ids, labels, nil, true); err != nil {
		_ = store.Close()
		return err
	}
	return store.Close()
}

func countResults(ctx context.Context, simulation *project.Project, reviewID string) (int, error) {
	store, err := state.Open(ctx, simulation.Path(), reviewID)
	if err != nil {
		return 0, err
	}
	results, err := store.Results(ctx)
	closeErr := store.Close()
	if err != nil {
		return 0, err
	}
	return len(results), closeErr
}
