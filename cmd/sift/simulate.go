package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/sift/core/settings"
	"github.com/davidahmann/sift/core/simulate"
)

type simulateOutput struct {
	OK        bool   `json:"ok"`
	ProjectID string `json:"project_id"`
	ReviewID  string `json:"review_id"`
	Priors    int    `json:"priors"`
	Labeled   int    `json:"labeled"`
	StateFile string `json:"state_file"`
}

type simulateFlags struct {
	stateFile         string
	classifier        string
	queryStrategy     string
	balanceStrategy   string
	featureExtraction string
	priorIdx          []int
	priorRecordID     []int64
	nPriorIncluded    int
	nPriorExcluded    int
	stopIf            string
	nInstances        int
	seed              uint64
	settingsFile      string
}

func newSimulateCommand(app *cli) *cobra.Command {
	flags := &simulateFlags{}
	command := &cobra.Command{
		Use:   "simulate <dataset>",
		Short: "Replay a fully labeled dataset and write the review as a bundle",
		Long: `Replay a fully labeled dataset through a new review in a simulate-mode
project and export the result to --state-file.

Settings are applied in order: defaults, --config-file, then explicit flags.

Examples:
  sift simulate labeled.csv -s run.asreview
  sift simulate labeled.csv -s run.asreview --prior-record-id 12,40 --stop-if -1`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runSimulate(cmd, args[0], flags)
		},
	}
	f := command.Flags()
	f.StringVarP(&flags.stateFile, "state-file", "s", "", "output bundle, must end in .asreview")
	f.StringVarP(&flags.classifier, "model", "m", "", "classifier name")
	f.StringVarP(&flags.queryStrategy, "query-strategy", "q", "", "query strategy name")
	f.StringVarP(&flags.balanceStrategy, "balance-strategy", "b", "", "balance strategy name")
	f.StringVarP(&flags.featureExtraction, "feature-extraction", "e", "", "feature extraction name")
	f.IntSliceVar(&flags.priorIdx, "prior-idx", nil, "row positions of prior knowledge records")
	f.Int64SliceVar(&flags.priorRecordID, "prior-record-id", nil, "record ids of prior knowledge records")
	f.IntVar(&flags.nPriorIncluded, "n-prior-included", settings.DefaultNPriorIncluded, "number of sampled relevant priors")
	f.IntVar(&flags.nPriorExcluded, "n-prior-excluded", settings.DefaultNPriorExcluded, "number of sampled irrelevant priors")
	f.StringVar(&flags.stopIf, "stop-if", "min", "stop rule: min, -1 for never, or a number of queries")
	f.IntVar(&flags.nInstances, "n-instances", settings.DefaultNInstances, "records labeled per query")
	f.Uint64Var(&flags.seed, "seed", 0, "seed for sampled prior knowledge")
	f.StringVar(&flags.settingsFile, "config-file", "", "review settings file (.json, .yaml or .toml)")
	return command
}

func (app *cli) runSimulate(cmd *cobra.Command, datasetPath string, flags *simulateFlags) error {
	if strings.TrimSpace(flags.stateFile) == "" {
		return usageError(fmt.Errorf("--state-file is required"))
	}
	reviewSettings, err := flags.settings(cmd)
	if err != nil {
		return usageError(err)
	}
	summary, err := simulate.Simulate(cmd.Context(), simulate.Request{
		DatasetPath: datasetPath,
		StateFile:   flags.stateFile,
		Settings:    reviewSettings,
		Priors: simulate.PriorSelection{
			Indices:   flags.priorIdx,
			RecordIDs: flags.priorRecordID,
			Seed:      flags.seed,
		},
		Options:      app.projectOptions(),
		DisableCache: !app.config.Cache.Enabled,
	})
	if err != nil {
		return err
	}
	output := simulateOutput{
		OK:        true,
		ProjectID: summary.ProjectID,
		ReviewID:  summary.ReviewID,
		Priors:    summary.Priors,
		Labeled:   summary.Labeled,
		StateFile: summary.StateFile,
	}
	if app.jsonOutput {
		app.exitCode = app.writeJSONOutput(output, exitOK)
		return nil
	}
	app.printf("simulation %s: %d priors, %d records labeled, written to %s\n",
		output.ProjectID, output.Priors, output.Labeled, output.StateFile)
	return nil
}

// settings layers the settings file and the flags the user set over the
// defaults.
func (flags *simulateFlags) settings(cmd *cobra.Command) (settings.ReviewSettings, error) {
	reviewSettings := settings.Default()
	if flags.settingsFile != "" {
		merged, err := reviewSettings.MergeFile(flags.settingsFile)
		if err != nil {
			return settings.ReviewSettings{}, err
		}
		reviewSettings = merged
	}
	changed := cmd.Flags().Changed
	if changed("model") {
		reviewSettings.Classifier = flags.classifier
	}
	if changed("query-strategy") {
		reviewSettings.QueryStrategy = flags.queryStrategy
	}
	if changed("balance-strategy") {
		reviewSettings.BalanceStrategy = flags.balanceStrategy
	}
	if changed("feature-extraction") {
		reviewSettings.FeatureExtraction = flags.featureExtraction
	}
	if changed("n-prior-included") {
		reviewSettings.NPriorIncluded = flags.nPriorIncluded
	}
	if changed("n-prior-excluded") {
		reviewSettings.NPriorExcluded = flags.nPriorExcluded
	}
	if changed("n-instances") {
		reviewSettings.NInstances = flags.nInstances
	}
	if changed("stop-if") {
		stopIf, err := parseStopIf(flags.stopIf)
		if err != nil {
			return settings.ReviewSettings{}, err
		}
		reviewSettings.StopIf = stopIf
	}
	if err := reviewSettings.Validate(); err != nil {
		return settings.ReviewSettings{}, err
	}
	return reviewSettings, nil
}

func parseStopIf(value string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "min":
		return settings.StopIfMin, nil
	case "never":
		return settings.StopIfNever, nil
	}
	stopIf, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || stopIf < settings.StopIfNever {
		return 0, fmt.Errorf("invalid --stop-if %q: use min, -1 or a positive number", value)
	}
	return stopIf, nil
}
