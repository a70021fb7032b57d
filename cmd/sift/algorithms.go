package main

import (
	"github.com/spf13/cobra"

	"github.com/davidahmann/sift/core/models"
)

type algorithmsOutput struct {
	OK                bool     `json:"ok"`
	Classifiers       []string `json:"classifiers"`
	QueryStrategies   []string `json:"query_strategies"`
	BalanceStrategies []string `json:"balance_strategies"`
	FeatureExtraction []string `json:"feature_extraction"`
}

func newAlgorithmsCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List the strategy names accepted in review settings",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			output := algorithmsOutput{
				OK:                true,
				Classifiers:       models.ListClassifiers(),
				QueryStrategies:   models.ListQueryStrategies(),
				BalanceStrategies: models.ListBalanceStrategies(),
				FeatureExtraction: models.ListFeatureExtraction(),
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(output, exitOK)
				return nil
			}
			sections := []struct {
				title string
				names []string
				def   string
			}{
				{"classifiers", output.Classifiers, models.DefaultClassifier},
				{"query strategies", output.QueryStrategies, models.DefaultQueryStrategy},
				{"balance strategies", output.BalanceStrategies, models.DefaultBalanceStrategy},
				{"feature extraction", output.FeatureExtraction, models.DefaultFeatureExtraction},
			}
			for _, section := range sections {
				app.printf("%s:\n", section.title)
				for _, name := range section.names {
					marker := ""
					if name == section.def {
						marker = " (default)"
					}
					app.printf("  %s%s\n", name, marker)
				}
			}
			return nil
		},
	}
}
