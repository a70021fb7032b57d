package main

import (
	"github.com/spf13/cobra"

	"github.com/davidahmann/sift/core/doctor"
)

func newDoctorCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the projects root for stale locks, leftovers and broken projects",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := doctor.Run(doctor.Options{
				ProjectsRoot:    app.config.ProjectsRoot,
				ProducerVersion: version,
				Project:         app.projectOptions(),
			})
			exitCode := exitOK
			if result.Status == doctor.StatusFail {
				exitCode = exitInternalFailure
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(result, exitCode)
				return nil
			}
			for _, check := range result.Checks {
				app.printf("%-18s %-4s %s\n", check.Name, check.Status, check.Message)
			}
			for _, fix := range result.FixCommands {
				app.printf("fix: %s\n", fix)
			}
			app.printf("%s\n", result.Summary)
			app.exitCode = exitCode
			return nil
		},
	}
}
