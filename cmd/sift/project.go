package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/sift/core/archive"
	"github.com/davidahmann/sift/core/project"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

type projectOutput struct {
	OK          bool                 `json:"ok"`
	Operation   string               `json:"operation"`
	Path        string               `json:"path,omitempty"`
	Project     *project.Document    `json:"project,omitempty"`
	Projects    []project.Document   `json:"projects,omitempty"`
	ErrorRecord *project.ErrorRecord `json:"error_record,omitempty"`
	Review      *project.Review      `json:"review,omitempty"`
	Data        *dataOutput          `json:"data,omitempty"`
}

type bundleOutput struct {
	OK        bool            `json:"ok"`
	Operation string          `json:"operation"`
	Path      string          `json:"path"`
	Entries   []archive.Entry `json:"entries"`
}

type dataOutput struct {
	Records  int    `json:"records"`
	Labeled  int    `json:"labeled"`
	Cache    string `json:"cache"`
	Reason   string `json:"reason,omitempty"`
	Filename string `json:"filename"`
}

func newProjectCommand(app *cli) *cobra.Command {
	command := &cobra.Command{
		Use:   "project",
		Short: "Create, inspect, list, export and import projects",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(
		newProjectCreateCommand(app),
		newProjectInfoCommand(app),
		newProjectListCommand(app),
		newProjectAddDatasetCommand(app),
		newProjectDataCommand(app),
		newProjectClearErrorCommand(app),
		newProjectExportCommand(app),
		newProjectImportCommand(app),
		newProjectBundleCommand(app),
	)
	return command
}

func newProjectCreateCommand(app *cli) *cobra.Command {
	var (
		mode        string
		name        string
		description string
		authors     string
		tags        []string
	)
	command := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an empty project below the projects root",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedMode, err := schemaproject.ParseMode(mode)
			if err != nil {
				return usageError(fmt.Errorf("%w: %v", project.ErrInvalidMode, err))
			}
			if strings.ContainsAny(args[0], `/\`) {
				return usageError(fmt.Errorf("project id %q must not contain a path separator", args[0]))
			}
			handle, err := project.Create(filepath.Join(app.config.ProjectsRoot, args[0]), project.CreateOptions{
				ID:          args[0],
				Mode:        parsedMode,
				Name:        name,
				Description: description,
				Authors:     authors,
				Tags:        tags,
			}, app.projectOptions())
			if err != nil {
				return err
			}
			return app.writeProject("create", handle)
		},
	}
	f := command.Flags()
	f.StringVar(&mode, "mode", string(schemaproject.ModeOracle), "project mode: oracle|explore|simulate")
	f.StringVar(&name, "name", "", "display name (default: id)")
	f.StringVar(&description, "description", "", "project description")
	f.StringVar(&authors, "authors", "", "project authors")
	f.StringSliceVar(&tags, "tag", nil, "project tag, repeatable")
	return command
}

func newProjectInfoCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id|path>",
		Short: "Show the control document and the last review error",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := app.openProject(args[0])
			if err != nil {
				return err
			}
			return app.writeProject("info", handle)
		},
	}
}

func newProjectListCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the projects below the projects root",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			documents, err := project.List(app.config.ProjectsRoot, app.projectOptions())
			if err != nil {
				return err
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(projectOutput{OK: true, Operation: "list", Projects: documents}, exitOK)
				return nil
			}
			for _, document := range documents {
				app.printf("%s\t%s\t%d reviews\t%s\n", document.ID, document.Mode, len(document.Reviews), document.Name)
			}
			return nil
		},
	}
}

func newProjectAddDatasetCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add-dataset <id|path> <file>",
		Short: "Copy a dataset into a project and start its first review",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := app.openProject(args[0])
			if err != nil {
				return err
			}
			filename, err := handle.CopyDataset(args[1])
			if err != nil {
				return err
			}
			review, err := handle.AddDataset(cmd.Context(), filename)
			if err != nil {
				return err
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(projectOutput{OK: true, Operation: "add-dataset", Path: handle.Path(), Review: &review}, exitOK)
				return nil
			}
			app.printf("dataset %s added, review %s\n", filename, review.ID)
			return nil
		},
	}
}

func newProjectDataCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "data <id|path>",
		Short: "Load the project dataset through the cache and summarize it",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := app.openProject(args[0])
			if err != nil {
				return err
			}
			document, err := handle.Document()
			if err != nil {
				return err
			}
			lookup := handle.LookupCache(false)
			data, err := handle.ReadData(app.readDataOptions())
			if err != nil {
				return err
			}
			labeled, _ := data.Labeled()
			summary := dataOutput{
				Records:  data.Len(),
				Labeled:  len(labeled),
				Cache:    lookup.Status.String(),
				Reason:   lookup.Reason,
				Filename: document.DatasetPath,
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(projectOutput{OK: true, Operation: "data", Path: handle.Path(), Data: &summary}, exitOK)
				return nil
			}
			app.printf("%s: %d records, %d labeled, cache %s\n", summary.Filename, summary.Records, summary.Labeled, summary.Cache)
			return nil
		},
	}
}

func newProjectClearErrorCommand(app *cli) *cobra.Command {
	var (
		reviewID string
		status   string
	)
	command := &cobra.Command{
		Use:   "clear-error <id|path>",
		Short: "Remove the error record of a failed review and reset its status",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := app.openProject(args[0])
			if err != nil {
				return err
			}
			if err := handle.RemoveError(reviewID, project.ReviewStatus(status)); err != nil {
				return err
			}
			return app.writeProject("clear-error", handle)
		},
	}
	f := command.Flags()
	f.StringVar(&reviewID, "review", "", "review id (default: first review)")
	f.StringVar(&status, "status", string(schemaproject.StatusReview), "status to resume the review in")
	return command
}

func newProjectExportCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id|path> <dest.asreview>",
		Short: "Write a project to an .asreview bundle",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := app.openProject(args[0])
			if err != nil {
				return err
			}
			if err := handle.Export(args[1]); err != nil {
				return err
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(projectOutput{OK: true, Operation: "export", Path: args[1]}, exitOK)
				return nil
			}
			app.printf("exported to %s\n", args[1])
			return nil
		},
	}
}

func newProjectImportCommand(app *cli) *cobra.Command {
	var reassignID bool
	command := &cobra.Command{
		Use:   "import <bundle.asreview>",
		Short: "Unpack a bundle below the projects root",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := project.Import(args[0], app.config.ProjectsRoot,
				project.ImportOptions{ReassignID: reassignID}, app.projectOptions())
			if err != nil {
				return err
			}
			return app.writeProject("import", handle)
		},
	}
	command.Flags().BoolVar(&reassignID, "reassign-id", false, "give the imported project a new id")
	return command
}

func newProjectBundleCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <bundle.asreview>",
		Short: "List the files of a bundle with their sha256 digests",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := project.BundleEntries(args[0])
			if err != nil {
				return err
			}
			if app.jsonOutput {
				app.exitCode = app.writeJSONOutput(bundleOutput{OK: true, Operation: "bundle", Path: args[0], Entries: entries}, exitOK)
				return nil
			}
			for _, entry := range entries {
				app.printf("%s\t%d\t%s\n", entry.SHA256, entry.Size, entry.Path)
			}
			return nil
		},
	}
}

func (app *cli) writeProject(operation string, handle *project.Project) error {
	document, err := handle.Document()
	if err != nil {
		return err
	}
	record, hasError, err := handle.ErrorRecord()
	if err != nil {
		return err
	}
	if app.jsonOutput {
		output := projectOutput{OK: true, Operation: operation, Path: handle.Path(), Project: &document}
		if hasError {
			output.ErrorRecord = &record
		}
		app.exitCode = app.writeJSONOutput(output, exitOK)
		return nil
	}
	app.printf("id:       %s\nname:     %s\nmode:     %s\npath:     %s\n", document.ID, document.Name, document.Mode, handle.Path())
	if document.DatasetPath != "" {
		app.printf("dataset:  %s\n", document.DatasetPath)
	}
	for _, review := range document.Reviews {
		app.printf("review:   %s %s\n", review.ID, review.Status)
	}
	for _, matrix := range document.FeatureMatrices {
		app.printf("features: %s\n", matrix.ID)
	}
	if hasError {
		app.printf("error:    %s: %s\n", record.Type, record.Message)
	}
	return nil
}
