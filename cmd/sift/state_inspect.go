package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/project"
	"github.com/davidahmann/sift/core/state"
)

type stateInspectOutput struct {
	OK        bool     `json:"ok"`
	ProjectID string   `json:"project_id"`
	ReviewID  string   `json:"review_id"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
}

func newStateInspectCommand(app *cli) *cobra.Command {
	var reviewID string
	command := &cobra.Command{
		Use:   "state-inspect <project-id|file.asreview> <table>",
		Short: "Dump a table of a review's labeling history",
		Long: `Dump one table of the labeling history of a review. The project is
either an id below the projects root, a project directory or an .asreview
bundle, which is unpacked to a scratch directory for reading.

Tables: ` + strings.Join(state.Tables, ", "),
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStateInspect(cmd.Context(), args[0], args[1], reviewID)
		},
	}
	command.Flags().StringVar(&reviewID, "review", "", "review id (default: first review)")
	return command
}

func (app *cli) runStateInspect(ctx context.Context, ref, table, reviewID string) error {
	handle, cleanup, err := app.resolveProject(ref)
	if err != nil {
		return err
	}
	defer cleanup()

	document, err := handle.Document()
	if err != nil {
		return err
	}
	review, err := handle.Review(reviewID)
	if err != nil {
		return err
	}
	store, err := state.Open(ctx, handle.Path(), review.ID)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			app.logger.Warn("close review state", zap.Error(closeErr))
		}
	}()
	dump, err := store.Dump(ctx, table)
	if err != nil {
		return err
	}

	if app.jsonOutput {
		app.exitCode = app.writeJSONOutput(stateInspectOutput{
			OK:        true,
			ProjectID: document.ID,
			ReviewID:  review.ID,
			Table:     dump.Name,
			Columns:   dump.Columns,
			Rows:      dump.Rows,
		}, exitOK)
		return nil
	}
	writer := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, strings.Join(dump.Columns, "\t"))
	for _, row := range dump.Rows {
		cells := make([]string, len(row))
		for index, value := range row {
			if value == nil {
				cells[index] = "NULL"
				continue
			}
			cells[index] = fmt.Sprint(value)
		}
		_, _ = fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}
	return writer.Flush()
}

// resolveProject opens ref as a project, unpacking it first when it is an
// .asreview bundle. cleanup removes the unpacked copy.
func (app *cli) resolveProject(ref string) (*project.Project, func(), error) {
	info, statErr := os.Stat(ref)
	if statErr != nil || info.IsDir() || filepath.Ext(ref) != project.ArchiveExtension {
		handle, err := app.openProject(ref)
		return handle, func() {}, err
	}
	scratch, err := os.MkdirTemp("", "sift-inspect-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create inspect scratch directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(scratch); err != nil {
			app.logger.Warn("remove inspect scratch directory", zap.String("path", scratch), zap.Error(err))
		}
	}
	handle, err := project.Import(ref, scratch, project.ImportOptions{}, app.projectOptions())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return handle, cleanup, nil
}
