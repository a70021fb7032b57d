package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/appconfig"
	"github.com/davidahmann/sift/core/lock"
	"github.com/davidahmann/sift/core/logging"
	"github.com/davidahmann/sift/core/project"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitReviewFailed    = 2
	exitNotFound        = 3
	exitConflict        = 4
	exitInvalidInput    = 6
)

// cli carries what every command needs once the root command has loaded
// configuration.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
	jsonOutput bool

	config appconfig.Config
	logger *zap.Logger
	// exitCode is set by commands that report their own failure.
	exitCode int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(arguments []string, stdout, stderr io.Writer) int {
	app := &cli{stdout: stdout, stderr: stderr, logger: zap.NewNop()}
	root := newRootCommand(app)
	root.SetArgs(arguments)
	root.SetOut(stdout)
	root.SetErr(stderr)

	defer func() {
		_ = logging.Sync(app.logger)
	}()
	if err := root.ExecuteContext(context.Background()); err != nil {
		return app.fail("", err)
	}
	return app.exitCode
}

func newRootCommand(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "sift",
		Short: "Manage screening projects and replay reviews",
		Long: `sift creates and manages screening projects: a dataset, its reviews and
their labeling history. Projects are exchanged as .asreview bundles.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q", args[0]))
			}
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default ~/.config/sift/config.yaml)")
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "emit JSON output")

	root.AddCommand(
		newSimulateCommand(app),
		newStateInspectCommand(app),
		newProjectCommand(app),
		newAlgorithmsCommand(app),
		newDoctorCommand(app),
	)
	return root
}

// exactArgs is cobra.ExactArgs with the failure classified as bad input.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(cobra.ExactArgs(n)(cmd, args))
	}
}

func (app *cli) setup() error {
	config, err := appconfig.Load(app.configPath)
	if err != nil {
		return usageError(err)
	}
	if level := strings.TrimSpace(app.logLevel); level != "" {
		config.Log.Level = level
	}
	logger, err := logging.New(logging.Config{Level: config.Log.Level, Format: config.Log.Format})
	if err != nil {
		return usageError(err)
	}
	app.config = config
	app.logger = logger
	return nil
}

func (app *cli) projectOptions() project.Options {
	return project.Options{
		Logger:  app.logger,
		Version: version,
		Lock:    lock.Options{Timeout: app.config.LockTimeout},
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (app *cli) readDataOptions() project.ReadDataOptions {
	if !app.config.Cache.Enabled {
		return project.ReadDataOptions{}
	}
	return project.DefaultReadDataOptions()
}

// openProject resolves a project id below the projects root, or a path to
// a project directory.
func (app *cli) openProject(ref string) (*project.Project, error) {
	if strings.ContainsAny(ref, `/\`) || ref == "." {
		return project.Open(ref, app.projectOptions())
	}
	return project.OpenByID(app.config.ProjectsRoot, ref, app.projectOptions())
}

func (app *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(app.stdout, format, args...)
}
