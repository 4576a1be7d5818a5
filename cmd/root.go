// Package cmd provides the stageboot command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stageboot/bootstrap"
	"stageboot/config"
	"stageboot/logging"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	dataDir    string
	envPrefix  string
	overrides  []string
	noColor    bool
	quiet      bool

	// environ replaces os.Environ() in tests.
	environ []string
}

// NewRootCmd creates the stageboot command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "stageboot",
		Short: "Staged application bootstrap",
		Long: `stageboot brings a process up in fixed phases: it prepares working
directories, applies PreInit, CoreInit and AppInit migrations between
building core and application services, starts the services and runs
startup tasks. Any failure tears down everything created so far.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file path (YAML)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Base data directory (overrides every other source)")
	flags.StringVar(&opts.envPrefix, "env-prefix", config.DefaultEnvPrefix, "Environment variable prefix")
	flags.StringArrayVar(&opts.overrides, "set", nil, "Override a setting, key=value (repeatable)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-essential output")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// buildContext layers the config file, environment and command line.
func (o *rootOptions) buildContext() (*config.BootstrapContext, error) {
	overrides, err := config.ParseOverrides(o.overrides)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		overrides["data_dir"] = o.dataDir
	}
	return bootstrap.BuildContext(config.Options{
		ConfigFile: o.configFile,
		EnvPrefix:  o.envPrefix,
		Environ:    o.environ,
		Overrides:  overrides,
	})
}

// initLogger installs the process logger described by bctx. The returned
// release function tears it down again.
func initLogger(bctx *config.BootstrapContext, out io.Writer) (logging.Logger, func() error, error) {
	settings := bctx.Settings()
	opts := logging.Options{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		Output: out,
	}
	if settings.Log.File {
		opts.File = filepath.Join(bctx.Paths().LogDir, "stageboot.log")
	}

	logger, err := logging.Init(opts)
	if errors.Is(err, logging.ErrAlreadyInitialized) {
		// Embedded use: whoever installed it owns its teardown.
		return logging.L(), func() error { return nil }, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, logging.Teardown, nil
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case config.IsConfigError(err):
		return 2
	case bootstrap.IsBootstrapFailure(err):
		return 3
	default:
		return 1
	}
}

// PrintError writes err in the CLI error style.
func PrintError(w io.Writer, err error) {
	errorColor.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}
