package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stageboot/storage"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect stage migrations",
	}
	cmd.AddCommand(newMigrateApplyCmd(opts))
	cmd.AddCommand(newMigrateStatusCmd(opts))
	return cmd
}

func newMigrateApplyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply every pending migration without starting services",
		Long: `Run the bootstrap up to and including the AppInit migrations, building
core and application services as the stages require, then tear down
without starting anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator(opts, cmd, true)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Applying migrations..."
				s.Start()
			}

			_, runErr := orch.Run(runContext(cmd))
			if s != nil {
				s.Stop()
			}
			if runErr != nil {
				return runErr
			}

			records, err := orch.Runner().Applied(runContext(cmd))
			if err != nil {
				_ = orch.Shutdown()
				return err
			}
			if err := orch.Shutdown(); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}

			if !opts.quiet {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ All stages applied (%d migrations recorded)\n", len(records))
			}
			return nil
		},
	}
}

func newMigrateStatusCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (want table, json or yaml)", output)
			}

			bctx, err := opts.buildContext()
			if err != nil {
				return err
			}

			status, err := loadStatus(cmd, bctx.Paths().StatePath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(status)
			default:
				printStatusTable(out, status)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

// loadStatus reads migration status without creating anything: a missing
// state store reports every builtin migration as pending.
func loadStatus(cmd *cobra.Command, statePath string) (*storage.Status, error) {
	if _, err := os.Stat(statePath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat state store: %w", err)
		}
		warningColor.Fprintf(cmd.ErrOrStderr(), "No state store at %s; nothing has been applied\n", statePath)
		runner := storage.NewRunner(nil, nil)
		if err := storage.RegisterBuiltinMigrations(runner); err != nil {
			return nil, err
		}
		return runner.UnappliedStatus(), nil
	}

	store, err := storage.Open(statePath, nil)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runner := storage.NewRunner(store, nil)
	if err := storage.RegisterBuiltinMigrations(runner); err != nil {
		return nil, err
	}
	return runner.Status(runContext(cmd))
}
