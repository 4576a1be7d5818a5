package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stageboot/bootstrap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap every phase and run until interrupted",
		Long: `Run every bootstrap phase, then wait for SIGINT or SIGTERM and shut
down. A failing phase tears down what was created, prints the phase and
cause on stderr and exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, err := newOrchestrator(opts, cmd, false)
			if err != nil {
				return err
			}

			if _, err := orch.Run(ctx); err != nil {
				return err
			}

			if !opts.quiet {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ stageboot is up (run %s)\n", orch.Context().RunID())
			}

			<-ctx.Done()
			if err := orch.Shutdown(); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

// newOrchestrator builds the context, installs the process logger and
// declares the default migrations and services.
func newOrchestrator(opts *rootOptions, cmd *cobra.Command, migrateOnly bool) (*bootstrap.Orchestrator, error) {
	bctx, err := opts.buildContext()
	if err != nil {
		return nil, err
	}

	logger, teardown, err := initLogger(bctx, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	orch := bootstrap.New(bctx, bootstrap.Options{
		Logger:      logger,
		Diagnostics: cmd.ErrOrStderr(),
		MigrateOnly: migrateOnly,
	})
	// Registered first so it is released last.
	orch.Track("logger", teardown)

	if err := orch.UseDefaults(); err != nil {
		_ = orch.Shutdown()
		return nil, err
	}
	return orch, nil
}

// runContext returns cmd's context, or Background when run outside Execute.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
