package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(newConfigShowCmd(opts))
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bctx, err := opts.buildContext()
			if err != nil {
				return err
			}

			view := struct {
				RunID    string            `json:"run_id" yaml:"run_id"`
				Paths    map[string]string `json:"paths" yaml:"paths"`
				Settings map[string]string `json:"settings" yaml:"settings"`
			}{
				RunID: bctx.RunID(),
				Paths: map[string]string{
					"data_dir":   bctx.Paths().DataDir,
					"state_path": bctx.Paths().StatePath,
					"log_dir":    bctx.Paths().LogDir,
					"run_dir":    bctx.Paths().RunDir,
				},
				Settings: bctx.MaskedValues(),
			}

			out := cmd.OutOrStdout()
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(view)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			default:
				return fmt.Errorf("unknown output format %q (want yaml or json)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}
