// Package main is the entry point for stageboot.
package main

import (
	"context"
	"os"

	"stageboot/bootstrap"
	"stageboot/cmd"
)

func main() {
	root := cmd.NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		// Bootstrap failures already printed their FATAL banner.
		if !bootstrap.IsBootstrapFailure(err) {
			cmd.PrintError(os.Stderr, err)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
