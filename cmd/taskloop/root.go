package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, injected at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "taskloop",
		Short: "Frame-driven asynchronous task manager",
		Long: `taskloop runs asynchronous tasks on a cooperative scheduler that is
advanced once per frame, and exposes them over HTTP.

Examples:
  # Serve the HTTP API with a config file
  taskloop serve --config taskloop.yaml

  # Run a short batch of tasks and print the task table
  taskloop demo`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newDemoCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "taskloop\n")
			fmt.Fprintf(out, "  Version:    %s\n", Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		},
	}
}
