package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nxflow",
		Short:         "nxflow runs BPMN-style business processes",
		Long:          `nxflow deploys process definitions written in YAML or JSON and drives their instances through user tasks, service tasks and gateways.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "settings file (default: ~/.nxflow/settings.json)")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newValidateCmd(),
		newDiagramCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// configFromFlags loads the configuration named by --config.
func configFromFlags(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path, os.Environ())
}
