package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check process documents without deploying them",
		Long:  `Decodes, validates and compiles each document and reports errors and warnings. Delegate names are not checked.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := definition.NewLoader(nil)
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), loader, args)
		},
	}
}

var errInvalid = errors.New("validation failed")

func runValidate(out io.Writer, loader *definition.Loader, paths []string) error {
	failed := 0
	for _, path := range paths {
		res, err := loader.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n", path)
			printIssues(out, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s, %d nodes)\n", path, res.Definition.ID, len(res.Definition.Nodes()))
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "    warning %s: %s\n", w.Path, w.Message)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d documents", errInvalid, failed, len(paths))
	}
	return nil
}

// printIssues lists every issue carried by a validation error.
func printIssues(out io.Writer, err error) {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if issues, ok := fe.Details["errors"].([]schema.ValidationIssue); ok && len(issues) > 0 {
			for _, is := range issues {
				fmt.Fprintf(out, "    error %s: %s\n", is.Path, is.Message)
			}
			return
		}
	}
	fmt.Fprintf(out, "    error: %v\n", err)
}
