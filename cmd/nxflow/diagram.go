package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/internal/diagram"
)

func newDiagramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Render a process document as a diagram",
		Long:  `Renders the document as ascii, mermaid, outline, svg or png. Binary formats need --out.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			outPath, _ := cmd.Flags().GetString("out")

			format, err := diagram.ParseFormat(formatName)
			if err != nil {
				return err
			}
			if format.Binary() && outPath == "" {
				return fmt.Errorf("format %s writes binary data; use --out", format)
			}

			loader, err := definition.NewLoader(nil)
			if err != nil {
				return err
			}
			res, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(res.Definition, nil)
			if err != nil {
				return err
			}
			data, err := diagram.Render(model, format)
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "ascii", "output format: ascii, mermaid, outline, svg, png")
	cmd.Flags().StringP("out", "o", "", "write to this file instead of stdout")
	return cmd
}
