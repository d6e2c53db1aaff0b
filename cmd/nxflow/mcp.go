package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	nxmcp "github.com/regygeorge/nx-workflow/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the nxflow tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			if cfg.TraceOutput == "stdout" {
				cfg.TraceOutput = ""
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					a.logger.Error("shutdown", slog.String("error", err.Error()))
				}
			}()

			if err := a.scheduler.Start(ctx); err != nil {
				return err
			}
			defer a.scheduler.Stop()

			srv := nxmcp.NewServer(nxmcp.Deps{
				Engine:  a.engine,
				Loader:  a.loader,
				Version: version,
				Logger:  a.logger,
			})
			a.logger.Info("nxflow mcp server ready", slog.String("version", version))
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
