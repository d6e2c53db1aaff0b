package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/regygeorge/nx-workflow/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API, metrics endpoint and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
			}
			if cmd.Flags().Changed("definitions") {
				cfg.DefinitionsDir, _ = cmd.Flags().GetString("definitions")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("listen", "", "TCP listen address (overrides listen_addr)")
	cmd.Flags().String("definitions", "", "directory of process documents deployed at startup")
	return cmd
}

// runServe blocks until ctx is cancelled or the listener fails.
func runServe(ctx context.Context, cfg Config) error {
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Error("shutdown", slog.String("error", err.Error()))
		}
	}()

	deps := api.Deps{
		Engine:    a.engine,
		Loader:    a.loader,
		Scheduler: a.scheduler,
		Hub:       a.hub,
		Logger:    a.logger,
	}
	if a.registry != nil {
		deps.Metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("nxflow listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("version", version),
			slog.Int("processes", a.engine.DeployedCount()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("scheduler stop", slog.String("error", err.Error()))
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
