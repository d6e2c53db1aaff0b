package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/handlers"
	"github.com/regygeorge/nx-workflow/internal/logging"
	"github.com/regygeorge/nx-workflow/internal/scheduler"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/internal/streaming"
	"github.com/regygeorge/nx-workflow/internal/tracing"
)

// app is the wired runtime shared by serve and mcp.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	engine    *engine.Engine
	loader    *definition.Loader
	registry  *prometheus.Registry
	hub       *streaming.MemoryHub
	scheduler *scheduler.Scheduler
	closers   []func(context.Context) error
}

// newApp opens the store, reloads persisted processes, deploys the
// definitions directory and registers configured schedules.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logging.New(cfg.LogLevel, cfg.LogFormat, logOut)}

	shutdownTracing, err := tracing.Setup("nxflow", version, cfg.TraceOutput)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	if err := a.openStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	delegates := builtinDelegates(a.logger)
	dispatcher := handlers.NewDispatcher(nil, delegates,
		handlers.NewHTTPHandler(handlers.HTTPConfig{DefaultTimeout: cfg.HTTPTimeout}))

	a.loader, err = definition.NewLoader(delegates, definition.WithDefaultLanguage(cfg.ExpressionLanguage))
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.hub = streaming.NewMemoryHub()
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithHub(a.hub),
		engine.WithMaxPasses(cfg.MaxPasses),
		engine.WithInputValidator(a.loader.Validator()),
	}
	if cfg.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, engine.WithMetrics(engine.NewMetrics(a.registry)))
	}
	a.engine = engine.New(a.store, dispatcher, opts...)

	n, err := a.engine.Reload(ctx, a.loader.CompileSource)
	if err != nil {
		a.logger.Warn("some stored processes failed to reload", slog.String("error", err.Error()))
	}
	a.logger.Debug("stored processes reloaded", slog.Int("count", n))

	if cfg.DefinitionsDir != "" {
		if err := a.deployDir(ctx, cfg.DefinitionsDir); err != nil {
			a.logger.Warn("some definitions failed to deploy", slog.String("error", err.Error()))
		}
	}

	a.scheduler = scheduler.New(a.engine, a.logger, scheduler.WithInterval(cfg.ScheduleInterval))
	for _, sched := range cfg.Schedules {
		if err := a.scheduler.Add(sched); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("schedule %s: %w", sched.ID, err)
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DBPath == memoryDB {
		a.store = store.NewMemoryStore()
		return nil
	}
	s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return fmt.Errorf("migrate %s: %w", a.cfg.DBPath, err)
	}
	a.store = s
	a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	return nil
}

// deployDir deploys every document in dir. Failed files do not stop the rest.
func (a *app) deployDir(ctx context.Context, dir string) error {
	results, errs := a.loader.LoadDir(dir)
	for _, res := range results {
		if err := a.engine.Deploy(ctx, res.Definition, res.Source); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Path, err))
			continue
		}
		for _, w := range res.Warnings {
			a.logger.Warn("definition warning",
				slog.String("file", res.Path),
				slog.String("path", w.Path),
				slog.String("message", w.Message))
		}
	}
	return errs
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs error
	for _, c := range slices.Backward(a.closers) {
		errs = multierr.Append(errs, c(ctx))
	}
	a.closers = nil
	return errs
}

// builtinDelegates registers the delegates every deployment can reference.
func builtinDelegates(logger *slog.Logger) *handlers.Registry {
	r := handlers.NewRegistry()
	r.Register("noop", handlers.Noop)
	r.RegisterFunc("log", func(ctx context.Context, exec *handlers.Execution) error {
		keys := slices.Sorted(maps.Keys(exec.Variables))
		logging.LogWith(ctx, logger).Info("service task reached",
			slog.String("node_id", exec.NodeID),
			slog.String("message", exec.Property("message")),
			slog.Any("variables", keys))
		return nil
	})
	return r
}
