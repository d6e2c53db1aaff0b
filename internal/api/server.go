// Package api exposes the engine over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/scheduler"
	"github.com/regygeorge/nx-workflow/internal/streaming"
	"github.com/regygeorge/nx-workflow/internal/tracing"
)

// Deps holds the dependencies for the API server. Scheduler, Hub and Metrics
// are optional.
type Deps struct {
	Engine    *engine.Engine
	Loader    *definition.Loader
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server serves the REST API.
type Server struct {
	deps   Deps
	tracer trace.Tracer
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps, tracer: otel.Tracer("github.com/regygeorge/nx-workflow/internal/api")}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/processes", func(r chi.Router) {
		r.Post("/", s.handleDeploy)
		r.Get("/", s.handleListProcesses)
		r.Get("/{id}", s.handleGetProcess)
		r.Get("/{id}/diagram", s.handleDiagram)
		r.Post("/{id}/instances", s.handleStart)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Get("/{id}", s.handleGetInstance)
		r.Get("/{id}/tasks", s.handleInstanceTasks)
		r.Get("/{id}/history", s.handleHistory)
		if s.deps.Hub != nil {
			r.Get("/{id}/events", s.handleInstanceEvents)
		}
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Get("/claimable", s.handleClaimable)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/complete", s.handleComplete)
		r.Post("/{id}/claim", s.handleClaim)
		r.Post("/{id}/unclaim", s.handleUnclaim)
		r.Put("/{id}/due-date", s.handleDueDate)
	})

	if s.deps.Hub != nil {
		r.Get("/events", s.handleEvents)
	}
	if s.deps.Scheduler != nil {
		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules/{id}/run", s.handleRunSchedule)
	}
	return r
}

// observe wraps every request in a server span and logs its outcome.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		tracing.SetStatusFromHTTPCode(span, status)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.deps.Logger.Log(ctx, level, "http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processes": s.deps.Engine.DeployedCount(),
	})
}
