// Package engine runs process instances: it deploys definitions, advances tokens
// until every branch waits or ends, and manages the user tasks that instances
// wait on.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/regygeorge/nx-workflow/internal/handlers"
	"github.com/regygeorge/nx-workflow/internal/logging"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/internal/streaming"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// DefaultMaxPasses bounds the passes of one advancement run.
const DefaultMaxPasses = 10000

const tracerName = "github.com/regygeorge/nx-workflow/internal/engine"

// Engine deploys process definitions and advances their instances.
type Engine struct {
	store      store.Store
	dispatcher *handlers.Dispatcher
	defs       *Definitions
	fsm        *TaskFSM
	events     *store.EventLog
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	inputs     InputValidator
	hub        streaming.EventHub
	maxPasses  int
}

// InputValidator checks start variables against a definition's input schema.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics makes the engine record into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer replaces the tracer taken from the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMaxPasses bounds the passes of one advancement run. Values < 1 keep the default.
func WithMaxPasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPasses = n
		}
	}
}

// WithInputValidator enables input-schema checks on Start.
func WithInputValidator(v InputValidator) Option {
	return func(e *Engine) { e.inputs = v }
}

// WithDefinitions injects the definition cache, e.g. to share it with a loader.
func WithDefinitions(d *Definitions) Option {
	return func(e *Engine) { e.defs = d }
}

// New creates an engine over s. A nil dispatcher gets empty registries and the
// default HTTP handler.
func New(s store.Store, dispatcher *handlers.Dispatcher, opts ...Option) *Engine {
	if dispatcher == nil {
		dispatcher = handlers.NewDispatcher(nil, nil, nil)
	}
	e := &Engine{
		store:      s,
		dispatcher: dispatcher,
		defs:       NewDefinitions(),
		fsm:        NewTaskFSM(),
		events:     store.NewEventLog(s),
		logger:     slog.Default(),
		maxPasses:  DefaultMaxPasses,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// TaskFSM exposes the task state machine so callers can hook transitions.
func (e *Engine) TaskFSM() *TaskFSM { return e.fsm }

// Dispatcher returns the service-task dispatcher.
func (e *Engine) Dispatcher() *handlers.Dispatcher { return e.dispatcher }

// Deploy caches def, replacing any definition with the same id, and persists a
// record of it with the original source text.
func (e *Engine) Deploy(ctx context.Context, def *process.Definition, source string) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is required")
	}
	if _, err := def.Start(); err != nil {
		return err
	}
	if err := e.dispatcher.Validate(def); err != nil {
		return err
	}
	rec := &store.Process{
		ID:         def.ID,
		Name:       def.Name,
		Source:     source,
		DeployedAt: time.Now().UTC(),
	}
	if err := e.store.SaveProcess(ctx, rec); err != nil {
		return err
	}
	e.defs.Put(def)
	e.logger.Info("process deployed",
		slog.String("process_id", def.ID),
		slog.Int("nodes", len(def.Nodes())))
	return nil
}

// CompileFunc turns stored source text back into a definition.
type CompileFunc func(source string) (*process.Definition, error)

// Reload compiles every persisted process record and caches the result. Records
// that fail to compile are skipped and reported together in the returned error.
func (e *Engine) Reload(ctx context.Context, compile CompileFunc) (int, error) {
	recs, err := e.store.ListProcesses(ctx)
	if err != nil {
		return 0, err
	}
	var errs error
	loaded := 0
	for _, rec := range recs {
		if rec.Source == "" {
			continue
		}
		def, err := compile(rec.Source)
		if err == nil {
			err = e.dispatcher.Validate(def)
		}
		if err != nil {
			errs = multierr.Append(errs, schema.NewErrorf(schema.ErrCodeConfiguration,
				"reload process %s: %v", rec.ID, err).WithCause(err))
			continue
		}
		e.defs.Put(def)
		loaded++
	}
	e.logger.Info("processes reloaded", slog.Int("loaded", loaded), slog.Int("stored", len(recs)))
	return loaded, errs
}

// DeployedIDs lists the ids of the cached definitions.
func (e *Engine) DeployedIDs() []string { return e.defs.IDs() }

// DeployedCount returns the number of deployed processes.
func (e *Engine) DeployedCount() int { return e.defs.Len() }

// Definition returns the cached definition for id.
func (e *Engine) Definition(id string) (*process.Definition, error) {
	def, ok := e.defs.Get(id)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "process %q is not deployed", id)
	}
	return def, nil
}

// Process returns the persisted record of a deployed process, source included.
func (e *Engine) Process(ctx context.Context, id string) (*store.Process, error) {
	return e.store.GetProcess(ctx, id)
}

// Start creates an instance of processID, places a token on its start node and
// advances it until it waits or completes.
func (e *Engine) Start(ctx context.Context, processID, businessKey string, vars map[string]any) (*InstanceView, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Start", trace.WithAttributes(
		attribute.String("process.id", processID),
		attribute.String("business_key", businessKey),
	))
	defer span.End()

	view, err := e.start(ctx, processID, businessKey, vars)
	e.endSpan(span, err)
	return view, err
}

func (e *Engine) start(ctx context.Context, processID, businessKey string, vars map[string]any) (*InstanceView, error) {
	def, err := e.Definition(processID)
	if err != nil {
		e.metrics.failed(schema.CodeOf(err))
		return nil, err
	}
	startNode, err := def.Start()
	if err != nil {
		e.metrics.failed(schema.CodeOf(err))
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	if e.inputs != nil && len(def.InputSchema) > 0 {
		if err := e.inputs.ValidateInput(vars, def.InputSchema); err != nil {
			e.metrics.failed(schema.CodeOf(err))
			return nil, err
		}
	}

	var (
		instanceID string
		recorded   []*store.Event
	)
	stats := newRunStats()
	err = e.store.WithTx(ctx, func(ctx context.Context, port store.Port) error {
		tx := &recordingPort{Port: port}
		defer func() { recorded = tx.events }()

		inst, err := tx.CreateInstance(ctx, def.ID, businessKey, vars)
		if err != nil {
			return err
		}
		instanceID = inst.ID
		ctx = logging.WithInstanceID(ctx, inst.ID)

		if err := emit(ctx, tx, inst.ID, "", "", schema.EventInstanceStarted, map[string]any{
			"process_id":   def.ID,
			"business_key": businessKey,
		}); err != nil {
			return err
		}
		tok, err := tx.CreateToken(ctx, inst.ID, startNode.ID)
		if err != nil {
			return err
		}
		if err := emit(ctx, tx, inst.ID, startNode.ID, tok.ID, schema.EventTokenCreated, nil); err != nil {
			return err
		}
		return e.advance(ctx, tx, def, inst.ID, stats)
	})
	if err != nil {
		e.metrics.failed(schema.CodeOf(err))
		e.logger.Error("start failed",
			slog.String("process_id", processID),
			slog.String("error", err.Error()))
		return nil, err
	}
	e.metrics.started(def.ID)
	e.metrics.record(def.ID, stats)
	e.publish(ctx, def.ID, recorded)

	ctx = logging.WithInstanceID(ctx, instanceID)
	logging.LogWith(ctx, e.logger).Info("instance started",
		slog.String("process_id", def.ID),
		slog.Bool("completed", stats.completed))
	return e.Snapshot(ctx, instanceID)
}

// CompleteUserTask merges updates into the task's instance, completes the task
// and places a token on the target of every outgoing flow whose condition holds,
// then advances the instance.
func (e *Engine) CompleteUserTask(ctx context.Context, taskID string, updates map[string]any) (*InstanceView, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompleteUserTask", trace.WithAttributes(
		attribute.String("task.id", taskID),
	))
	defer span.End()

	view, err := e.completeUserTask(ctx, taskID, updates)
	e.endSpan(span, err)
	return view, err
}

func (e *Engine) completeUserTask(ctx context.Context, taskID string, updates map[string]any) (*InstanceView, error) {
	var (
		instanceID string
		processID  string
		recorded   []*store.Event
	)
	stats := newRunStats()
	err := e.store.WithTx(ctx, func(ctx context.Context, port store.Port) error {
		tx := &recordingPort{Port: port}
		defer func() { recorded = tx.events }()

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.Open() {
			return schema.NewErrorf(schema.ErrCodeConflict, "task %s is already %s", task.ID, task.State).
				WithNode(task.NodeID)
		}
		inst, err := tx.GetInstance(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		instanceID, processID = inst.ID, inst.ProcessID
		ctx = logging.WithNodeID(logging.WithInstanceID(ctx, inst.ID), task.NodeID)

		def, err := e.Definition(inst.ProcessID)
		if err != nil {
			return err
		}
		node, ok := def.Node(task.NodeID)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeConfiguration, "node %s not found in process %s", task.NodeID, def.ID)
		}

		vars, err := mergeVariables(ctx, tx, inst.ID, node.ID, updates)
		if err != nil {
			return err
		}
		flows := SelectAll(node.Outgoing, vars)
		if len(flows) == 0 {
			return noMatchingFlow(node)
		}

		if err := e.fsm.Transition(ctx, tx, task, task.State, schema.TaskStateCompleted); err != nil {
			return err
		}
		if err := tx.CompleteTask(ctx, task.ID); err != nil {
			return err
		}
		for _, f := range flows {
			tok, err := tx.CreateToken(ctx, inst.ID, f.To)
			if err != nil {
				return err
			}
			if err := emit(ctx, tx, inst.ID, f.To, tok.ID, schema.EventTokenCreated, map[string]any{
				"flow": f.ID,
				"from": node.ID,
			}); err != nil {
				return err
			}
		}
		return e.advance(ctx, tx, def, inst.ID, stats)
	})
	if err != nil {
		e.metrics.failed(schema.CodeOf(err))
		e.logger.Error("complete task failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return nil, err
	}
	e.metrics.taskCompleted(processID)
	e.metrics.record(processID, stats)
	e.publish(ctx, processID, recorded)

	ctx = logging.WithInstanceID(ctx, instanceID)
	logging.LogWith(ctx, e.logger).Info("task completed",
		slog.String("task_id", taskID),
		slog.Bool("completed", stats.completed))
	return e.Snapshot(ctx, instanceID)
}

// History replays the event log of an instance.
func (e *Engine) History(ctx context.Context, instanceID string) (*store.History, error) {
	if _, err := e.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.events.ReplayEvents(ctx, instanceID)
}

func (e *Engine) endSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		span.SetAttributes(attribute.String("error.code", fe.Code))
	}
}
