package engine

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/internal/handlers"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/internal/store"
)

// graph wraps a process.Builder so tests can declare definitions inline.
type graph struct {
	t *testing.T
	b *process.Builder
}

func newGraph(t *testing.T, id string) *graph {
	t.Helper()
	return &graph{t: t, b: process.NewBuilder(id, "")}
}

func (g *graph) start(id string) *graph {
	require.NoError(g.t, g.b.Start(id))
	return g
}

func (g *graph) end(id string) *graph {
	require.NoError(g.t, g.b.End(id))
	return g
}

func (g *graph) user(id string, props map[string]string) *graph {
	require.NoError(g.t, g.b.UserTask(id, "", props))
	return g
}

func (g *graph) service(id, taskType string, props map[string]string) *graph {
	require.NoError(g.t, g.b.ServiceTask(id, "", taskType, props))
	return g
}

func (g *graph) exclusive(id string) *graph {
	require.NoError(g.t, g.b.Exclusive(id))
	return g
}

func (g *graph) parallel(id string) *graph {
	require.NoError(g.t, g.b.Parallel(id))
	return g
}

func (g *graph) flow(from, to string, cond process.Condition) *graph {
	require.NoError(g.t, g.b.Connect(from, to, cond))
	return g
}

func (g *graph) build() *process.Definition {
	def, err := g.b.Build()
	require.NoError(g.t, err)
	return def
}

// harness bundles an engine with its store and a recording type registry.
type harness struct {
	engine *Engine
	store  *store.MemoryStore
	types  *handlers.Registry
	logs   *bytes.Buffer

	mu    sync.Mutex
	calls []string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemoryStore(),
		types: handlers.NewRegistry(),
		logs:  &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]Option{WithLogger(logger)}, opts...)
	h.engine = New(h.store, handlers.NewDispatcher(h.types, nil, nil), opts...)
	return h
}

// record registers a type handler that notes each call and applies set to the variables.
func (h *harness) record(taskType string, set map[string]any) {
	h.types.RegisterFunc(taskType, func(_ context.Context, exec *handlers.Execution) error {
		h.mu.Lock()
		h.calls = append(h.calls, exec.NodeID)
		h.mu.Unlock()
		for k, v := range set {
			exec.Variables[k] = v
		}
		return nil
	})
}

func (h *harness) called() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *harness) deploy(t *testing.T, def *process.Definition) {
	t.Helper()
	require.NoError(t, h.engine.Deploy(context.Background(), def, ""))
}

func (h *harness) openTasks(t *testing.T, instanceID string) []*store.Task {
	t.Helper()
	tasks, err := h.engine.OpenTasks(context.Background(), instanceID)
	require.NoError(t, err)
	return tasks
}

func taskAt(t *testing.T, tasks []*store.Task, nodeID string) *store.Task {
	t.Helper()
	for _, task := range tasks {
		if task.NodeID == nodeID {
			return task
		}
	}
	require.Failf(t, "task not found", "no open task at node %s", nodeID)
	return nil
}
