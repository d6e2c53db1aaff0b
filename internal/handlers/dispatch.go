package handlers

import (
	"strings"

	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Route names the branch of the dispatch chain that served a service task.
type Route string

const (
	RouteType     Route = "type"
	RouteHTTP     Route = "http"
	RouteDelegate Route = "delegate"
	RouteNoop     Route = "noop"
)

// Dispatcher picks the handler for a service task: a handler registered for
// the node's task type, then the built-in HTTP call, then the delegate named by
// the node's "delegate" property, and finally a no-op.
type Dispatcher struct {
	Types     *Registry
	Delegates *Registry
	HTTP      Handler
}

// NewDispatcher wires a dispatcher. Nil registries are replaced by empty ones
// and a nil HTTP handler by one with default settings.
func NewDispatcher(types, delegates *Registry, httpHandler Handler) *Dispatcher {
	if types == nil {
		types = NewRegistry()
	}
	if delegates == nil {
		delegates = NewRegistry()
	}
	if httpHandler == nil {
		httpHandler = NewHTTPHandler(HTTPConfig{})
	}
	return &Dispatcher{Types: types, Delegates: delegates, HTTP: httpHandler}
}

// Resolve returns the handler for node and the route that selected it. A
// delegate that is named but not registered is an UNKNOWN_HANDLER error.
func (d *Dispatcher) Resolve(node *process.Node) (Handler, Route, error) {
	if h, ok := d.Types.Get(node.TaskType); ok {
		return h, RouteType, nil
	}
	if IsHTTPTask(node.Properties) {
		return d.HTTP, RouteHTTP, nil
	}
	if _, name := schema.DelegateProperty(node.Properties); name != "" {
		h, ok := d.Delegates.Get(name)
		if !ok {
			return nil, "", schema.NewErrorf(schema.ErrCodeUnknownHandler, "delegate %q is not registered", name).
				WithNode(node.ID)
		}
		return h, RouteDelegate, nil
	}
	return Noop, RouteNoop, nil
}

// Validate checks that every delegate named by the definition's service tasks
// is registered. Tasks served by a type handler or the HTTP call never reach
// their delegate and are skipped.
func (d *Dispatcher) Validate(def *process.Definition) error {
	var missing []string
	var nodes []string
	for _, n := range def.ServiceTasks() {
		if d.Types.Has(n.TaskType) || IsHTTPTask(n.Properties) {
			continue
		}
		_, name := schema.DelegateProperty(n.Properties)
		if name == "" || d.Delegates.Has(name) {
			continue
		}
		missing = append(missing, name)
		nodes = append(nodes, n.ID)
	}
	if len(missing) == 0 {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeUnknownHandler, "process %q references unregistered delegates: %s",
		def.ID, strings.Join(missing, ", ")).
		WithDetails(map[string]any{"delegates": missing, "nodes": nodes})
}
