// Package handlers resolves and runs the work behind service tasks: registered
// task-type handlers, the built-in HTTP call and named delegates.
package handlers

import (
	"context"
	"strings"
)

// Execution is the input handed to a handler. Variables is the instance's
// variable map; handlers write results into it and the engine persists whatever
// they leave behind.
type Execution struct {
	InstanceID string
	NodeID     string
	TaskType   string
	Variables  map[string]any
	Properties map[string]string
}

// Property returns the trimmed value of a node property, or "".
func (e *Execution) Property(key string) string {
	return strings.TrimSpace(e.Properties[key])
}

// Handler performs the work of a service task.
type Handler interface {
	Execute(ctx context.Context, exec *Execution) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, exec *Execution) error

func (f HandlerFunc) Execute(ctx context.Context, exec *Execution) error { return f(ctx, exec) }

// Noop is the handler used when a service task has nothing bound to it.
var Noop Handler = HandlerFunc(func(context.Context, *Execution) error { return nil })
