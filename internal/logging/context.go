package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	instanceIDKey ctxKey = iota
	nodeIDKey
	tokenIDKey
)

// correlation lists the context keys copied onto log records, in output order.
var correlation = []struct {
	key  ctxKey
	attr string
}{
	{instanceIDKey, "instance_id"},
	{nodeIDKey, "node_id"},
	{tokenIDKey, "token_id"},
}

// WithInstanceID returns a context carrying the process instance id.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// WithNodeID returns a context carrying the id of the node being dispatched.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WithTokenID returns a context carrying the id of the token being advanced.
func WithTokenID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tokenIDKey, id)
}

// InstanceID extracts the instance id from the context, or "" if absent.
func InstanceID(ctx context.Context) string { return value(ctx, instanceIDKey) }

// NodeID extracts the node id from the context, or "" if absent.
func NodeID(ctx context.Context) string { return value(ctx, nodeIDKey) }

// TokenID extracts the token id from the context, or "" if absent.
func TokenID(ctx context.Context) string { return value(ctx, tokenIDKey) }

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, c := range correlation {
		if v := value(ctx, c.key); v != "" {
			out = append(out, slog.String(c.attr, v))
		}
	}
	return out
}

// LogWith returns a logger enriched with the correlation ids found in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects the context's correlation
// ids into every record, so logger.InfoContext(ctx, ...) carries them without
// callers repeating attributes.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
