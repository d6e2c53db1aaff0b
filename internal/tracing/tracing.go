// Package tracing installs the OpenTelemetry tracer provider used by the
// engine and the HTTP layer.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops a provider installed by Setup.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup configures OpenTelemetry with the stdout exporter. output selects the
// destination: "" disables tracing, "stdout" writes to os.Stdout and anything
// else is a file path.
func Setup(serviceName, serviceVersion, output string) (Shutdown, error) {
	if output == "" {
		return noop, nil
	}

	var (
		w        io.Writer = os.Stdout
		closeOut           = noop
	)
	if output != "stdout" {
		f, err := os.Create(output)
		if err != nil {
			return nil, err
		}
		w = f
		closeOut = func(context.Context) error { return f.Close() }
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		_ = closeOut(context.Background())
		return nil, err
	}
	tp, err := NewProvider(serviceName, serviceVersion, exporter)
	if err != nil {
		_ = closeOut(context.Background())
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := closeOut(ctx); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// NewProvider builds a provider that hands every finished span to exporter.
func NewProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

// SetStatusFromHTTPCode sets a span's status from an HTTP response code.
func SetStatusFromHTTPCode(span trace.Span, code int) {
	switch {
	case code >= 100 && code < 400:
		span.SetStatus(codes.Ok, "")
	case code >= 400 && code < 500:
		span.SetStatus(codes.Error, "client error")
	case code >= 500:
		span.SetStatus(codes.Error, "server error")
	default:
		span.SetStatus(codes.Unset, "")
	}
}
