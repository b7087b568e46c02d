// Package tracing adapts OpenTelemetry spans to a small interface the
// rest of the engine depends on, so components never import the otel
// SDK directly. Grounded on the span-start/end-callback shape of
// r3e-network-service_layer's pkg/tracing/otel.go.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts a span and returns a function that ends it, recording
// err (if non-nil) as the span's status.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

// noopTracer is used when tracing is not configured.
type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Noop is the Tracer used when otelEndpoint is not configured.
var Noop Tracer = noopTracer{}

// otelTracer wraps an OpenTelemetry TracerProvider's Tracer.
type otelTracer struct {
	tracer oteltrace.Tracer
}

// New wraps provider (or the global provider if nil) as a Tracer.
func New(provider oteltrace.TracerProvider, instrumentationName string) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if instrumentationName == "" {
		instrumentationName = "fleetwatch-sentinel"
	}
	return &otelTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(mapToAttrs(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func mapToAttrs(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}
